package patient

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/go-core/log"
)

// mockStore implements Store for testing.
type mockStore struct {
	mu        sync.Mutex
	records   map[string]*Record
	order     []string
	inserts   int
	insertErr error
	updateErr error
	deleteErr error
	listErr   error

	// when set, Insert signals entered and waits for release
	entered chan struct{}
	release chan struct{}
}

func newMockStore() *mockStore {
	return &mockStore{records: make(map[string]*Record)}
}

func (m *mockStore) Insert(_ context.Context, r *Record) (*Record, error) {
	if m.entered != nil {
		m.entered <- struct{}{}
		<-m.release
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	if m.insertErr != nil {
		return nil, m.insertErr
	}
	cp := r.Clone()
	cp.CreatedAt = testNow
	cp.UpdatedAt = testNow
	m.records[cp.ID] = cp
	m.order = append(m.order, cp.ID)
	return cp.Clone(), nil
}

func (m *mockStore) List(_ context.Context) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*Record
	for _, id := range m.order {
		out = append(out, m.records[id].Clone())
	}
	return out, nil
}

func (m *mockStore) UpdateStatus(_ context.Context, id string, status Status) (*Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return nil, false, m.updateErr
	}
	r, ok := m.records[id]
	if !ok {
		return nil, false, nil
	}
	r.Status = status
	r.UpdatedAt = testNow.Add(time.Minute)
	return r.Clone(), true, nil
}

func (m *mockStore) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return false, m.deleteErr
	}
	if _, ok := m.records[id]; !ok {
		return false, nil
	}
	delete(m.records, id)
	m.order = slices.DeleteFunc(m.order, func(s string) bool { return s == id })
	return true, nil
}

// recordingNotifier captures every notice it is handed.
type recordingNotifier struct {
	mu      sync.Mutex
	notices []*Notice
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, notice *Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return n.err
}

func (n *recordingNotifier) all() []*Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.notices)
}

func newTestService(store Store, hooks ServiceHooks, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = func() time.Time { return testNow }
	}
	return NewService(store, log.Nop(), hooks, opts)
}

const janeIntake = `{"name": "Jane Doe", "age": 34, "gender": "F", "chiefComplaint": "Chest pain", "triageLevel": 2, "vitals": {"painLevel": 7}}`

func TestIntake_Accepted(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	notifier := &recordingNotifier{}
	var (
		results []string
		stats   []Stats
	)
	hooks := ServiceHooks{
		OnIntake: func(result string, _ float64) { results = append(results, result) },
		OnStats:  func(s Stats) { stats = append(stats, s) },
	}
	svc := newTestService(store, hooks, Options{Notifier: notifier})

	res, err := svc.Intake(context.Background(), []byte(janeIntake))
	if err != nil {
		t.Fatalf("Intake: %v", err)
	}
	if res.Skipped {
		t.Fatal("unexpected skip")
	}
	if res.Record == nil || res.Record.Name != "Jane Doe" {
		t.Fatalf("Record = %+v", res.Record)
	}
	if !res.Record.CreatedAt.Equal(testNow) {
		t.Errorf("CreatedAt = %v, want store-assigned %v", res.Record.CreatedAt, testNow)
	}
	// fields the store does not keep survive the merge
	if res.Record.Notes != ManualIntakeNote {
		t.Errorf("Notes = %q", res.Record.Notes)
	}

	wantMsg := "Jane Doe (34) added to queue with priority 2 and pain level 7/10"
	if res.Notice == nil || res.Notice.Kind != NoticeSuccess || res.Notice.Message != wantMsg {
		t.Errorf("Notice = %+v, want success %q", res.Notice, wantMsg)
	}
	if err := svc.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if got := notifier.all(); len(got) != 1 || *got[0] != *res.Notice {
		t.Errorf("notifier got %d notices, want the returned one", len(got))
	}

	if got := svc.Records(); len(got) != 1 || got[0].ID != res.Record.ID {
		t.Errorf("working set = %+v", got)
	}
	if !slices.Equal(results, []string{"accepted"}) {
		t.Errorf("intake hooks = %v", results)
	}
	if len(stats) != 1 || stats[0].Total != 1 || stats[0].CriticalCount != 1 {
		t.Errorf("stats hooks = %+v", stats)
	}
}

func TestIntake_InsertFailure(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	notifier := &recordingNotifier{}
	var results []string
	svc := newTestService(store, ServiceHooks{
		OnIntake: func(result string, _ float64) { results = append(results, result) },
	}, Options{Notifier: notifier})

	for _, raw := range []string{`{"name": "Ann"}`, `{"name": "Ben", "triageLevel": 1}`} {
		if _, err := svc.Intake(context.Background(), []byte(raw)); err != nil {
			t.Fatalf("seed intake: %v", err)
		}
	}
	if err := svc.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	before := svc.Records()
	beforeStats := svc.Stats()
	results = nil
	notifier.mu.Lock()
	notifier.notices = nil
	notifier.mu.Unlock()

	store.mu.Lock()
	store.insertErr = errors.New("connection refused")
	store.mu.Unlock()

	res, err := svc.Intake(context.Background(), []byte(janeIntake))
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsPersistence(err) {
		t.Errorf("error = %v, want PersistenceError", err)
	}
	if !errors.Is(err, store.insertErr) {
		t.Error("PersistenceError should unwrap to the store error")
	}

	if res == nil || res.Notice == nil {
		t.Fatal("failure must still carry a notice")
	}
	if res.Notice.Kind != NoticeFailure {
		t.Errorf("Notice.Kind = %q, want failure", res.Notice.Kind)
	}
	if res.Notice.Message != "Failed to add Jane Doe to the queue. Please try again." {
		t.Errorf("Notice.Message = %q", res.Notice.Message)
	}
	if res.Record != nil {
		t.Errorf("Record = %+v, want nil", res.Record)
	}

	if err := svc.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if got := notifier.all(); len(got) != 1 || got[0].Kind != NoticeFailure {
		t.Errorf("notices = %+v, want exactly one failure", got)
	}
	after := svc.Records()
	if len(after) != len(before) {
		t.Errorf("working set has %d records, want unchanged %d", len(after), len(before))
	}
	for i := range before {
		if i < len(after) && after[i].ID != before[i].ID {
			t.Errorf("record %d = %q, want %q", i, after[i].ID, before[i].ID)
		}
	}
	if got := svc.Stats(); got != beforeStats {
		t.Errorf("stats = %+v, want unchanged %+v", got, beforeStats)
	}
	if store.inserts != 3 {
		t.Errorf("inserts = %d, want 3 (no retry)", store.inserts)
	}
	if !slices.Equal(results, []string{"failed"}) {
		t.Errorf("intake hooks = %v", results)
	}
}

func TestIntake_ValidationFailure(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	notifier := &recordingNotifier{}
	svc := newTestService(store, ServiceHooks{}, Options{Notifier: notifier})

	res, err := svc.Intake(context.Background(), []byte(`[{"name": "Jane"}]`))
	if !IsValidation(err) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if res != nil {
		t.Errorf("result = %+v, want nil", res)
	}
	if store.inserts != 0 {
		t.Errorf("inserts = %d, want 0", store.inserts)
	}
	if err := svc.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if n := len(notifier.all()); n != 0 {
		t.Errorf("notices = %d, want 0", n)
	}
}

func TestIntake_NotifierErrorIgnored(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{err: errors.New("slack down")}
	svc := newTestService(newMockStore(), ServiceHooks{}, Options{Notifier: notifier})

	res, err := svc.Intake(context.Background(), []byte(janeIntake))
	if err != nil {
		t.Fatalf("Intake: %v", err)
	}
	if res.Record == nil {
		t.Fatal("expected record despite notifier error")
	}
	if err := svc.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}

// blockingNotifier holds every Notify call until release is closed.
type blockingNotifier struct {
	entered chan *Notice
	release chan struct{}
}

func (n *blockingNotifier) Notify(ctx context.Context, notice *Notice) error {
	n.entered <- notice
	select {
	case <-n.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestIntake_SlowNotifierDoesNotBlock(t *testing.T) {
	t.Parallel()

	notifier := &blockingNotifier{entered: make(chan *Notice, 1), release: make(chan struct{})}
	svc := newTestService(newMockStore(), ServiceHooks{}, Options{Notifier: notifier})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *IntakeResult, 1)
	go func() {
		res, err := svc.Intake(ctx, []byte(janeIntake))
		if err != nil {
			t.Errorf("Intake: %v", err)
		}
		done <- res
	}()

	var res *IntakeResult
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Intake blocked on the notifier")
	}
	if res == nil || res.Record == nil {
		t.Fatalf("result = %+v", res)
	}

	// the request context ending must not cancel delivery
	cancel()
	var got *Notice
	select {
	case got = <-notifier.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("notice never reached the notifier")
	}
	if got.Kind != NoticeSuccess || got.PatientID != res.Record.ID {
		t.Errorf("notice = %+v", got)
	}

	short, stop := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer stop()
	if err := svc.Drain(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Drain with pending notice = %v, want deadline exceeded", err)
	}

	close(notifier.release)
	if err := svc.Drain(context.Background()); err != nil {
		t.Errorf("Drain after release: %v", err)
	}
}

func TestIntake_DuplicatesAllowedByDefault(t *testing.T) {
	t.Parallel()

	svc := newTestService(newMockStore(), ServiceHooks{}, Options{})
	for range 2 {
		if _, err := svc.Intake(context.Background(), []byte(janeIntake)); err != nil {
			t.Fatalf("Intake: %v", err)
		}
	}
	if n := len(svc.Records()); n != 2 {
		t.Errorf("working set has %d records, want 2", n)
	}
}

func TestIntake_DedupInFlight(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.entered = make(chan struct{})
	store.release = make(chan struct{})
	var (
		mu      sync.Mutex
		results []string
	)
	svc := newTestService(store, ServiceHooks{
		OnIntake: func(result string, _ float64) {
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		},
	}, Options{DedupInFlight: true})

	done := make(chan error, 1)
	go func() {
		_, err := svc.Intake(context.Background(), []byte(janeIntake))
		done <- err
	}()
	<-store.entered

	// same identity with different casing while the first insert is pending
	res, err := svc.Intake(context.Background(), []byte(`{"name": "jane doe", "age": 34, "gender": "female"}`))
	if err != nil {
		t.Fatalf("second Intake: %v", err)
	}
	if !res.Skipped || res.Reason != "duplicate" {
		t.Errorf("result = %+v, want skipped duplicate", res)
	}

	close(store.release)
	if err := <-done; err != nil {
		t.Fatalf("first Intake: %v", err)
	}

	// once settled the same identity is accepted again
	go func() { <-store.entered }()
	if _, err := svc.Intake(context.Background(), []byte(janeIntake)); err != nil {
		t.Fatalf("third Intake: %v", err)
	}
	if n := len(svc.Records()); n != 2 {
		t.Errorf("working set has %d records, want 2", n)
	}

	mu.Lock()
	defer mu.Unlock()
	if !slices.Contains(results, "duplicate") {
		t.Errorf("intake hooks = %v, want a duplicate", results)
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	for _, raw := range []string{`{"name": "A", "triageLevel": 4}`, `{"name": "B", "triageLevel": 1}`} {
		rec, err := Normalize([]byte(raw), testNow)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := store.Insert(context.Background(), rec); err != nil {
			t.Fatal(err)
		}
	}

	svc := newTestService(store, ServiceHooks{}, Options{})
	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st := svc.Stats(); st.Total != 2 || st.CriticalCount != 1 {
		t.Errorf("Stats = %+v", st)
	}

	// reloading replaces rather than appends
	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if n := len(svc.Records()); n != 2 {
		t.Errorf("working set has %d records after reload, want 2", n)
	}

	store.listErr = errors.New("timeout")
	if err := svc.Load(context.Background()); !IsPersistence(err) {
		t.Errorf("Load error = %v, want PersistenceError", err)
	}
}

func TestQueue_OrderedBySeverityThenArrival(t *testing.T) {
	t.Parallel()

	svc := newTestService(newMockStore(), ServiceHooks{}, Options{})
	intakes := []string{
		`{"name": "Late Urgent", "triageLevel": 3, "arrivalTime": "2026-03-14T09:10:00Z"}`,
		`{"name": "Critical", "triageLevel": 1, "arrivalTime": "2026-03-14T09:20:00Z"}`,
		`{"name": "Early Urgent", "triageLevel": 3, "arrivalTime": "2026-03-14T08:50:00Z"}`,
		`{"name": "Minor", "triageLevel": 5, "arrivalTime": "2026-03-14T08:00:00Z"}`,
	}
	for _, raw := range intakes {
		if _, err := svc.Intake(context.Background(), []byte(raw)); err != nil {
			t.Fatalf("Intake: %v", err)
		}
	}

	var got []string
	for _, r := range svc.Queue() {
		got = append(got, r.Name)
	}
	want := []string{"Critical", "Early Urgent", "Late Urgent", "Minor"}
	if !slices.Equal(got, want) {
		t.Errorf("Queue() = %v, want %v", got, want)
	}

	// Records keeps insertion order
	if first := svc.Records()[0].Name; first != "Late Urgent" {
		t.Errorf("Records()[0] = %q, want insertion order", first)
	}
}

func TestRecords_ReturnsCopies(t *testing.T) {
	t.Parallel()

	svc := newTestService(newMockStore(), ServiceHooks{}, Options{})
	res, err := svc.Intake(context.Background(), []byte(`{"name": "A", "allergies": ["latex"]}`))
	if err != nil {
		t.Fatal(err)
	}

	res.Record.Name = "mutated"
	svc.Records()[0].Allergies[0] = "mutated"

	got, ok := svc.Get(res.Record.ID)
	if !ok {
		t.Fatal("Get: not found")
	}
	if got.Name != "A" || got.Allergies[0] != "latex" {
		t.Errorf("working set was mutated through a copy: %+v", got)
	}
}

func TestSelection(t *testing.T) {
	t.Parallel()

	svc := newTestService(newMockStore(), ServiceHooks{}, Options{})
	res, err := svc.Intake(context.Background(), []byte(janeIntake))
	if err != nil {
		t.Fatal(err)
	}
	id := res.Record.ID

	if _, ok := svc.Selected(); ok {
		t.Error("nothing should be selected initially")
	}
	if err := svc.Select("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Select(missing) = %v, want ErrNotFound", err)
	}
	if err := svc.Select(id); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel, ok := svc.Selected(); !ok || sel.ID != id {
		t.Errorf("Selected() = %+v, %v", sel, ok)
	}

	svc.ClearSelection()
	if _, ok := svc.Selected(); ok {
		t.Error("selection should be cleared")
	}

	// removing the selected patient clears the selection
	if err := svc.Select(id); err != nil {
		t.Fatal(err)
	}
	if err := svc.Remove(context.Background(), id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := svc.Selected(); ok {
		t.Error("selection should be cleared after remove")
	}
}

func TestUpdateStatus(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	svc := newTestService(store, ServiceHooks{}, Options{})
	res, err := svc.Intake(context.Background(), []byte(janeIntake))
	if err != nil {
		t.Fatal(err)
	}
	id := res.Record.ID

	if _, err := svc.UpdateStatus(context.Background(), id, "sleeping"); !IsValidation(err) {
		t.Errorf("invalid status error = %v, want ValidationError", err)
	}
	if _, err := svc.UpdateStatus(context.Background(), "missing", StatusDischarged); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing patient error = %v, want ErrNotFound", err)
	}

	rec, err := svc.UpdateStatus(context.Background(), id, StatusInTreatment)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if rec.Status != StatusInTreatment {
		t.Errorf("Status = %q", rec.Status)
	}
	if !rec.UpdatedAt.Equal(testNow.Add(time.Minute)) {
		t.Errorf("UpdatedAt = %v, want store value", rec.UpdatedAt)
	}
	if st := svc.Stats(); st.TotalWaiting != 0 || st.Total != 1 {
		t.Errorf("Stats = %+v, want nobody waiting", st)
	}

	store.updateErr = errors.New("deadlock detected")
	if _, err := svc.UpdateStatus(context.Background(), id, StatusDischarged); !IsPersistence(err) {
		t.Errorf("store failure error = %v, want PersistenceError", err)
	}
	if got, _ := svc.Get(id); got.Status != StatusInTreatment {
		t.Errorf("Status after failed update = %q, want unchanged", got.Status)
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	svc := newTestService(store, ServiceHooks{}, Options{})
	res, err := svc.Intake(context.Background(), []byte(janeIntake))
	if err != nil {
		t.Fatal(err)
	}
	id := res.Record.ID

	if err := svc.Remove(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Remove(missing) = %v, want ErrNotFound", err)
	}

	store.deleteErr = errors.New("read only")
	if err := svc.Remove(context.Background(), id); !IsPersistence(err) {
		t.Errorf("Remove error = %v, want PersistenceError", err)
	}
	if _, ok := svc.Get(id); !ok {
		t.Error("patient should remain after a failed delete")
	}

	store.deleteErr = nil
	if err := svc.Remove(context.Background(), id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := svc.Get(id); ok {
		t.Error("patient should be gone")
	}
	store.mu.Lock()
	_, stillStored := store.records[id]
	store.mu.Unlock()
	if stillStored {
		t.Error("patient should be deleted from the store")
	}
}

func TestIntake_Span(t *testing.T) {
	// Not parallel: swaps the global OTel tracer provider.

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	store := newMockStore()
	store.insertErr = errors.New("disk full")
	svc := newTestService(store, ServiceHooks{}, Options{})

	_, _ = svc.Intake(context.Background(), []byte(`{"name": "Span Check", "triageLevel": 4}`))

	var found bool
	for _, s := range exporter.GetSpans() {
		if s.Name != "patient.Intake" {
			continue
		}
		attrs := make(map[string]any)
		for _, kv := range s.Attributes {
			attrs[string(kv.Key)] = kv.Value.AsInterface()
		}
		if attrs["triagedesk.patient.triage_level"] != int64(4) {
			continue
		}
		found = true
		if s.Status.Code != codes.Error {
			t.Errorf("span status = %v, want error", s.Status.Code)
		}
		if len(s.Events) == 0 {
			t.Error("expected recorded error event")
		}
	}
	if !found {
		t.Error("no patient.Intake span recorded")
	}
}

func TestMetricsHooks(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	store := newMockStore()
	svc := newTestService(store, m.Hooks(), Options{})

	if _, err := svc.Intake(context.Background(), []byte(janeIntake)); err != nil {
		t.Fatal(err)
	}
	_, _ = svc.Intake(context.Background(), []byte(`[]`))
	store.insertErr = errors.New("boom")
	_, _ = svc.Intake(context.Background(), []byte(janeIntake))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	intakes := make(map[string]float64)
	gauges := make(map[string]float64)
	var persistSeries int
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch mf.GetName() {
			case "triagedesk_intakes_total":
				for _, lp := range metric.GetLabel() {
					if lp.GetName() == "result" {
						intakes[lp.GetValue()] = metric.GetCounter().GetValue()
					}
				}
			case "triagedesk_persist_duration_seconds":
				persistSeries++
			default:
				if metric.GetGauge() != nil {
					gauges[mf.GetName()] = metric.GetGauge().GetValue()
				}
			}
		}
	}

	for result, want := range map[string]float64{"accepted": 1, "invalid": 1, "failed": 1} {
		if got := intakes[result]; got != want {
			t.Errorf("intakes{result=%q} = %v, want %v", result, got, want)
		}
	}
	for name, want := range map[string]float64{
		"triagedesk_queue_patients":     1,
		"triagedesk_queue_critical":     1,
		"triagedesk_queue_waiting":      1,
		"triagedesk_queue_load_percent": 5,
	} {
		if got := gauges[name]; got != want {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
	if persistSeries != 2 {
		t.Errorf("persist duration series = %d, want 2 (ok, error)", persistSeries)
	}
}
