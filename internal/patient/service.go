package patient

import (
	"cmp"
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/linnemanlabs/go-core/log"
)

var tracer = otel.Tracer("github.com/linnemanlabs/triagedesk/internal/patient")

// IntakeResult is the outcome of submitting a capture for intake.
type IntakeResult struct {
	Record  *Record
	Notice  *Notice
	Skipped bool
	Reason  string
}

// ServiceHooks are optional callbacks fired by the Service. Nil fields are skipped.
type ServiceHooks struct {
	OnIntake  func(result string, persistSeconds float64)
	OnStats   func(s Stats)
	OnSummary func(kind SummaryKind, source string)
}

// Options tune the Service. The zero value matches dashboard defaults.
type Options struct {
	QueueCapacity int
	// DedupInFlight skips a submission while an identical patient identity
	// is still being persisted. Off by default: duplicates are allowed.
	DedupInFlight bool
	Notifier      Notifier
	Summarizer    Summarizer
	SummaryCache  SummaryCache
	Now           func() time.Time
}

// Service owns the working set and the selected patient. All mutations go
// through it; the statistics are recomputed after every mutation.
type Service struct {
	store      Store
	logger     log.Logger
	hooks      ServiceHooks
	notifier   Notifier
	summarizer Summarizer
	cache      SummaryCache
	capacity   int
	dedup      bool
	now        func() time.Time

	notices sync.WaitGroup

	mu       sync.Mutex
	records  []*Record
	selected string
	inflight map[string]struct{}
}

// NewService creates a new patient service.
func NewService(store Store, logger log.Logger, hooks ServiceHooks, opts Options) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	capacity := opts.QueueCapacity
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	cache := opts.SummaryCache
	if cache == nil {
		cache = NewMemoryCache(now)
	}
	return &Service{
		store:      store,
		logger:     logger,
		hooks:      hooks,
		notifier:   opts.Notifier,
		summarizer: opts.Summarizer,
		cache:      cache,
		capacity:   capacity,
		dedup:      opts.DedupInFlight,
		now:        now,
		inflight:   make(map[string]struct{}),
	}
}

// Load replaces the working set with the store's current contents.
func (s *Service) Load(ctx context.Context) error {
	records, err := s.store.List(ctx)
	if err != nil {
		return &PersistenceError{Op: "list", Err: err}
	}

	s.mu.Lock()
	s.records = s.records[:0]
	for _, r := range records {
		s.upsertLocked(r)
	}
	snap := s.statsLocked()
	s.mu.Unlock()

	s.publishStats(snap)
	s.logger.Info(ctx, "working set loaded", "patients", len(records))
	return nil
}

// Intake normalizes raw capture input, persists it and merges the stored
// record into the working set. On a persistence failure the returned result
// still carries the failure notice, and the working set is unchanged.
func (s *Service) Intake(ctx context.Context, raw []byte) (*IntakeResult, error) {
	ctx, span := tracer.Start(ctx, "patient.Intake")
	defer span.End()

	rec, err := Normalize(raw, s.now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.onIntake("invalid", 0)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("triagedesk.patient.id", rec.ID),
		attribute.Int("triagedesk.patient.triage_level", int(rec.TriageLevel)),
	)
	L := s.logger.With("patient_id", rec.ID, "triage_level", int(rec.TriageLevel))

	if s.dedup {
		key := identityKey(rec)
		if !s.claim(key) {
			L.Info(ctx, "intake skipped, identical submission in flight")
			s.onIntake("duplicate", 0)
			return &IntakeResult{Skipped: true, Reason: "duplicate"}, nil
		}
		defer s.release(key)
	}

	start := time.Now()
	stored, err := s.store.Insert(ctx, rec)
	persistSeconds := time.Since(start).Seconds()
	if err != nil {
		perr := &PersistenceError{Op: "insert", Err: err}
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Error())
		L.Error(ctx, err, "patient insert failed", "persist_seconds", persistSeconds)

		notice := failedNotice(rec)
		s.notify(ctx, notice)
		s.onIntake("failed", persistSeconds)
		return &IntakeResult{Notice: notice}, perr
	}

	merged := mergeStored(rec, stored)

	s.mu.Lock()
	s.upsertLocked(merged)
	snap := s.statsLocked()
	out := merged.Clone()
	s.mu.Unlock()

	s.publishStats(snap)

	notice := admittedNotice(out)
	s.notify(ctx, notice)
	s.onIntake("accepted", persistSeconds)

	L.Info(ctx, "patient added to queue",
		"pain_level", out.Vitals.PainLevel,
		"waiting", snap.TotalWaiting,
		"persist_seconds", persistSeconds,
	)

	return &IntakeResult{Record: out, Notice: notice}, nil
}

// Records returns copies of the working set in insertion order.
func (s *Service) Records() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	return out
}

// Queue returns copies of the working set ordered by severity, then arrival.
func (s *Service) Queue() []*Record {
	out := s.Records()
	slices.SortStableFunc(out, func(a, b *Record) int {
		if c := cmp.Compare(a.TriageLevel, b.TriageLevel); c != 0 {
			return c
		}
		return a.ArrivalTime.Compare(b.ArrivalTime)
	})
	return out
}

// Get returns a copy of the patient with the given ID.
func (s *Service) Get(id string) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.records[i].Clone(), true
	}
	return nil, false
}

// Select marks a patient as the one shown in the detail panel.
func (s *Service) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(id) < 0 {
		return ErrNotFound
	}
	s.selected = id
	return nil
}

// ClearSelection deselects the current patient.
func (s *Service) ClearSelection() {
	s.mu.Lock()
	s.selected = ""
	s.mu.Unlock()
}

// Selected returns the selected patient, if any.
func (s *Service) Selected() (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == "" {
		return nil, false
	}
	if i := s.indexLocked(s.selected); i >= 0 {
		return s.records[i].Clone(), true
	}
	return nil, false
}

// UpdateStatus moves a patient to a new status in the store and the working set.
func (s *Service) UpdateStatus(ctx context.Context, id string, status Status) (*Record, error) {
	if !status.Valid() {
		return nil, &ValidationError{Field: "status", Reason: "unknown status " + strconv.Quote(string(status))}
	}
	if _, ok := s.Get(id); !ok {
		return nil, ErrNotFound
	}

	stored, ok, err := s.store.UpdateStatus(ctx, id, status)
	if err != nil {
		s.logger.Error(ctx, err, "patient status update failed", "patient_id", id, "status", status)
		return nil, &PersistenceError{Op: "update status", Err: err}
	}
	if !ok {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	r := s.records[i]
	r.Status = status
	if stored != nil && !stored.UpdatedAt.IsZero() {
		r.UpdatedAt = stored.UpdatedAt
	}
	out := r.Clone()
	snap := s.statsLocked()
	s.mu.Unlock()

	s.publishStats(snap)
	s.logger.Info(ctx, "patient status updated", "patient_id", id, "status", status)
	return out, nil
}

// Remove discards a patient from the store and the working set.
func (s *Service) Remove(ctx context.Context, id string) error {
	if _, ok := s.Get(id); !ok {
		return ErrNotFound
	}

	found, err := s.store.Delete(ctx, id)
	if err != nil {
		s.logger.Error(ctx, err, "patient delete failed", "patient_id", id)
		return &PersistenceError{Op: "delete", Err: err}
	}
	if !found {
		s.logger.Warn(ctx, "patient missing from store, discarding locally", "patient_id", id)
	}

	s.mu.Lock()
	if i := s.indexLocked(id); i >= 0 {
		s.records = slices.Delete(s.records, i, i+1)
	}
	if s.selected == id {
		s.selected = ""
	}
	snap := s.statsLocked()
	s.mu.Unlock()

	s.publishStats(snap)
	return nil
}

// Stats computes the queue statistics for the current working set.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

func (s *Service) statsLocked() Stats {
	return ComputeStats(s.records, s.now(), s.capacity)
}

func (s *Service) upsertLocked(r *Record) {
	if i := s.indexLocked(r.ID); i >= 0 {
		s.records[i] = r
		return
	}
	s.records = append(s.records, r)
}

func (s *Service) indexLocked(id string) int {
	return slices.IndexFunc(s.records, func(r *Record) bool { return r.ID == id })
}

func (s *Service) claim(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[key]; busy {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

func (s *Service) release(key string) {
	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()
}

// notify hands the notice to the notifier in the background so a slow or
// unreachable channel never holds up intake. Drain waits for these.
func (s *Service) notify(ctx context.Context, n *Notice) {
	if s.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	cp := *n
	s.notices.Add(1)
	go func() {
		defer s.notices.Done()
		if err := s.notifier.Notify(ctx, &cp); err != nil {
			s.logger.Warn(ctx, "notice delivery failed", "error", err, "kind", cp.Kind)
		}
	}()
}

// Drain blocks until every pending notice has been handed off or ctx is done.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.notices.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) publishStats(st Stats) {
	if s.hooks.OnStats != nil {
		s.hooks.OnStats(st)
	}
}

func (s *Service) onIntake(result string, persistSeconds float64) {
	if s.hooks.OnIntake != nil {
		s.hooks.OnIntake(result, persistSeconds)
	}
}

// mergeStored overlays store-assigned fields on the normalized record.
// Fields the store does not keep (allergies, notes, ...) stay local.
func mergeStored(local, stored *Record) *Record {
	out := local.Clone()
	if stored == nil {
		return out
	}
	if stored.ID != "" {
		out.ID = stored.ID
	}
	out.CreatedAt = stored.CreatedAt
	out.UpdatedAt = stored.UpdatedAt
	return out
}

func identityKey(r *Record) string {
	return strings.ToLower(r.Name) + "|" + strconv.Itoa(r.Age) + "|" + r.Gender
}

