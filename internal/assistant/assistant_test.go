package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/triagedesk/internal/patient"
)

type fakeIntake struct {
	mu       sync.Mutex
	payloads []map[string]any
	err      error
}

func (f *fakeIntake) Intake(_ context.Context, raw []byte) (*patient.IntakeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	f.payloads = append(f.payloads, m)
	if f.err != nil {
		return &patient.IntakeResult{}, f.err
	}
	rec, err := patient.Normalize(raw, time.Now())
	if err != nil {
		return nil, err
	}
	return &patient.IntakeResult{Record: rec}, nil
}

var happyPath = []string{"maria lopez", "I'm 72", "female", "dizzy and bleeding from a cut on my arm", "yes", "no", "no", "yes"}

func answerAll(t *testing.T, m *Manager, id string, answers []string) *Step {
	t.Helper()
	var step *Step
	for _, a := range answers {
		var err error
		step, err = m.Answer(context.Background(), id, a)
		if err != nil {
			t.Fatalf("Answer(%q): %v", a, err)
		}
	}
	return step
}

func TestManager_HappyPath(t *testing.T) {
	t.Parallel()

	fi := &fakeIntake{}
	m := NewManager(fi, log.Nop(), Options{})
	ctx := context.Background()

	first := m.Start(ctx)
	if first.Type != StepQuestion || first.QuestionID != QName || first.Step != 1 || first.TotalSteps != 8 {
		t.Fatalf("first step = %+v", first)
	}

	second, err := m.Answer(ctx, first.SessionID, happyPath[0])
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if second.QuestionID != QAge || second.UserAnswer != "Maria Lopez" || second.PreviousField != QName {
		t.Errorf("second step = %+v", second)
	}

	last := answerAll(t, m, first.SessionID, happyPath[1:])
	if last.Type != StepComplete {
		t.Fatalf("last step type = %q, want complete (%+v)", last.Type, last)
	}
	// 0.3 base + 0.4 bleeding + 0.1 elderly
	if last.UrgencyScore != 0.8 || last.TriageLevel != patient.LevelResuscitation {
		t.Errorf("score/level = %v/%d, want 0.8/1", last.UrgencyScore, last.TriageLevel)
	}
	if last.PatientID == "" {
		t.Error("expected patient id on completion")
	}
	if last.PreviousField != QMobility || last.UserAnswer != "Yes" {
		t.Errorf("last answer echo = %q/%q", last.PreviousField, last.UserAnswer)
	}

	if len(fi.payloads) != 1 {
		t.Fatalf("intake calls = %d, want 1", len(fi.payloads))
	}
	p := fi.payloads[0]
	if p["name"] != "Maria Lopez" || p["age"] != float64(72) || p["gender"] != "Female" {
		t.Errorf("payload identity = %v", p)
	}
	if p["triage_level"] != float64(1) || p["patient_id"] != first.SessionID {
		t.Errorf("payload triage = %v", p)
	}

	st, ok := m.Status(first.SessionID)
	if !ok || !st.Complete || st.PatientID != last.PatientID {
		t.Errorf("status = %+v, %v", st, ok)
	}
	if st.Responses[QBleeding] != "Yes" || st.Responses[QMobility] != "Yes" {
		t.Errorf("responses = %v", st.Responses)
	}

	if _, err := m.Answer(ctx, first.SessionID, "yes"); !errors.Is(err, ErrSessionComplete) {
		t.Errorf("answer after completion err = %v, want ErrSessionComplete", err)
	}
}

func TestManager_RejectsInvalidAnswer(t *testing.T) {
	t.Parallel()

	m := NewManager(&fakeIntake{}, log.Nop(), Options{})
	ctx := context.Background()
	id := m.Start(ctx).SessionID

	step, err := m.Answer(ctx, id, "7")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if step.Type != StepRetry || step.QuestionID != QName || step.Step != 1 || step.Error == "" {
		t.Errorf("step = %+v", step)
	}

	st, _ := m.Status(id)
	if st.CurrentStep != 1 || len(st.Responses) != 0 {
		t.Errorf("status after rejection = %+v", st)
	}
}

func TestManager_IntakeFailureCanRetry(t *testing.T) {
	t.Parallel()

	fi := &fakeIntake{err: errors.New("store down")}
	m := NewManager(fi, log.Nop(), Options{})
	ctx := context.Background()
	id := m.Start(ctx).SessionID

	last := answerAll(t, m, id, happyPath)
	if last.Type != StepFailed || last.Message == "" {
		t.Fatalf("last = %+v, want failed", last)
	}
	if st, _ := m.Status(id); st.Complete {
		t.Fatal("session marked complete after failed intake")
	}

	fi.mu.Lock()
	fi.err = nil
	fi.mu.Unlock()

	retry, err := m.Answer(ctx, id, "")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retry.Type != StepComplete {
		t.Errorf("retry = %+v, want complete", retry)
	}
	if len(fi.payloads) != 2 {
		t.Errorf("intake calls = %d, want 2", len(fi.payloads))
	}
}

func TestManager_UnknownSession(t *testing.T) {
	t.Parallel()

	m := NewManager(&fakeIntake{}, log.Nop(), Options{})
	if _, err := m.Answer(context.Background(), "nope", "x"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
	if _, ok := m.Status("nope"); ok {
		t.Error("Status ok for unknown session")
	}
	if m.End(context.Background(), "nope") {
		t.Error("End reported true for unknown session")
	}
}

func TestManager_ListEndAndExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time { mu.Lock(); defer mu.Unlock(); return now }
	advance := func(d time.Duration) { mu.Lock(); now = now.Add(d); mu.Unlock() }

	m := NewManager(&fakeIntake{}, log.Nop(), Options{IdleTTL: 10 * time.Minute, Now: clock})
	ctx := context.Background()

	a := m.Start(ctx).SessionID
	advance(time.Minute)
	b := m.Start(ctx).SessionID

	list := m.List()
	if len(list) != 2 || list[0].SessionID != a || list[1].SessionID != b {
		t.Fatalf("List = %+v", list)
	}

	if !m.End(ctx, a) {
		t.Fatal("End(a) = false")
	}
	if len(m.List()) != 1 {
		t.Fatalf("List after End = %d, want 1", len(m.List()))
	}

	advance(11 * time.Minute)
	if got := m.List(); len(got) != 0 {
		t.Errorf("List after idle TTL = %d sessions, want 0", len(got))
	}
}
