// Package assistant runs the question-driven triage intake: it walks a
// patient through a fixed questionnaire, scores the answers and submits the
// result to the intake pipeline.
package assistant

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/triagedesk/internal/patient"
)

var tracer = otel.Tracer("github.com/linnemanlabs/triagedesk/internal/assistant")

// DefaultIdleTTL is how long an untouched session is kept.
const DefaultIdleTTL = 30 * time.Minute

// assessedPainLevel is recorded for assistant intakes, which have no pain reading.
const assessedPainLevel = 5

var (
	ErrSessionNotFound = errors.New("triage session not found")
	ErrSessionComplete = errors.New("triage session already complete")
	ErrSessionBusy     = errors.New("triage session is being submitted")
)

// StepType describes what the client should do next.
type StepType string

const (
	StepQuestion StepType = "question" // ask Question
	StepRetry    StepType = "error"    // answer rejected, ask again
	StepComplete StepType = "complete" // patient added to the queue
	StepFailed   StepType = "failed"   // intake failed, resend any answer to retry
)

// Step is the response to Start or Answer.
type Step struct {
	Type          StepType            `json:"type"`
	SessionID     string              `json:"sessionId"`
	Question      string              `json:"question,omitempty"`
	QuestionID    string              `json:"questionId,omitempty"`
	Step          int                 `json:"step"`
	TotalSteps    int                 `json:"totalSteps"`
	Error         string              `json:"error,omitempty"`
	UserAnswer    string              `json:"userAnswer,omitempty"`
	PreviousField string              `json:"previousField,omitempty"`
	Message       string              `json:"message,omitempty"`
	PatientID     string              `json:"patientId,omitempty"`
	UrgencyScore  float64             `json:"urgencyScore,omitempty"`
	TriageLevel   patient.TriageLevel `json:"triageLevel,omitempty"`
}

// Status is a point-in-time view of a session.
type Status struct {
	SessionID    string            `json:"sessionId"`
	CurrentStep  int               `json:"currentStep"`
	TotalSteps   int               `json:"totalSteps"`
	Responses    map[string]string `json:"responses"`
	Complete     bool              `json:"isComplete"`
	PatientID    string            `json:"patientId,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	LastActivity time.Time         `json:"lastActivity"`
}

// Intaker accepts a loosely-typed intake payload (patient.Service).
type Intaker interface {
	Intake(ctx context.Context, raw []byte) (*patient.IntakeResult, error)
}

type session struct {
	id         string
	index      int
	answers    map[string]string
	complete   bool
	submitting bool
	patientID  string
	created    time.Time
	last       time.Time
}

// Options tune the Manager.
type Options struct {
	IdleTTL time.Duration
	Now     func() time.Time
}

// Manager owns the active sessions.
type Manager struct {
	intake Intaker
	logger log.Logger
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// NewManager creates a session manager that submits completed sessions to intake.
func NewManager(intake Intaker, logger log.Logger, opts Options) *Manager {
	if logger == nil {
		logger = log.Nop()
	}
	ttl := opts.IdleTTL
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		intake:   intake,
		logger:   logger,
		ttl:      ttl,
		now:      now,
		sessions: make(map[string]*session),
	}
}

// Start opens a new session and returns the first question.
func (m *Manager) Start(ctx context.Context) *Step {
	now := m.now()
	s := &session{
		id:      uuid.NewString(),
		answers: make(map[string]string, len(Questions)),
		created: now,
		last:    now,
	}

	m.mu.Lock()
	m.sweepLocked(now)
	m.sessions[s.id] = s
	active := len(m.sessions)
	m.mu.Unlock()

	m.logger.Info(ctx, "triage session started", "session_id", s.id, "active_sessions", active)
	return questionStep(s, "", "")
}

// Answer records an answer to the current question and returns the next step.
// Once every question is answered the patient is submitted for intake.
func (m *Manager) Answer(ctx context.Context, id, answer string) (*Step, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	switch {
	case s.complete:
		m.mu.Unlock()
		return nil, ErrSessionComplete
	case s.submitting:
		m.mu.Unlock()
		return nil, ErrSessionBusy
	}
	s.last = m.now()

	var lastAnswer, lastField string
	if s.index < len(Questions) {
		q := Questions[s.index]
		value, ok := q.parse(answer)
		if !ok {
			step := &Step{
				Type:       StepRetry,
				SessionID:  s.id,
				Question:   q.reject + " " + q.Text,
				QuestionID: q.ID,
				Step:       s.index + 1,
				TotalSteps: len(Questions),
				Error:      q.reject,
				UserAnswer: answer,
			}
			m.mu.Unlock()
			m.logger.Info(ctx, "triage answer rejected", "session_id", id, "question", q.ID)
			return step, nil
		}
		s.answers[q.ID] = value
		s.index++
		lastAnswer, lastField = value, q.ID

		if s.index < len(Questions) {
			step := questionStep(s, lastAnswer, lastField)
			m.mu.Unlock()
			return step, nil
		}
	}

	s.submitting = true
	answers := maps.Clone(s.answers)
	m.mu.Unlock()

	return m.complete(ctx, id, answers, lastAnswer, lastField), nil
}

func (m *Manager) complete(ctx context.Context, id string, answers map[string]string, lastAnswer, lastField string) *Step {
	ctx, span := tracer.Start(ctx, "assistant.Complete")
	defer span.End()

	level := LevelFor(answers)
	score := Urgency(answers)
	span.SetAttributes(
		attribute.String("triagedesk.session.id", id),
		attribute.Float64("triagedesk.urgency_score", score),
		attribute.Int("triagedesk.patient.triage_level", int(level)),
	)
	L := m.logger.With("session_id", id, "urgency_score", score, "triage_level", int(level))

	step := &Step{
		SessionID:     id,
		Step:          len(Questions),
		TotalSteps:    len(Questions),
		UserAnswer:    lastAnswer,
		PreviousField: lastField,
		UrgencyScore:  score,
		TriageLevel:   level,
	}

	res, err := m.submit(ctx, id, answers, level)
	if err == nil && (res == nil || res.Record == nil) {
		err = errors.New("intake skipped: an identical submission is in flight")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if ok {
		s.submitting = false
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		L.Error(ctx, err, "triage session intake failed")
		step.Type = StepFailed
		step.Error = err.Error()
		step.Message = "Sorry, there was an issue completing your assessment. Please try again or see the front desk."
		return step
	}

	if ok {
		s.complete = true
		s.patientID = res.Record.ID
	}
	step.Type = StepComplete
	step.PatientID = res.Record.ID
	step.TriageLevel = res.Record.TriageLevel
	step.Message = fmt.Sprintf("Assessment complete. You have been assigned %s (level %d) priority and added to the queue. A nurse will see you shortly.",
		res.Record.TriageLevel.Label(), res.Record.TriageLevel)
	L.Info(ctx, "triage session complete", "patient_id", res.Record.ID)
	return step
}

func (m *Manager) submit(ctx context.Context, id string, answers map[string]string, level patient.TriageLevel) (*patient.IntakeResult, error) {
	age, _ := strconv.Atoi(answers[QAge])
	raw, err := json.Marshal(map[string]any{
		"name":         answers[QName],
		"age":          age,
		"gender":       answers[QGender],
		"symptoms":     answers[QSymptoms],
		"triage_level": int(level),
		"pain_level":   assessedPainLevel,
		"patient_id":   id,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal intake payload: %w", err)
	}
	return m.intake.Intake(ctx, raw)
}

// Status returns the state of a session.
func (m *Manager) Status(id string) (*Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return statusOf(s), true
}

// End discards a session. Reports whether it existed.
func (m *Manager) End(ctx context.Context, id string) bool {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		m.logger.Info(ctx, "triage session ended", "session_id", id)
	}
	return ok
}

// List returns every live session, oldest first.
func (m *Manager) List() []*Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked(m.now())
	out := make([]*Status, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, statusOf(s))
	}
	slices.SortFunc(out, func(a, b *Status) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.SessionID, b.SessionID)
	})
	return out
}

// sweepLocked drops sessions idle longer than the TTL. Sessions mid-submit are kept.
func (m *Manager) sweepLocked(now time.Time) {
	for id, s := range m.sessions {
		if !s.submitting && now.Sub(s.last) > m.ttl {
			delete(m.sessions, id)
		}
	}
}

func questionStep(s *session, lastAnswer, lastField string) *Step {
	q := Questions[s.index]
	return &Step{
		Type:          StepQuestion,
		SessionID:     s.id,
		Question:      q.Text,
		QuestionID:    q.ID,
		Step:          s.index + 1,
		TotalSteps:    len(Questions),
		UserAnswer:    lastAnswer,
		PreviousField: lastField,
	}
}

func statusOf(s *session) *Status {
	return &Status{
		SessionID:    s.id,
		CurrentStep:  min(s.index+1, len(Questions)),
		TotalSteps:   len(Questions),
		Responses:    maps.Clone(s.answers),
		Complete:     s.complete,
		PatientID:    s.patientID,
		CreatedAt:    s.created,
		LastActivity: s.last,
	}
}
