// Package queueapi exposes the triage queue, intake and assistant over HTTP.
package queueapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/triagedesk/internal/assistant"
	"github.com/linnemanlabs/triagedesk/internal/patient"
)

// PatientService defines the queue operations the API needs.
type PatientService interface {
	Intake(ctx context.Context, raw []byte) (*patient.IntakeResult, error)
	Queue() []*patient.Record
	Get(id string) (*patient.Record, bool)
	UpdateStatus(ctx context.Context, id string, status patient.Status) (*patient.Record, error)
	Remove(ctx context.Context, id string) error
	Stats() patient.Stats
	Select(id string) error
	ClearSelection()
	Selected() (*patient.Record, bool)
	PatientSummary(ctx context.Context, id string, kind patient.SummaryKind, refresh bool) (*patient.Summary, error)
	QueueSummary(ctx context.Context, refresh bool) (*patient.Summary, error)
	SummaryCacheStatus(ctx context.Context) (*patient.SummaryCacheStatus, error)
	ClearSummaryCache(ctx context.Context) (int, error)
}

// Assistant defines the triage assistant session operations.
type Assistant interface {
	Start(ctx context.Context) *assistant.Step
	Answer(ctx context.Context, id, answer string) (*assistant.Step, error)
	Status(id string) (*assistant.Status, bool)
	End(ctx context.Context, id string) bool
	List() []*assistant.Status
}

// Speaker renders assistant prompts as audio/mpeg.
type Speaker interface {
	Speak(ctx context.Context, text string) ([]byte, error)
}

// Options add optional middleware and collaborators. Nil fields are skipped.
type Options struct {
	// Auth guards every /api/v1 route (e.g. authmw.BearerTokens).
	Auth func(http.Handler) http.Handler
	// SubmitLimit throttles routes that create patients (e.g. httprate).
	SubmitLimit func(http.Handler) http.Handler
	// Speaker backs the session speech route; without it the route
	// answers 503.
	Speaker Speaker
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger    log.Logger
	svc       PatientService
	assistant Assistant
	opts      Options
}

// New creates a new API handler. The assistant is optional; without it the
// triage session routes are not registered.
func New(logger log.Logger, svc PatientService, asst Assistant, opts Options) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("patient service is required"))
	}
	return &API{
		logger:    logger,
		svc:       svc,
		assistant: asst,
		opts:      opts,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		if a.opts.Auth != nil {
			r.Use(a.opts.Auth)
		}
		limited := r.With(passthrough)
		if a.opts.SubmitLimit != nil {
			limited = r.With(a.opts.SubmitLimit)
		}

		limited.Post("/patients", a.handleIntake)
		r.Get("/patients", a.handleListPatients)
		r.Get("/patients/{id}", a.handleGetPatient)
		r.Put("/patients/{id}/status", a.handleUpdateStatus)
		r.Delete("/patients/{id}", a.handleRemovePatient)
		r.Post("/patients/{id}/summaries/{kind}", a.handlePatientSummary)

		r.Get("/queue/stats", a.handleStats)
		r.Post("/queue/summary", a.handleQueueSummary)
		r.Get("/summaries/cache", a.handleCacheStatus)
		r.Delete("/summaries/cache", a.handleClearCache)

		r.Get("/selection", a.handleGetSelection)
		r.Put("/selection", a.handleSetSelection)

		if a.assistant != nil {
			r.Post("/triage/sessions", a.handleStartSession)
			r.Get("/triage/sessions", a.handleListSessions)
			r.Get("/triage/sessions/{id}", a.handleSessionStatus)
			r.Delete("/triage/sessions/{id}", a.handleEndSession)
			limited.Post("/triage/sessions/{id}/responses", a.handleAnswer)
			limited.Post("/triage/sessions/{id}/speech", a.handleSpeech)
		}
	})
}

func passthrough(next http.Handler) http.Handler { return next }

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
