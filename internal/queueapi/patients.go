package queueapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/triagedesk/internal/patient"
)

type intakeResponse struct {
	Patient *patient.Record `json:"patient,omitempty"`
	Notice  *patient.Notice `json:"notice,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (a *API) handleIntake(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}

	res, err := a.svc.Intake(r.Context(), body)
	switch {
	case patient.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case patient.IsPersistence(err):
		// cause stays in the logs; the client gets the failure notice
		resp := intakeResponse{Error: "could not save patient"}
		if res != nil {
			resp.Notice = res.Notice
		}
		writeJSON(w, http.StatusBadGateway, resp)
		return
	case err != nil:
		a.logger.Error(r.Context(), err, "intake failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if res.Skipped {
		writeError(w, http.StatusConflict, "identical submission already in progress")
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("triagedesk.patient.id", res.Record.ID),
		attribute.Int("triagedesk.patient.triage_level", int(res.Record.TriageLevel)),
	)
	writeJSON(w, http.StatusCreated, intakeResponse{Patient: res.Record, Notice: res.Notice})
}

func (a *API) handleListPatients(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"patients": a.svc.Queue()})
}

func (a *API) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := a.svc.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "patient not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Status patient.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	rec, err := a.svc.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleRemovePatient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.svc.Remove(r.Context(), id); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Stats())
}

func (a *API) handleGetSelection(w http.ResponseWriter, _ *http.Request) {
	rec, _ := a.svc.Selected()
	writeJSON(w, http.StatusOK, map[string]any{"patient": rec})
}

// handleSetSelection selects a patient; an empty id clears the selection.
func (a *API) handleSetSelection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	if req.ID == "" {
		a.svc.ClearSelection()
		writeJSON(w, http.StatusOK, map[string]any{"patient": nil})
		return
	}
	if err := a.svc.Select(req.ID); err != nil {
		a.writeServiceError(w, err)
		return
	}
	rec, _ := a.svc.Selected()
	writeJSON(w, http.StatusOK, map[string]any{"patient": rec})
}

// writeServiceError maps patient service errors onto status codes.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, patient.ErrNotFound):
		writeError(w, http.StatusNotFound, "patient not found")
	case errors.Is(err, patient.ErrSummariesUnavailable):
		writeError(w, http.StatusServiceUnavailable, "ai summaries are not configured")
	case patient.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case patient.IsPersistence(err):
		writeError(w, http.StatusBadGateway, "patient store unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
