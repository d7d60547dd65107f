package queueapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/triagedesk/internal/assistant"
)

func (a *API) handleStartSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, a.assistant.Start(r.Context()))
}

func (a *API) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": a.assistant.List()})
}

func (a *API) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := a.assistant.Status(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if !a.assistant.End(r.Context(), chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Answer     string `json:"answer"`
		Transcript string `json:"transcript"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	answer := req.Answer
	if answer == "" {
		answer = req.Transcript
	}

	step, err := a.assistant.Answer(r.Context(), chi.URLParam(r, "id"), answer)
	switch {
	case errors.Is(err, assistant.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
		return
	case errors.Is(err, assistant.ErrSessionComplete), errors.Is(err, assistant.ErrSessionBusy):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		a.logger.Error(r.Context(), err, "triage answer failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	code := http.StatusOK
	if step.Type == assistant.StepFailed {
		code = http.StatusBadGateway
	}
	writeJSON(w, code, step)
}

func (a *API) handleSpeech(w http.ResponseWriter, r *http.Request) {
	if a.opts.Speaker == nil {
		writeError(w, http.StatusServiceUnavailable, "speech unavailable")
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if _, ok := a.assistant.Status(chi.URLParam(r, "id")); !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	audio, err := a.opts.Speaker.Speak(r.Context(), req.Text)
	if err != nil {
		a.logger.Error(r.Context(), err, "speech synthesis failed")
		writeError(w, http.StatusBadGateway, "speech synthesis failed")
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}
