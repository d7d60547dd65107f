package queueapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/triagedesk/internal/patient"
)

func (a *API) handlePatientSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	kind := patient.SummaryKind(chi.URLParam(r, "kind"))

	s, err := a.svc.PatientSummary(r.Context(), id, kind, refreshParam(r))
	if err != nil {
		a.writeSummaryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) handleQueueSummary(w http.ResponseWriter, r *http.Request) {
	s, err := a.svc.QueueSummary(r.Context(), refreshParam(r))
	if err != nil {
		a.writeSummaryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.svc.SummaryCacheStatus(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "summary cache status failed")
		writeError(w, http.StatusBadGateway, "summary cache unavailable")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleClearCache(w http.ResponseWriter, r *http.Request) {
	n, err := a.svc.ClearSummaryCache(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "summary cache unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "Cache cleared successfully",
		"itemsCleared": n,
	})
}

func (a *API) writeSummaryError(w http.ResponseWriter, err error) {
	if errors.Is(err, patient.ErrNotFound) || errors.Is(err, patient.ErrSummariesUnavailable) || patient.IsValidation(err) {
		a.writeServiceError(w, err)
		return
	}
	writeError(w, http.StatusBadGateway, "summary generation failed")
}

func refreshParam(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	return v
}
