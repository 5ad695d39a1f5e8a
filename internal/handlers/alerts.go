package handlers

import (
	"net/http"
	"strconv"

	"iotmon/internal/pipeline"
)

// AlertsHandler exposes the alert acknowledge/resolve transitions
// over HTTP.
type AlertsHandler struct {
	pipe *pipeline.Service
}

// NewAlertsHandler creates a handler around the pipeline.
func NewAlertsHandler(pipe *pipeline.Service) *AlertsHandler {
	return &AlertsHandler{pipe: pipe}
}

// Acknowledge handles POST /api/alerts/{id}/acknowledge.
func (h *AlertsHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	alertID, ok := alertIDFromPath(w, r)
	if !ok {
		return
	}

	alert, err := h.pipe.AcknowledgeAlert(r.Context(), alertID)
	if err != nil {
		writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// Resolve handles POST /api/alerts/{id}/resolve.
func (h *AlertsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	alertID, ok := alertIDFromPath(w, r)
	if !ok {
		return
	}

	alert, err := h.pipe.ResolveAlert(r.Context(), alertID)
	if err != nil {
		writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

func alertIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	alertID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || alertID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid alert id")
		return 0, false
	}
	return alertID, true
}
