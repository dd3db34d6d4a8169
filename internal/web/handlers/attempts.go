package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-gate/internal/audit"
	"github.com/kozaktomas/face-gate/internal/database"
)

// AttemptsHandler handles the audit log endpoints.
type AttemptsHandler struct {
	audit *audit.Logger
}

// NewAttemptsHandler creates a new attempts handler.
func NewAttemptsHandler(a *audit.Logger) *AttemptsHandler {
	return &AttemptsHandler{audit: a}
}

// AttemptResponse is one attempt record.
type AttemptResponse struct {
	ID               string    `json:"id"`
	IdentityID       *string   `json:"identity_id"`
	Timestamp        time.Time `json:"timestamp"`
	Score            float64   `json:"similarity_score"`
	Accepted         bool      `json:"accepted"`
	ProcessingTimeMS float64   `json:"processing_time_ms"`
	ProbeImageRef    string    `json:"probe_image_ref,omitempty"`
	Outcome          string    `json:"outcome"`
	Reason           string    `json:"reason,omitempty"`
}

func toAttemptResponse(a database.RecognitionAttempt) AttemptResponse {
	resp := AttemptResponse{
		ID:               a.ID,
		Timestamp:        a.Timestamp,
		Score:            a.Score,
		Accepted:         a.Accepted,
		ProcessingTimeMS: float64(a.ProcessingDuration.Microseconds()) / 1000,
		ProbeImageRef:    a.ProbeImageRef,
		Outcome:          a.Outcome,
		Reason:           a.Reason,
	}
	if a.IdentityID != "" {
		id := a.IdentityID
		resp.IdentityID = &id
	}
	return resp
}

// List returns attempts newest first.
func (h *AttemptsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	page, err := h.audit.Recent(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "failed to list attempts")
		return
	}

	items := make([]AttemptResponse, 0, len(page.Attempts))
	for _, a := range page.Attempts {
		items = append(items, toAttemptResponse(a))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"attempts": items,
		"total":    page.Total,
		"limit":    page.Limit,
		"offset":   page.Offset,
	})
}

// Get returns one attempt.
func (h *AttemptsHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.audit.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "failed to get attempt")
		return
	}
	if a == nil {
		respondError(w, http.StatusNotFound, "attempt not found")
		return
	}
	respondJSON(w, http.StatusOK, toAttemptResponse(*a))
}
