package handlers

import (
	"context"
	"net/http"

	"github.com/kozaktomas/face-gate/internal/audit"
	"github.com/kozaktomas/face-gate/internal/gallery"
)

// StatsHandler handles statistics endpoints
type StatsHandler struct {
	audit *audit.Logger
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(a *audit.Logger) *StatsHandler {
	return &StatsHandler{audit: a}
}

// StatsResponse represents the statistics response
type StatsResponse struct {
	EnrolledIdentities  int     `json:"enrolled_identities"`
	AcceptedToday       int     `json:"accepted_today"`
	FailedAttempts      int     `json:"failed_attempts"`
	TotalAttempts       int     `json:"total_attempts"`
	AvgProcessingTimeMS float64 `json:"avg_processing_time_ms"`
}

// Get returns dashboard statistics.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.audit.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "failed to compute stats")
		return
	}
	respondJSON(w, http.StatusOK, StatsResponse{
		EnrolledIdentities:  s.EnrolledIdentities,
		AcceptedToday:       s.AcceptedToday,
		FailedAttempts:      s.FailedAttempts,
		TotalAttempts:       s.TotalAttempts,
		AvgProcessingTimeMS: float64(s.AvgProcessingTime.Microseconds()) / 1000,
	})
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler handles the health endpoint.
type HealthHandler struct {
	gallery  *gallery.Store
	provider HealthChecker // may be nil
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(store *gallery.Store, provider HealthChecker) *HealthHandler {
	return &HealthHandler{gallery: store, provider: provider}
}

// Check reports service health. The gallery is in memory, so only the
// embedding provider can make the service degraded.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status":       "ok",
		"gallery_size": h.gallery.Len(),
		"embedding":    "unknown",
	}
	if h.provider != nil {
		if err := h.provider.Health(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["embedding"] = "unavailable"
		} else {
			body["embedding"] = "ok"
		}
	}
	respondJSON(w, status, body)
}
