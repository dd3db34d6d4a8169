package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/kozaktomas/face-gate/internal/credential"
	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/facegate"
	"github.com/kozaktomas/face-gate/internal/recognition"
)

// RecognizeHandler handles the recognition endpoint.
type RecognizeHandler struct {
	orchestrator *recognition.Orchestrator
	issuer       credential.Issuer // nil disables token issuance
	logger       *slog.Logger
}

// NewRecognizeHandler creates a new recognize handler.
func NewRecognizeHandler(o *recognition.Orchestrator, issuer credential.Issuer) *RecognizeHandler {
	return &RecognizeHandler{
		orchestrator: o,
		issuer:       issuer,
		logger:       slog.Default().With("component", "web"),
	}
}

// RecognizeResponse is the JSON body of POST /recognize.
type RecognizeResponse struct {
	Outcome         string     `json:"outcome"`
	IdentityID      string     `json:"identity_id,omitempty"`
	SimilarityScore float64    `json:"similarity_score"`
	Reason          string     `json:"reason,omitempty"`
	Error           string     `json:"error,omitempty"`
	AttemptID       string     `json:"attempt_id,omitempty"`
	AccessToken     string     `json:"access_token,omitempty"`
	RefreshToken    string     `json:"refresh_token,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

// outcomeStatus maps an outcome kind to an HTTP status.
func outcomeStatus(kind string) int {
	switch kind {
	case database.OutcomeAccepted:
		return http.StatusOK
	case database.OutcomeRejected:
		return http.StatusNotFound
	case database.OutcomeNoFace:
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

// Recognize matches the uploaded image against the gallery.
func (h *RecognizeHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	image, filename, err := readImage(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.orchestrator.Recognize(r.Context(), recognition.Request{Image: image, ImageRef: filename})
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		h.logger.Error("recognition failed", "file", sanitizeForLog(filename), "error", err)
		respondFailure(w, err)
		return
	}

	resp := RecognizeResponse{
		Outcome:         out.Kind,
		IdentityID:      out.IdentityID,
		SimilarityScore: out.Score,
		Reason:          out.Reason,
		AttemptID:       out.AttemptID,
	}
	if out.Kind == database.OutcomeError {
		resp.Error = out.ErrorKind
	}

	if out.Accepted() && h.issuer != nil {
		tokens, err := h.issuer.Issue(out.IdentityID, out.AttemptID)
		if err != nil {
			h.logger.Error("token issuance failed", "identity", out.IdentityID, "error", err)
			respondJSON(w, http.StatusInternalServerError, map[string]string{
				"error":      facegate.KindInternal,
				"message":    "failed to issue credentials",
				"attempt_id": out.AttemptID,
			})
			return
		}
		resp.AccessToken = tokens.Access
		resp.RefreshToken = tokens.Refresh
		resp.ExpiresAt = &tokens.ExpiresAt
	}

	respondJSON(w, outcomeStatus(out.Kind), resp)
}
