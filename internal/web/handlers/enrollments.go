package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/enrollment"
	"github.com/kozaktomas/face-gate/internal/facegate"
	"github.com/kozaktomas/face-gate/internal/gallery"
)

// EnrollmentsHandler handles gallery administration endpoints.
type EnrollmentsHandler struct {
	manager *enrollment.Manager
	gallery *gallery.Store
	logger  *slog.Logger
}

// NewEnrollmentsHandler creates a new enrollments handler.
func NewEnrollmentsHandler(m *enrollment.Manager, store *gallery.Store) *EnrollmentsHandler {
	return &EnrollmentsHandler{
		manager: m,
		gallery: store,
		logger:  slog.Default().With("component", "web"),
	}
}

// TemplateResponse describes an enrolled template without its embedding.
type TemplateResponse struct {
	IdentityID     string    `json:"identity_id"`
	TemplateID     int64     `json:"template_id"`
	EnrolledAt     time.Time `json:"enrolled_at"`
	Model          string    `json:"model,omitempty"`
	DetScore       float64   `json:"det_score"`
	BBox           []float64 `json:"bbox,omitempty"`
	SourceImageRef string    `json:"source_image_ref,omitempty"`
	Dim            int       `json:"dim"`
}

func toTemplateResponse(t database.FaceTemplate) TemplateResponse {
	return TemplateResponse{
		IdentityID:     t.IdentityID,
		TemplateID:     t.ID,
		EnrolledAt:     t.EnrolledAt,
		Model:          t.Model,
		DetScore:       t.DetScore,
		BBox:           t.BBox,
		SourceImageRef: t.SourceImageRef,
		Dim:            t.Dim(),
	}
}

// HistoryResponse describes a retired template.
type HistoryResponse struct {
	TemplateID     int64     `json:"template_id"`
	Model          string    `json:"model,omitempty"`
	SourceImageRef string    `json:"source_image_ref,omitempty"`
	EnrolledAt     time.Time `json:"enrolled_at"`
	RetiredAt      time.Time `json:"retired_at"`
	RetiredReason  string    `json:"retired_reason"`
}

// Create enrolls or re-enrolls an identity from a multipart upload.
func (h *EnrollmentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	image, filename, err := readImage(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	identityID := r.FormValue("identity_id")
	if identityID == "" {
		respondError(w, http.StatusBadRequest, "identity_id is required")
		return
	}

	opts := enrollment.Options{SourceImageRef: filename}
	if raw := r.FormValue("bbox"); raw != "" {
		bbox, err := parseBBox(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts.SelectBBox = bbox
	}

	stored, err := h.manager.Enroll(r.Context(), identityID, image, opts)
	if err != nil {
		h.logger.Warn("enrollment failed", "identity", sanitizeForLog(identityID), "error", err)
		respondFailure(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, toTemplateResponse(stored))
}

// List returns enrolled templates in enrollment order.
func (h *EnrollmentsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	snap := h.gallery.Snapshot()
	templates := snap.Templates()

	start := min(offset, len(templates))
	end := min(start+limit, len(templates))
	items := make([]TemplateResponse, 0, end-start)
	for _, t := range templates[start:end] {
		items = append(items, toTemplateResponse(t))
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"enrollments": items,
		"total":       snap.Len(),
		"limit":       limit,
		"offset":      offset,
	})
}

// Get returns one identity's active template and its retired predecessors.
func (h *EnrollmentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	identityID := chi.URLParam(r, "identityID")

	t, ok := h.gallery.Get(identityID)
	if !ok {
		respondError(w, http.StatusNotFound, "identity not enrolled")
		return
	}

	records, err := h.gallery.History(r.Context(), identityID)
	if err != nil {
		respondFailure(w, err)
		return
	}
	history := make([]HistoryResponse, 0, len(records))
	for _, rec := range records {
		history = append(history, HistoryResponse{
			TemplateID:     rec.TemplateID,
			Model:          rec.Model,
			SourceImageRef: rec.SourceImageRef,
			EnrolledAt:     rec.EnrolledAt,
			RetiredAt:      rec.RetiredAt,
			RetiredReason:  rec.RetiredReason,
		})
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"enrollment": toTemplateResponse(t),
		"history":    history,
	})
}

// Delete unenrolls an identity.
func (h *EnrollmentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identityID := chi.URLParam(r, "identityID")

	if err := h.manager.Unenroll(r.Context(), identityID); err != nil {
		if errors.Is(err, facegate.ErrInvalidIdentity) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
