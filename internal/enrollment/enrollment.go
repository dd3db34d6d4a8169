// Package enrollment turns a reference image into a stored face template.
package enrollment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/embedding"
	"github.com/kozaktomas/face-gate/internal/facegate"
	"github.com/kozaktomas/face-gate/internal/facematch"
	"github.com/kozaktomas/face-gate/internal/gallery"
	"github.com/kozaktomas/face-gate/internal/metrics"
)

// MinSelectIoU is the overlap a detection needs with Options.SelectBBox to be chosen.
const MinSelectIoU = 0.3

// Enrollment results reported on the enrollments metric.
const (
	resultEnrolled = "enrolled"
	resultRejected = "rejected"
	resultFailed   = "failed"
)

// Options tune a single enrollment.
type Options struct {
	// SelectBBox picks one face out of several by overlap, [x1, y1, x2, y2] in source pixels.
	SelectBBox []float64
	// SourceImageRef is stored with the template for traceability.
	SourceImageRef string
}

// Manager enrolls and unenrolls identities.
type Manager struct {
	provider embedding.Provider
	gallery  *gallery.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewManager creates an enrollment manager. m may be nil.
func NewManager(provider embedding.Provider, store *gallery.Store, m *metrics.Metrics) *Manager {
	return &Manager{
		provider: provider,
		gallery:  store,
		metrics:  m,
		logger:   slog.Default().With("component", "enrollment"),
	}
}

// Enroll extracts the face from image and stores it as the identity's template,
// replacing any previous one.
func (m *Manager) Enroll(ctx context.Context, identityID string, image []byte, opts Options) (database.FaceTemplate, error) {
	t, err := m.enroll(ctx, identityID, image, opts)
	switch {
	case err == nil:
		m.metrics.IncrementEnrollment(resultEnrolled)
	case facegate.IsRecoverable(err) || facegate.Kind(err) == facegate.KindInvalidIdentity:
		m.metrics.IncrementEnrollment(resultRejected)
	default:
		m.metrics.IncrementEnrollment(resultFailed)
	}
	return t, err
}

func (m *Manager) enroll(ctx context.Context, identityID string, image []byte, opts Options) (database.FaceTemplate, error) {
	id, err := facematch.NormalizeIdentityID(identityID)
	if err != nil {
		return database.FaceTemplate{}, err
	}
	if opts.SelectBBox != nil && !facematch.ValidBBox(opts.SelectBBox) {
		return database.FaceTemplate{}, fmt.Errorf("invalid selection bbox %v", opts.SelectBBox)
	}

	start := time.Now()
	res, err := m.provider.ExtractFaces(ctx, image)
	m.metrics.ObserveEmbeddingLatency("enroll", time.Since(start))
	if err != nil {
		return database.FaceTemplate{}, fmt.Errorf("extracting faces for %q: %w", id, err)
	}

	face, err := selectFace(res, opts.SelectBBox)
	if err != nil {
		return database.FaceTemplate{}, err
	}

	stored, err := m.gallery.PutTemplate(ctx, database.FaceTemplate{
		IdentityID:     id,
		Embedding:      face.Embedding,
		BBox:           face.BBox,
		DetScore:       face.DetScore,
		Model:          res.Model,
		SourceImageRef: opts.SourceImageRef,
	})
	if err != nil {
		return database.FaceTemplate{}, err
	}

	m.logger.Info("identity enrolled", "identity", id, "template_id", stored.ID, "det_score", face.DetScore)
	return stored, nil
}

// selectFace returns the only face, or the one overlapping sel best.
func selectFace(res *embedding.Result, sel []float64) (embedding.Face, error) {
	if res == nil || len(res.Faces) == 0 {
		return embedding.Face{}, facegate.ErrNoFaceDetected
	}
	if sel == nil {
		if len(res.Faces) > 1 {
			return embedding.Face{}, fmt.Errorf("%w: %d faces, select one with a bounding box",
				facegate.ErrMultipleFacesDetected, len(res.Faces))
		}
		return res.Faces[0], nil
	}

	idx, _ := facematch.BestOverlap(res.BBoxes(), sel, MinSelectIoU)
	if idx < 0 {
		return embedding.Face{}, fmt.Errorf("%w: no face overlaps the selection by IoU %.1f",
			facegate.ErrMultipleFacesDetected, MinSelectIoU)
	}
	return res.Faces[idx], nil
}

// Unenroll removes the identity's template. Unknown identities are not an error.
func (m *Manager) Unenroll(ctx context.Context, identityID string) error {
	if err := m.gallery.Remove(ctx, identityID); err != nil {
		return err
	}
	m.logger.Info("identity unenrolled", "identity", identityID)
	return nil
}
