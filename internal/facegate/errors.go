// Package facegate holds the error taxonomy shared by the enrollment and
// recognition pipeline.
package facegate

import (
	"context"
	"errors"
)

var (
	// ErrNoFaceDetected is returned when the embedding provider found zero faces.
	ErrNoFaceDetected = errors.New("no face detected")

	// ErrMultipleFacesDetected is returned by enrollment when the image holds
	// more than one face and the caller did not select one.
	ErrMultipleFacesDetected = errors.New("multiple faces detected")

	// ErrInvalidEmbeddingDimension means a vector length disagrees with the
	// gallery dimensionality. It points at a provider/model version mismatch.
	ErrInvalidEmbeddingDimension = errors.New("invalid embedding dimension")

	// ErrAmbiguousMatch marks a rejection by the margin rule.
	ErrAmbiguousMatch = errors.New("ambiguous match")

	// ErrStoreUnavailable wraps persistence failures.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrProviderTimeout is returned when the embedding call exceeded its bound.
	ErrProviderTimeout = errors.New("embedding provider timeout")

	// ErrInvalidIdentity is returned for empty identity ids.
	ErrInvalidIdentity = errors.New("invalid identity id")
)

// Error kinds as reported in outcomes, attempt records and JSON responses.
const (
	KindNoFace           = "no_face_detected"
	KindMultipleFaces    = "multiple_faces_detected"
	KindInvalidDimension = "invalid_embedding_dimension"
	KindAmbiguousMatch   = "ambiguous_match"
	KindStoreUnavailable = "store_unavailable"
	KindProviderTimeout  = "provider_timeout"
	KindInvalidIdentity  = "invalid_identity"
	KindCanceled         = "canceled"
	KindInternal         = "internal"
)

// Kind maps an error to its stable kind string.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoFaceDetected):
		return KindNoFace
	case errors.Is(err, ErrMultipleFacesDetected):
		return KindMultipleFaces
	case errors.Is(err, ErrInvalidEmbeddingDimension):
		return KindInvalidDimension
	case errors.Is(err, ErrAmbiguousMatch):
		return KindAmbiguousMatch
	case errors.Is(err, ErrStoreUnavailable):
		return KindStoreUnavailable
	case errors.Is(err, ErrProviderTimeout):
		return KindProviderTimeout
	case errors.Is(err, ErrInvalidIdentity):
		return KindInvalidIdentity
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindInternal
	}
}

// IsStructural reports whether err makes any recognition decision impossible.
// Structural errors propagate to the caller as hard failures.
func IsStructural(err error) bool {
	return errors.Is(err, ErrInvalidEmbeddingDimension) || errors.Is(err, ErrStoreUnavailable)
}

// IsRecoverable reports whether the caller may retry with a better input.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrNoFaceDetected) || errors.Is(err, ErrMultipleFacesDetected)
}
