// Package embedding talks to the external face embedding service.
package embedding

import (
	"context"
)

// Face is one detected face with its embedding in source image pixels.
type Face struct {
	Embedding []float32
	BBox      []float64 // [x1, y1, x2, y2]
	DetScore  float64
}

// Result is the provider output for one image.
type Result struct {
	Faces []Face
	Model string
}

// Provider turns an image into zero or more face embeddings.
// Implementations must honour ctx cancellation and report an exceeded
// deadline as facegate.ErrProviderTimeout.
type Provider interface {
	ExtractFaces(ctx context.Context, image []byte) (*Result, error)
}

// BestFace returns the face with the highest detection score.
// Earlier faces win ties. ok is false when there are no faces.
func (r *Result) BestFace() (Face, bool) {
	if r == nil || len(r.Faces) == 0 {
		return Face{}, false
	}
	best := 0
	for i := 1; i < len(r.Faces); i++ {
		if r.Faces[i].DetScore > r.Faces[best].DetScore {
			best = i
		}
	}
	return r.Faces[best], true
}

// BBoxes returns the bounding boxes of all faces in provider order.
func (r *Result) BBoxes() [][]float64 {
	if r == nil {
		return nil
	}
	boxes := make([][]float64, len(r.Faces))
	for i := range r.Faces {
		boxes[i] = r.Faces[i].BBox
	}
	return boxes
}
