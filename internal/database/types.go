package database

import (
	"time"
)

// FaceTemplate is the single active enrolled embedding for an identity
type FaceTemplate struct {
	ID             int64 // Enrollment sequence; lower means enrolled earlier
	IdentityID     string
	Embedding      []float32
	BBox           []float64 // [x1, y1, x2, y2] in source image pixels
	DetScore       float64
	Model          string
	SourceImageRef string
	EnrolledAt     time.Time
}

// Dim returns the embedding dimensionality of the template.
func (t *FaceTemplate) Dim() int {
	return len(t.Embedding)
}

// Outcome values recorded on a RecognitionAttempt
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeNoFace   = "no_face"
	OutcomeError    = "error"
)

// RecognitionAttempt is an immutable audit record of one recognition call
type RecognitionAttempt struct {
	ID                 string
	IdentityID         string // Empty means no accepted match
	Timestamp          time.Time
	Score              float64
	Accepted           bool
	ProcessingDuration time.Duration
	ProbeImageRef      string
	Outcome            string
	Reason             string // Rejection reason or error kind
}

// AttemptStats aggregates the attempt log for dashboards
type AttemptStats struct {
	TotalAttempts     int
	AcceptedSince     int // Accepted attempts at or after the requested instant
	FailedAttempts    int // All non-accepted attempts
	AvgProcessingTime time.Duration
}

// TemplateHistoryRecord describes a template that was replaced or removed
type TemplateHistoryRecord struct {
	TemplateID     int64
	IdentityID     string
	Model          string
	SourceImageRef string
	EnrolledAt     time.Time
	RetiredAt      time.Time
	RetiredReason  string // "replaced" or "removed"
}
