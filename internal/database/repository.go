package database

import (
	"context"
	"time"
)

// TemplateReader provides read-only access to enrolled face templates
type TemplateReader interface {
	// GetAllTemplates returns every active template ordered by enrollment sequence
	GetAllTemplates(ctx context.Context) ([]FaceTemplate, error)
	// GetTemplate returns the active template for an identity, nil if none
	GetTemplate(ctx context.Context, identityID string) (*FaceTemplate, error)
	// CountTemplates returns the number of enrolled identities
	CountTemplates(ctx context.Context) (int, error)
	// MaxTemplateID returns the highest assigned template ID (0 when empty)
	MaxTemplateID(ctx context.Context) (int64, error)
}

// TemplateWriter provides write access to face templates
type TemplateWriter interface {
	TemplateReader

	// SaveTemplate replaces any active template for the identity in one
	// transaction and returns the stored template with ID and EnrolledAt set.
	// The replaced template is moved to the history table.
	SaveTemplate(ctx context.Context, t FaceTemplate) (FaceTemplate, error)

	// DeleteTemplate removes the active template for an identity.
	// Returns false if the identity had no template.
	DeleteTemplate(ctx context.Context, identityID string) (bool, error)

	// TemplateHistory returns retired templates for an identity, newest first.
	TemplateHistory(ctx context.Context, identityID string) ([]TemplateHistoryRecord, error)
}

// AttemptReader provides read-only access to the recognition audit log
type AttemptReader interface {
	// GetAttempt returns one attempt by ID, nil if not found
	GetAttempt(ctx context.Context, id string) (*RecognitionAttempt, error)
	// ListAttempts returns attempts newest first
	ListAttempts(ctx context.Context, limit, offset int) ([]RecognitionAttempt, error)
	// CountAttempts returns the total number of attempts
	CountAttempts(ctx context.Context) (int, error)
	// AttemptStats aggregates the log; accepted attempts are counted from since
	AttemptStats(ctx context.Context, since time.Time) (AttemptStats, error)
}

// AttemptWriter appends attempts to the audit log. There is no update or delete.
type AttemptWriter interface {
	AttemptReader

	// AppendAttempt persists one attempt in a single atomic write
	AppendAttempt(ctx context.Context, a RecognitionAttempt) error
}
