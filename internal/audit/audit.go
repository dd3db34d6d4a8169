// Package audit writes and reads the append-only recognition attempt log.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/facegate"
)

// DefaultPageSize is used by Recent when limit is not positive.
const DefaultPageSize = 50

// EnrolledCounter reports the number of enrolled identities.
type EnrolledCounter interface {
	Len() int
}

// Logger records recognition attempts.
type Logger struct {
	attempts database.AttemptWriter
	enrolled EnrolledCounter
	now      func() time.Time
	logger   *slog.Logger
}

// NewLogger creates an attempt logger. enrolled may be nil, in which case
// stats report zero enrolled identities.
func NewLogger(attempts database.AttemptWriter, enrolled EnrolledCounter) *Logger {
	return &Logger{
		attempts: attempts,
		enrolled: enrolled,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default().With("component", "audit"),
	}
}

// Record assigns an ID and timestamp when missing and appends the attempt in
// one atomic write. The stored record is returned.
func (l *Logger) Record(ctx context.Context, a database.RecognitionAttempt) (database.RecognitionAttempt, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = l.now()
	}
	if err := l.attempts.AppendAttempt(ctx, a); err != nil {
		return database.RecognitionAttempt{}, fmt.Errorf("%w: appending attempt: %w", facegate.ErrStoreUnavailable, err)
	}
	l.logger.Debug("attempt recorded", "id", a.ID, "outcome", a.Outcome, "reason", a.Reason)
	return a, nil
}

// Get returns one attempt, nil when unknown.
func (l *Logger) Get(ctx context.Context, id string) (*database.RecognitionAttempt, error) {
	a, err := l.attempts.GetAttempt(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting attempt %s: %w", id, err)
	}
	return a, nil
}

// Page is one page of attempts, newest first.
type Page struct {
	Attempts []database.RecognitionAttempt
	Total    int
	Limit    int
	Offset   int
}

// Recent lists attempts newest first.
func (l *Logger) Recent(ctx context.Context, limit, offset int) (Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	attempts, err := l.attempts.ListAttempts(ctx, limit, offset)
	if err != nil {
		return Page{}, fmt.Errorf("listing attempts: %w", err)
	}
	total, err := l.attempts.CountAttempts(ctx)
	if err != nil {
		return Page{}, fmt.Errorf("counting attempts: %w", err)
	}
	return Page{Attempts: attempts, Total: total, Limit: limit, Offset: offset}, nil
}

// Stats is the dashboard summary.
type Stats struct {
	EnrolledIdentities int
	AcceptedToday      int
	FailedAttempts     int
	TotalAttempts      int
	AvgProcessingTime  time.Duration
}

// Stats aggregates the attempt log. "Today" starts at UTC midnight.
func (l *Logger) Stats(ctx context.Context) (Stats, error) {
	now := l.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	agg, err := l.attempts.AttemptStats(ctx, midnight)
	if err != nil {
		return Stats{}, fmt.Errorf("aggregating attempts: %w", err)
	}
	s := Stats{
		AcceptedToday:     agg.AcceptedSince,
		FailedAttempts:    agg.FailedAttempts,
		TotalAttempts:     agg.TotalAttempts,
		AvgProcessingTime: agg.AvgProcessingTime,
	}
	if l.enrolled != nil {
		s.EnrolledIdentities = l.enrolled.Len()
	}
	return s, nil
}
