package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-gate/internal/database"
)

const attemptColumns = `id, identity_id, created_at, score, accepted, processing_us, probe_image_ref, outcome, reason`

func scanAttempt(scanner interface{ Scan(...any) error }) (database.RecognitionAttempt, error) {
	var a database.RecognitionAttempt
	var identityID sql.NullString
	var createdAt string
	var processingUS int64

	if err := scanner.Scan(
		&a.ID,
		&identityID,
		&createdAt,
		&a.Score,
		&a.Accepted,
		&processingUS,
		&a.ProbeImageRef,
		&a.Outcome,
		&a.Reason,
	); err != nil {
		return a, fmt.Errorf("scanning attempt: %w", err)
	}

	ts, err := parseTime(createdAt)
	if err != nil {
		return a, err
	}
	a.Timestamp = ts
	a.IdentityID = identityID.String
	a.ProcessingDuration = time.Duration(processingUS) * time.Microsecond
	return a, nil
}

// AppendAttempt stores one recognition attempt in a single INSERT.
func (s *Store) AppendAttempt(ctx context.Context, a database.RecognitionAttempt) error {
	var identityID *string
	if a.IdentityID != "" {
		identityID = &a.IdentityID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recognition_attempts (id, identity_id, created_at, score, accepted, processing_us, probe_image_ref, outcome, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID,
		identityID,
		formatTime(a.Timestamp),
		a.Score,
		a.Accepted,
		a.ProcessingDuration.Microseconds(),
		a.ProbeImageRef,
		a.Outcome,
		a.Reason,
	)
	if err != nil {
		return fmt.Errorf("inserting attempt: %w", err)
	}

	s.logger.Debug("appended attempt", "id", a.ID, "outcome", a.Outcome)
	return nil
}

// GetAttempt returns a single attempt by ID, nil if not found.
func (s *Store) GetAttempt(ctx context.Context, id string) (*database.RecognitionAttempt, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+attemptColumns+" FROM recognition_attempts WHERE id = ?", id)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAttempts returns attempts newest first.
func (s *Store) ListAttempts(ctx context.Context, limit, offset int) ([]database.RecognitionAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+attemptColumns+`
		FROM recognition_attempts
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying attempts: %w", err)
	}
	defer rows.Close()

	var attempts []database.RecognitionAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attempts: %w", err)
	}
	return attempts, nil
}

// CountAttempts returns the total number of logged attempts.
func (s *Store) CountAttempts(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM recognition_attempts").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting attempts: %w", err)
	}
	return count, nil
}

// AttemptStats aggregates the attempt log.
func (s *Store) AttemptStats(ctx context.Context, since time.Time) (database.AttemptStats, error) {
	var stats database.AttemptStats
	var avgUS sql.NullFloat64

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN accepted = 1 AND created_at >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN accepted = 0 THEN 1 ELSE 0 END), 0),
			AVG(processing_us)
		FROM recognition_attempts
	`, formatTime(since)).Scan(&stats.TotalAttempts, &stats.AcceptedSince, &stats.FailedAttempts, &avgUS)
	if err != nil {
		return stats, fmt.Errorf("aggregating attempts: %w", err)
	}

	if avgUS.Valid {
		stats.AvgProcessingTime = time.Duration(avgUS.Float64) * time.Microsecond
	}
	return stats, nil
}
