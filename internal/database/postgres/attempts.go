package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-gate/internal/database"
)

const attemptColumns = `id, identity_id, created_at, score, accepted, processing_us, probe_image_ref, outcome, reason`

// AttemptRepository provides PostgreSQL-backed recognition attempt storage.
// The underlying table rejects UPDATE and DELETE.
type AttemptRepository struct {
	pool *Pool
}

// NewAttemptRepository creates a new PostgreSQL attempt repository.
func NewAttemptRepository(pool *Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

func scanAttemptRow(scanner interface{ Scan(...any) error }) (database.RecognitionAttempt, error) {
	var a database.RecognitionAttempt
	var identityID sql.NullString
	var processingUS int64

	if err := scanner.Scan(
		&a.ID,
		&identityID,
		&a.Timestamp,
		&a.Score,
		&a.Accepted,
		&processingUS,
		&a.ProbeImageRef,
		&a.Outcome,
		&a.Reason,
	); err != nil {
		return a, fmt.Errorf("scan attempt: %w", err)
	}

	a.IdentityID = identityID.String
	a.ProcessingDuration = time.Duration(processingUS) * time.Microsecond
	return a, nil
}

// AppendAttempt stores one recognition attempt.
func (r *AttemptRepository) AppendAttempt(ctx context.Context, a database.RecognitionAttempt) error {
	var identityID sql.NullString
	if a.IdentityID != "" {
		identityID = sql.NullString{String: a.IdentityID, Valid: true}
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO recognition_attempts (id, identity_id, created_at, score, accepted, processing_us, probe_image_ref, outcome, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		a.ID,
		identityID,
		a.Timestamp,
		a.Score,
		a.Accepted,
		a.ProcessingDuration.Microseconds(),
		a.ProbeImageRef,
		a.Outcome,
		a.Reason,
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// GetAttempt returns a single attempt by ID, nil if not found.
func (r *AttemptRepository) GetAttempt(ctx context.Context, id string) (*database.RecognitionAttempt, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+attemptColumns+" FROM recognition_attempts WHERE id = $1", id)
	a, err := scanAttemptRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAttempts returns attempts newest first.
func (r *AttemptRepository) ListAttempts(ctx context.Context, limit, offset int) ([]database.RecognitionAttempt, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+attemptColumns+`
		FROM recognition_attempts
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []database.RecognitionAttempt
	for rows.Next() {
		a, err := scanAttemptRow(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return attempts, nil
}

// CountAttempts returns the total number of logged attempts.
func (r *AttemptRepository) CountAttempts(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM recognition_attempts").Scan(&count); err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return count, nil
}

// AttemptStats aggregates the attempt log. AcceptedSince counts accepted
// attempts at or after since.
func (r *AttemptRepository) AttemptStats(ctx context.Context, since time.Time) (database.AttemptStats, error) {
	var stats database.AttemptStats
	var avgUS sql.NullFloat64

	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE accepted AND created_at >= $1),
			COUNT(*) FILTER (WHERE NOT accepted),
			AVG(processing_us)
		FROM recognition_attempts
	`, since).Scan(&stats.TotalAttempts, &stats.AcceptedSince, &stats.FailedAttempts, &avgUS)
	if err != nil {
		return stats, fmt.Errorf("attempt stats: %w", err)
	}

	if avgUS.Valid {
		stats.AvgProcessingTime = time.Duration(avgUS.Float64) * time.Microsecond
	}
	return stats, nil
}
