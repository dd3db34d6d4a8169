package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

const templateColumns = `id, identity_id, embedding, bbox, det_score, model, source_image_ref, enrolled_at`

// TemplateRepository provides PostgreSQL-backed face template storage.
type TemplateRepository struct {
	pool *Pool
}

// NewTemplateRepository creates a new PostgreSQL template repository.
func NewTemplateRepository(pool *Pool) *TemplateRepository {
	return &TemplateRepository{pool: pool}
}

// scanTemplateRow scans a single row into a FaceTemplate.
func scanTemplateRow(scanner interface{ Scan(...any) error }) (database.FaceTemplate, error) {
	var t database.FaceTemplate
	var vec pgvector.Vector
	var bbox pq.Float64Array

	if err := scanner.Scan(
		&t.ID,
		&t.IdentityID,
		&vec,
		&bbox,
		&t.DetScore,
		&t.Model,
		&t.SourceImageRef,
		&t.EnrolledAt,
	); err != nil {
		return t, fmt.Errorf("scan template: %w", err)
	}

	t.Embedding = vec.Slice()
	if len(bbox) > 0 {
		t.BBox = []float64(bbox)
	}
	return t, nil
}

func scanTemplates(rows *sql.Rows) ([]database.FaceTemplate, error) {
	var templates []database.FaceTemplate
	for rows.Next() {
		t, err := scanTemplateRow(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return templates, nil
}

// GetAllTemplates returns every active template ordered by enrollment sequence.
func (r *TemplateRepository) GetAllTemplates(ctx context.Context) ([]database.FaceTemplate, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+templateColumns+" FROM face_templates ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	return scanTemplates(rows)
}

// GetTemplate returns the active template for an identity, nil if none.
func (r *TemplateRepository) GetTemplate(ctx context.Context, identityID string) (*database.FaceTemplate, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+templateColumns+" FROM face_templates WHERE identity_id = $1", identityID)
	t, err := scanTemplateRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CountTemplates returns the number of enrolled identities.
func (r *TemplateRepository) CountTemplates(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM face_templates").Scan(&count); err != nil {
		return 0, fmt.Errorf("count templates: %w", err)
	}
	return count, nil
}

// MaxTemplateID returns the highest assigned template ID.
func (r *TemplateRepository) MaxTemplateID(ctx context.Context) (int64, error) {
	var maxID int64
	if err := r.pool.QueryRow(ctx, "SELECT COALESCE(MAX(id), 0) FROM face_templates").Scan(&maxID); err != nil {
		return 0, fmt.Errorf("max template id: %w", err)
	}
	return maxID, nil
}

// retireTemplate moves the identity's active template, if any, to template_history.
func retireTemplate(ctx context.Context, tx *sql.Tx, identityID, reason string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO template_history (template_id, identity_id, model, source_image_ref, enrolled_at, retired_reason)
		SELECT id, identity_id, model, source_image_ref, enrolled_at, $2
		FROM face_templates
		WHERE identity_id = $1
	`, identityID, reason)
	if err != nil {
		return false, fmt.Errorf("archive template: %w", err)
	}
	archived, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	if archived == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM face_templates WHERE identity_id = $1", identityID); err != nil {
		return false, fmt.Errorf("delete template: %w", err)
	}
	return true, nil
}

// lockIdentity serializes writers for one identity across processes until the transaction ends.
func lockIdentity(ctx context.Context, tx *sql.Tx, identityID string) error {
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", identityID); err != nil {
		return fmt.Errorf("lock identity: %w", err)
	}
	return nil
}

// SaveTemplate replaces the identity's active template in one transaction.
func (r *TemplateRepository) SaveTemplate(ctx context.Context, t database.FaceTemplate) (database.FaceTemplate, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return t, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := lockIdentity(ctx, tx, t.IdentityID); err != nil {
		return t, err
	}
	if _, err := retireTemplate(ctx, tx, t.IdentityID, "replaced"); err != nil {
		return t, err
	}

	var bbox any
	if len(t.BBox) > 0 {
		bbox = pq.Array(t.BBox)
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO face_templates (identity_id, embedding, dim, bbox, det_score, model, source_image_ref, enrolled_at)
		VALUES ($1, $2::vector, $3, $4, $5, $6, $7, NOW())
		RETURNING id, enrolled_at
	`,
		t.IdentityID,
		pgvector.NewVector(t.Embedding),
		len(t.Embedding),
		bbox,
		t.DetScore,
		t.Model,
		t.SourceImageRef,
	).Scan(&t.ID, &t.EnrolledAt)
	if err != nil {
		return t, fmt.Errorf("insert template: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return t, fmt.Errorf("commit transaction: %w", err)
	}
	return t, nil
}

// DeleteTemplate removes the active template for an identity.
func (r *TemplateRepository) DeleteTemplate(ctx context.Context, identityID string) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := lockIdentity(ctx, tx, identityID); err != nil {
		return false, err
	}
	removed, err := retireTemplate(ctx, tx, identityID, "removed")
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}
	return removed, nil
}

// TemplateHistory returns retired templates for an identity, newest first.
func (r *TemplateRepository) TemplateHistory(ctx context.Context, identityID string) ([]database.TemplateHistoryRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT template_id, identity_id, model, source_image_ref, enrolled_at, retired_at, retired_reason
		FROM template_history
		WHERE identity_id = $1
		ORDER BY retired_at DESC, template_id DESC
	`, identityID)
	if err != nil {
		return nil, fmt.Errorf("query template history: %w", err)
	}
	defer rows.Close()

	var records []database.TemplateHistoryRecord
	for rows.Next() {
		var rec database.TemplateHistoryRecord
		if err := rows.Scan(
			&rec.TemplateID,
			&rec.IdentityID,
			&rec.Model,
			&rec.SourceImageRef,
			&rec.EnrolledAt,
			&rec.RetiredAt,
			&rec.RetiredReason,
		); err != nil {
			return nil, fmt.Errorf("scan template history: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate template history: %w", err)
	}
	return records, nil
}
