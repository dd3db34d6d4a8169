package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-gate/internal/database"
)

const templateColumns = `id, identity_id, embedding, bbox, det_score, model, source_image_ref, enrolled_at`

func scanTemplate(scanner interface{ Scan(...any) error }) (database.FaceTemplate, error) {
	var t database.FaceTemplate
	var embedding, bbox []byte
	var enrolledAt string

	if err := scanner.Scan(
		&t.ID,
		&t.IdentityID,
		&embedding,
		&bbox,
		&t.DetScore,
		&t.Model,
		&t.SourceImageRef,
		&enrolledAt,
	); err != nil {
		return t, fmt.Errorf("scanning template: %w", err)
	}

	var err error
	if t.Embedding, err = decodeFloat32s(embedding); err != nil {
		return t, err
	}
	if t.BBox, err = decodeFloat64s(bbox); err != nil {
		return t, err
	}
	if t.EnrolledAt, err = parseTime(enrolledAt); err != nil {
		return t, err
	}
	return t, nil
}

// GetAllTemplates returns every active template ordered by enrollment sequence.
func (s *Store) GetAllTemplates(ctx context.Context) ([]database.FaceTemplate, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+templateColumns+" FROM face_templates ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying templates: %w", err)
	}
	defer rows.Close()

	var templates []database.FaceTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating templates: %w", err)
	}
	return templates, nil
}

// GetTemplate returns the active template for an identity, nil if none.
func (s *Store) GetTemplate(ctx context.Context, identityID string) (*database.FaceTemplate, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+templateColumns+" FROM face_templates WHERE identity_id = ?", identityID)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CountTemplates returns the number of enrolled identities.
func (s *Store) CountTemplates(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM face_templates").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting templates: %w", err)
	}
	return count, nil
}

// MaxTemplateID returns the highest assigned template ID.
func (s *Store) MaxTemplateID(ctx context.Context) (int64, error) {
	var maxID int64
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) FROM face_templates").Scan(&maxID); err != nil {
		return 0, fmt.Errorf("reading max template id: %w", err)
	}
	return maxID, nil
}

func retireTemplate(ctx context.Context, tx *sql.Tx, identityID, reason string, now time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO template_history (template_id, identity_id, model, source_image_ref, enrolled_at, retired_at, retired_reason)
		SELECT id, identity_id, model, source_image_ref, enrolled_at, ?, ?
		FROM face_templates
		WHERE identity_id = ?
	`, formatTime(now), reason, identityID)
	if err != nil {
		return false, fmt.Errorf("archiving template: %w", err)
	}
	archived, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	if archived == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM face_templates WHERE identity_id = ?", identityID); err != nil {
		return false, fmt.Errorf("deleting template: %w", err)
	}
	return true, nil
}

// SaveTemplate replaces the identity's active template in one transaction.
func (s *Store) SaveTemplate(ctx context.Context, t database.FaceTemplate) (database.FaceTemplate, error) {
	now := time.Now().UTC()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		replaced, err := retireTemplate(ctx, tx, t.IdentityID, "replaced", now)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO face_templates (identity_id, embedding, dim, bbox, det_score, model, source_image_ref, enrolled_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			t.IdentityID,
			encodeFloat32s(t.Embedding),
			len(t.Embedding),
			encodeFloat64s(t.BBox),
			t.DetScore,
			t.Model,
			t.SourceImageRef,
			formatTime(now),
		)
		if err != nil {
			return fmt.Errorf("inserting template: %w", err)
		}
		if t.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("reading template id: %w", err)
		}
		t.EnrolledAt = now

		s.logger.Debug("saved template", "identity", t.IdentityID, "id", t.ID, "replaced", replaced)
		return nil
	})
	if err != nil {
		return t, err
	}
	return t, nil
}

// DeleteTemplate removes the active template for an identity.
func (s *Store) DeleteTemplate(ctx context.Context, identityID string) (bool, error) {
	var removed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		removed, err = retireTemplate(ctx, tx, identityID, "removed", time.Now().UTC())
		return err
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// TemplateHistory returns retired templates for an identity, newest first.
func (s *Store) TemplateHistory(ctx context.Context, identityID string) ([]database.TemplateHistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT template_id, identity_id, model, source_image_ref, enrolled_at, retired_at, retired_reason
		FROM template_history
		WHERE identity_id = ?
		ORDER BY retired_at DESC, template_id DESC
	`, identityID)
	if err != nil {
		return nil, fmt.Errorf("querying template history: %w", err)
	}
	defer rows.Close()

	var records []database.TemplateHistoryRecord
	for rows.Next() {
		var rec database.TemplateHistoryRecord
		var enrolledAt, retiredAt string
		if err := rows.Scan(
			&rec.TemplateID,
			&rec.IdentityID,
			&rec.Model,
			&rec.SourceImageRef,
			&enrolledAt,
			&retiredAt,
			&rec.RetiredReason,
		); err != nil {
			return nil, fmt.Errorf("scanning template history: %w", err)
		}
		if rec.EnrolledAt, err = parseTime(enrolledAt); err != nil {
			return nil, err
		}
		if rec.RetiredAt, err = parseTime(retiredAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating template history: %w", err)
	}
	return records, nil
}
