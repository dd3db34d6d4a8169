// Package sqlite provides a single-file SQLite backend for templates and
// recognition attempts using modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/kozaktomas/face-gate/internal/database"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements database.TemplateWriter and database.AttemptWriter on SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens or creates the database at path.
// Parent directories are created if needed.
func NewStore(path string) (*Store, error) {
	logger := slog.Default().With("component", "sqlite")

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection serializes writers and keeps per-connection pragmas in effect.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("executing %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// OpenBackend opens the store and bundles it as a database.Backend.
func OpenBackend(path string) (*database.Backend, error) {
	s, err := NewStore(path)
	if err != nil {
		return nil, err
	}
	return database.NewBackend("sqlite", s, s, s.Close), nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing sqlite database: %w", err)
	}
	return nil
}

func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS face_templates (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			identity_id      TEXT NOT NULL UNIQUE,
			embedding        BLOB NOT NULL,
			dim              INTEGER NOT NULL,
			bbox             BLOB,
			det_score        REAL NOT NULL DEFAULT 0,
			model            TEXT NOT NULL DEFAULT '',
			source_image_ref TEXT NOT NULL DEFAULT '',
			enrolled_at      TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS template_history (
			template_id      INTEGER PRIMARY KEY,
			identity_id      TEXT NOT NULL,
			model            TEXT NOT NULL DEFAULT '',
			source_image_ref TEXT NOT NULL DEFAULT '',
			enrolled_at      TEXT NOT NULL,
			retired_at       TEXT NOT NULL,
			retired_reason   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_template_history_identity
			ON template_history(identity_id);

		CREATE TABLE IF NOT EXISTS recognition_attempts (
			id              TEXT PRIMARY KEY,
			identity_id     TEXT,
			created_at      TEXT NOT NULL,
			score           REAL NOT NULL,
			accepted        INTEGER NOT NULL,
			processing_us   INTEGER NOT NULL DEFAULT 0,
			probe_image_ref TEXT NOT NULL DEFAULT '',
			outcome         TEXT NOT NULL,
			reason          TEXT NOT NULL DEFAULT '',

			CHECK (outcome IN ('accepted', 'rejected', 'no_face', 'error'))
		);

		CREATE INDEX IF NOT EXISTS idx_recognition_attempts_created
			ON recognition_attempts(created_at);

		CREATE TRIGGER IF NOT EXISTS recognition_attempts_no_update
			BEFORE UPDATE ON recognition_attempts
			BEGIN SELECT RAISE(ABORT, 'recognition_attempts is append-only'); END;

		CREATE TRIGGER IF NOT EXISTS recognition_attempts_no_delete
			BEFORE DELETE ON recognition_attempts
			BEGIN SELECT RAISE(ABORT, 'recognition_attempts is append-only'); END;
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// encodeFloat32s packs a vector as little-endian IEEE 754 values.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

func encodeFloat64s(v []float64) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(f))
	}
	return buf
}

func decodeFloat64s(b []byte) ([]float64, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("bbox blob length %d is not a multiple of 8", len(b))
	}
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return v, nil
}

// withTx runs fn in a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
