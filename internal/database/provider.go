package database

import (
	"errors"
	"fmt"
)

// ErrBackendNotConfigured is returned when neither PostgreSQL nor SQLite is configured.
var ErrBackendNotConfigured = errors.New("no storage backend configured: set DATABASE_URL or SQLITE_PATH")

// Backend bundles the repositories of one storage medium.
// The postgres and sqlite packages construct it to avoid import cycles.
type Backend struct {
	Name      string
	Templates TemplateWriter
	Attempts  AttemptWriter
	closeFn   func() error
}

// NewBackend creates a backend from its repositories and a close function.
func NewBackend(name string, templates TemplateWriter, attempts AttemptWriter, closeFn func() error) *Backend {
	return &Backend{
		Name:      name,
		Templates: templates,
		Attempts:  attempts,
		closeFn:   closeFn,
	}
}

// Close releases the underlying connection.
func (b *Backend) Close() error {
	if b == nil || b.closeFn == nil {
		return nil
	}
	if err := b.closeFn(); err != nil {
		return fmt.Errorf("closing %s backend: %w", b.Name, err)
	}
	return nil
}
