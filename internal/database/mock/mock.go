// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/face-gate/internal/database"
)

// MockTemplateStore is a mock implementation of database.TemplateWriter
type MockTemplateStore struct {
	mu        sync.RWMutex
	templates map[string]database.FaceTemplate
	history   map[string][]database.TemplateHistoryRecord
	nextID    int64

	// Now overrides the enrollment clock when set
	Now func() time.Time

	// Error injection
	GetAllError   error
	GetError      error
	CountError    error
	MaxIDError    error
	SaveError     error
	DeleteError   error
	HistoryError  error
	SaveCallCount int
}

// NewMockTemplateStore creates a new mock template store
func NewMockTemplateStore() *MockTemplateStore {
	return &MockTemplateStore{
		templates: make(map[string]database.FaceTemplate),
		history:   make(map[string][]database.TemplateHistoryRecord),
	}
}

// AddTemplate seeds a template without going through SaveTemplate.
// A zero ID is replaced with the next sequence value.
func (m *MockTemplateStore) AddTemplate(t database.FaceTemplate) database.FaceTemplate {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == 0 {
		m.nextID++
		t.ID = m.nextID
	} else if t.ID > m.nextID {
		m.nextID = t.ID
	}
	m.templates[t.IdentityID] = t
	return t
}

func (m *MockTemplateStore) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}

// GetAllTemplates returns all templates ordered by ID
func (m *MockTemplateStore) GetAllTemplates(ctx context.Context) ([]database.FaceTemplate, error) {
	if m.GetAllError != nil {
		return nil, m.GetAllError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]database.FaceTemplate, 0, len(m.templates))
	for _, t := range m.templates {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// GetTemplate returns the template for an identity
func (m *MockTemplateStore) GetTemplate(ctx context.Context, identityID string) (*database.FaceTemplate, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[identityID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// CountTemplates returns the number of templates
func (m *MockTemplateStore) CountTemplates(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.templates), nil
}

// MaxTemplateID returns the highest template ID
func (m *MockTemplateStore) MaxTemplateID(ctx context.Context) (int64, error) {
	if m.MaxIDError != nil {
		return 0, m.MaxIDError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var maxID int64
	for _, t := range m.templates {
		if t.ID > maxID {
			maxID = t.ID
		}
	}
	return maxID, nil
}

func (m *MockTemplateStore) retire(identityID, reason string, at time.Time) bool {
	old, ok := m.templates[identityID]
	if !ok {
		return false
	}
	m.history[identityID] = append([]database.TemplateHistoryRecord{{
		TemplateID:     old.ID,
		IdentityID:     old.IdentityID,
		Model:          old.Model,
		SourceImageRef: old.SourceImageRef,
		EnrolledAt:     old.EnrolledAt,
		RetiredAt:      at,
		RetiredReason:  reason,
	}}, m.history[identityID]...)
	delete(m.templates, identityID)
	return true
}

// SaveTemplate replaces the template for an identity
func (m *MockTemplateStore) SaveTemplate(ctx context.Context, t database.FaceTemplate) (database.FaceTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCallCount++
	if m.SaveError != nil {
		return t, m.SaveError
	}
	now := m.now()
	m.retire(t.IdentityID, "replaced", now)
	m.nextID++
	t.ID = m.nextID
	t.EnrolledAt = now
	t.Embedding = append([]float32(nil), t.Embedding...)
	m.templates[t.IdentityID] = t
	return t, nil
}

// DeleteTemplate removes the template for an identity
func (m *MockTemplateStore) DeleteTemplate(ctx context.Context, identityID string) (bool, error) {
	if m.DeleteError != nil {
		return false, m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retire(identityID, "removed", m.now()), nil
}

// TemplateHistory returns retired templates newest first
func (m *MockTemplateStore) TemplateHistory(ctx context.Context, identityID string) ([]database.TemplateHistoryRecord, error) {
	if m.HistoryError != nil {
		return nil, m.HistoryError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]database.TemplateHistoryRecord(nil), m.history[identityID]...), nil
}

// MockAttemptLog is a mock implementation of database.AttemptWriter
type MockAttemptLog struct {
	mu       sync.RWMutex
	attempts []database.RecognitionAttempt

	// Error injection
	AppendError error
	GetError    error
	ListError   error
	CountError  error
	StatsError  error
}

// NewMockAttemptLog creates a new mock attempt log
func NewMockAttemptLog() *MockAttemptLog {
	return &MockAttemptLog{}
}

// AppendAttempt stores an attempt
func (m *MockAttemptLog) AppendAttempt(ctx context.Context, a database.RecognitionAttempt) error {
	if m.AppendError != nil {
		return m.AppendError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	return nil
}

// Attempts returns a copy of all stored attempts in insertion order
func (m *MockAttemptLog) Attempts() []database.RecognitionAttempt {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]database.RecognitionAttempt(nil), m.attempts...)
}

// GetAttempt returns an attempt by ID
func (m *MockAttemptLog) GetAttempt(ctx context.Context, id string) (*database.RecognitionAttempt, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.attempts {
		if m.attempts[i].ID == id {
			a := m.attempts[i]
			return &a, nil
		}
	}
	return nil, nil
}

// ListAttempts returns attempts newest first
func (m *MockAttemptLog) ListAttempts(ctx context.Context, limit, offset int) ([]database.RecognitionAttempt, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	sorted := append([]database.RecognitionAttempt(nil), m.attempts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})
	if offset >= len(sorted) {
		return nil, nil
	}
	sorted = sorted[offset:]
	if limit > 0 && limit < len(sorted) {
		sorted = sorted[:limit]
	}
	return sorted, nil
}

// CountAttempts returns the number of attempts
func (m *MockAttemptLog) CountAttempts(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.attempts), nil
}

// AttemptStats aggregates the stored attempts
func (m *MockAttemptLog) AttemptStats(ctx context.Context, since time.Time) (database.AttemptStats, error) {
	if m.StatsError != nil {
		return database.AttemptStats{}, m.StatsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats database.AttemptStats
	var total time.Duration
	for _, a := range m.attempts {
		stats.TotalAttempts++
		total += a.ProcessingDuration
		if a.Accepted {
			if !a.Timestamp.Before(since) {
				stats.AcceptedSince++
			}
		} else {
			stats.FailedAttempts++
		}
	}
	if stats.TotalAttempts > 0 {
		stats.AvgProcessingTime = total / time.Duration(stats.TotalAttempts)
	}
	return stats, nil
}
