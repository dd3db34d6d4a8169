// Package mock provides a scripted embedding.Provider for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/kozaktomas/face-gate/internal/embedding"
	"github.com/kozaktomas/face-gate/internal/facegate"
)

// MockProvider returns preconfigured faces per image.
type MockProvider struct {
	mu      sync.Mutex
	results map[string]*embedding.Result
	calls   int

	// Default is returned for images without a specific result
	Default *embedding.Result
	// Error injection
	Err error
	// Delay blocks each call; a ctx deadline during the delay yields ErrProviderTimeout
	Delay time.Duration
}

// NewMockProvider creates a new mock provider
func NewMockProvider() *MockProvider {
	return &MockProvider{results: make(map[string]*embedding.Result)}
}

// SetFaces registers the faces returned for an exact image payload
func (m *MockProvider) SetFaces(image []byte, faces ...embedding.Face) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[string(image)] = &embedding.Result{Faces: faces, Model: "mock"}
}

// Calls returns the number of ExtractFaces invocations
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// ExtractFaces returns the scripted result for image
func (m *MockProvider) ExtractFaces(ctx context.Context, image []byte) (*embedding.Result, error) {
	m.mu.Lock()
	m.calls++
	res, ok := m.results[string(image)]
	if !ok {
		res = m.Default
	}
	err := m.Err
	delay := m.Delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return nil, facegate.ErrProviderTimeout
			}
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &embedding.Result{Model: "mock"}, nil
	}
	return res, nil
}
