// Package gallery holds the in-memory set of enrolled face templates.
//
// Readers take a Snapshot, which is immutable and lock free. Writers for the
// same identity are serialized by a per-identity mutex, persist through the
// configured database.TemplateWriter, and only then publish a new snapshot.
package gallery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/facegate"
	"github.com/kozaktomas/face-gate/internal/facematch"
	"github.com/kozaktomas/face-gate/internal/metrics"
)

var timeNow = func() time.Time { return time.Now().UTC() }

// Options configures a Store.
type Options struct {
	// Dim pins the embedding dimensionality. 0 lets the first put decide.
	Dim int
	// Metrics receives gallery size updates. May be nil.
	Metrics *metrics.Metrics
	// OnPublish is called with every newly published snapshot. It runs while
	// writers are held off and must not block or call back into the Store.
	OnPublish func(*Snapshot)
}

// Store is the template gallery.
type Store struct {
	persist   database.TemplateWriter // nil keeps the gallery in memory only
	pinnedDim int
	metrics   *metrics.Metrics
	onPublish func(*Snapshot)
	logger    *slog.Logger

	snap atomic.Pointer[Snapshot]

	identityLocks sync.Map // identity id -> *sync.Mutex

	// swapMu guards snapshot publication and the dimension reservation.
	swapMu      sync.Mutex
	reservedDim int
	pendingPuts int
	nextID      int64 // memory-only ID sequence
}

// NewStore creates a gallery backed by persist. A nil persist keeps templates in memory.
func NewStore(persist database.TemplateWriter, opts Options) *Store {
	s := &Store{
		persist:   persist,
		pinnedDim: opts.Dim,
		metrics:   opts.Metrics,
		onPublish: opts.OnPublish,
		logger:    slog.Default().With("component", "gallery"),
	}
	s.snap.Store(emptySnapshot)
	return s
}

// Snapshot returns the current consistent view of the gallery.
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Len returns the number of enrolled identities.
func (s *Store) Len() int {
	return s.Snapshot().Len()
}

// Dim returns the established dimensionality, 0 if none yet.
func (s *Store) Dim() int {
	if s.pinnedDim > 0 {
		return s.pinnedDim
	}
	if d := s.Snapshot().Dim(); d > 0 {
		return d
	}
	s.swapMu.Lock()
	defer s.swapMu.Unlock()
	return s.reservedDim
}

// Get returns the active template for an identity.
func (s *Store) Get(identityID string) (database.FaceTemplate, bool) {
	id, err := facematch.NormalizeIdentityID(identityID)
	if err != nil {
		return database.FaceTemplate{}, false
	}
	return s.Snapshot().Get(id)
}

func (s *Store) lockIdentity(identityID string) func() {
	v, _ := s.identityLocks.LoadOrStore(identityID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Load replaces the gallery with the persisted templates.
func (s *Store) Load(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}

	templates, err := s.persist.GetAllTemplates(ctx)
	if err != nil {
		return fmt.Errorf("%w: loading templates: %w", facegate.ErrStoreUnavailable, err)
	}

	dim := s.pinnedDim
	for i := range templates {
		d := len(templates[i].Embedding)
		if dim == 0 {
			dim = d
		}
		if d != dim {
			return fmt.Errorf("%w: template %d for %q has %d dimensions, gallery has %d",
				facegate.ErrInvalidEmbeddingDimension, templates[i].ID, templates[i].IdentityID, d, dim)
		}
	}

	s.swapMu.Lock()
	defer s.swapMu.Unlock()
	next := newSnapshot(s.Snapshot().Version()+1, dim, templates)
	s.publish(next)
	s.nextID = next.MaxTemplateID()

	s.logger.Info("gallery loaded", "templates", next.Len(), "dim", next.Dim())
	return nil
}

// publish swaps in next. Callers hold swapMu.
func (s *Store) publish(next *Snapshot) {
	s.snap.Store(next)
	s.metrics.SetGalleryTemplates(next.Len())
	if s.onPublish != nil {
		s.onPublish(next)
	}
}

// reserveDim checks d against the established dimensionality and, for the
// first put into an empty unpinned gallery, claims it.
func (s *Store) reserveDim(d int) error {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()

	expected := s.pinnedDim
	if expected == 0 {
		expected = s.snap.Load().Dim()
	}
	if expected == 0 {
		expected = s.reservedDim
	}
	if expected == 0 {
		s.reservedDim = d
		expected = d
	}
	if d != expected {
		return fmt.Errorf("%w: got %d, gallery has %d", facegate.ErrInvalidEmbeddingDimension, d, expected)
	}
	s.pendingPuts++
	return nil
}

// releaseDim ends a reservation made by reserveDim. An empty gallery whose
// only writers failed forgets the reserved dimensionality.
func (s *Store) releaseDim() {
	s.pendingPuts--
	if s.pendingPuts == 0 && s.snap.Load().Len() == 0 {
		s.reservedDim = 0
	}
}

// Put enrolls or replaces the template for an identity.
func (s *Store) Put(ctx context.Context, identityID string, embedding []float32, sourceImageRef string) (database.FaceTemplate, error) {
	return s.PutTemplate(ctx, database.FaceTemplate{
		IdentityID:     identityID,
		Embedding:      embedding,
		SourceImageRef: sourceImageRef,
	})
}

// PutTemplate enrolls or replaces t.IdentityID with the given template and
// metadata. ID and EnrolledAt are assigned by the store.
func (s *Store) PutTemplate(ctx context.Context, t database.FaceTemplate) (database.FaceTemplate, error) {
	id, err := facematch.NormalizeIdentityID(t.IdentityID)
	if err != nil {
		return database.FaceTemplate{}, err
	}
	t.IdentityID = id
	if len(t.Embedding) == 0 {
		return database.FaceTemplate{}, fmt.Errorf("%w: empty embedding", facegate.ErrInvalidEmbeddingDimension)
	}
	t.Embedding = append([]float32(nil), t.Embedding...)

	unlock := s.lockIdentity(id)
	defer unlock()

	if err := s.reserveDim(len(t.Embedding)); err != nil {
		return database.FaceTemplate{}, err
	}

	stored, err := s.persistTemplate(ctx, t)

	s.swapMu.Lock()
	defer s.swapMu.Unlock()
	defer s.releaseDim()

	if err != nil {
		return database.FaceTemplate{}, err
	}

	next := s.snap.Load().with(stored)
	s.publish(next)

	s.logger.Debug("template stored", "identity", id, "template_id", stored.ID, "version", next.Version())
	return stored, nil
}

func (s *Store) persistTemplate(ctx context.Context, t database.FaceTemplate) (database.FaceTemplate, error) {
	if s.persist == nil {
		s.swapMu.Lock()
		s.nextID++
		t.ID = s.nextID
		s.swapMu.Unlock()
		t.EnrolledAt = timeNow()
		return t, nil
	}

	stored, err := s.persist.SaveTemplate(ctx, t)
	if err != nil {
		return database.FaceTemplate{}, fmt.Errorf("%w: saving template for %q: %w", facegate.ErrStoreUnavailable, t.IdentityID, err)
	}
	return stored, nil
}

// Remove deletes the identity's template. Removing an absent identity is a no-op.
func (s *Store) Remove(ctx context.Context, identityID string) error {
	id, err := facematch.NormalizeIdentityID(identityID)
	if err != nil {
		return err
	}

	unlock := s.lockIdentity(id)
	defer unlock()

	if s.persist != nil {
		if _, err := s.persist.DeleteTemplate(ctx, id); err != nil {
			return fmt.Errorf("%w: deleting template for %q: %w", facegate.ErrStoreUnavailable, id, err)
		}
	}

	s.swapMu.Lock()
	defer s.swapMu.Unlock()

	cur := s.snap.Load()
	if _, ok := cur.Get(id); !ok {
		return nil
	}
	next := cur.without(id)
	s.publish(next)
	if next.Len() == 0 && s.pendingPuts == 0 {
		s.reservedDim = 0
	}

	s.logger.Debug("template removed", "identity", id, "version", next.Version())
	return nil
}

// History returns the retired templates of an identity, newest first.
// A memory-only gallery keeps no history.
func (s *Store) History(ctx context.Context, identityID string) ([]database.TemplateHistoryRecord, error) {
	id, err := facematch.NormalizeIdentityID(identityID)
	if err != nil {
		return nil, err
	}
	if s.persist == nil {
		return nil, nil
	}
	records, err := s.persist.TemplateHistory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: template history for %q: %w", facegate.ErrStoreUnavailable, id, err)
	}
	return records, nil
}
