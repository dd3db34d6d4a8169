package matcher

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/gallery"
	"golang.org/x/sync/singleflight"
)

// HNSWOptions configures the approximate matcher.
type HNSWOptions struct {
	// Candidates is how many graph neighbors are re-scored exactly.
	Candidates int
	// MinGallerySize is the size below which an exact scan is used instead.
	// Zero takes the default, a negative value always uses the graph.
	MinGallerySize int
	// IndexPath persists the graph between restarts when set.
	IndexPath string
}

type builtIndex struct {
	snap *gallery.Snapshot
	idx  *database.HNSWIndex
}

// HNSW answers FindBest from an approximate coder/hnsw graph and re-scores
// its candidates exactly against the snapshot being queried.
//
// A graph belongs to exactly one snapshot. While the graph for the current
// snapshot is being built in the background, FindBest falls back to Linear.
type HNSW struct {
	opts   HNSWOptions
	logger *slog.Logger

	mu       sync.RWMutex
	current  *builtIndex
	next     *gallery.Snapshot // latest snapshot waiting for a background build
	building bool

	group  singleflight.Group
	builds sync.WaitGroup
}

// NewHNSW creates an HNSW matcher. Zero options take the package defaults.
func NewHNSW(opts HNSWOptions) *HNSW {
	if opts.Candidates <= 0 {
		opts.Candidates = database.HNSWCandidates
	}
	if opts.MinGallerySize < 0 {
		opts.MinGallerySize = 0
	} else if opts.MinGallerySize == 0 {
		opts.MinGallerySize = database.HNSWMinGallerySize
	}
	return &HNSW{
		opts:   opts,
		logger: slog.Default().With("component", "matcher"),
	}
}

// FindBest returns the best match among the graph candidates.
func (h *HNSW) FindBest(probe []float32, snap *gallery.Snapshot) (MatchResult, error) {
	if snap == nil || snap.Len() == 0 {
		return noMatch(), nil
	}
	if err := checkDim(probe, snap); err != nil {
		return MatchResult{}, err
	}
	if snap.Len() < h.opts.MinGallerySize {
		return Linear{}.FindBest(probe, snap)
	}

	idx := h.ready(snap)
	if idx == nil {
		h.Refresh(snap)
		return Linear{}.FindBest(probe, snap)
	}

	ids, _, err := idx.Search(probe, h.opts.Candidates)
	if err != nil {
		return MatchResult{}, fmt.Errorf("hnsw search: %w", err)
	}
	if len(ids) == 0 {
		return noMatch(), nil
	}

	// Candidates are offered in enrollment order so ties keep the earliest template.
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	r := newRanking()
	for _, id := range ids {
		t := snap.TemplateByID(id)
		if t == nil {
			continue
		}
		r.offer(t, database.CosineSimilarity(probe, t.Embedding))
	}
	return r.result(), nil
}

// ready returns the graph built for exactly this snapshot, nil if there is none.
func (h *HNSW) ready(snap *gallery.Snapshot) *database.HNSWIndex {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.current != nil && h.current.snap == snap {
		return h.current.idx
	}
	return nil
}

// Refresh schedules a background build of the graph for snap. Calls made
// while a build runs are coalesced so only the latest snapshot is built next.
func (h *HNSW) Refresh(snap *gallery.Snapshot) {
	if snap == nil || snap.Len() == 0 || snap.Len() < h.opts.MinGallerySize {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current != nil && h.current.snap == snap {
		return
	}
	h.next = snap
	if h.building {
		return
	}
	h.building = true
	h.builds.Add(1)
	go h.buildLoop()
}

func (h *HNSW) buildLoop() {
	defer h.builds.Done()
	for {
		h.mu.Lock()
		snap := h.next
		h.next = nil
		if snap == nil {
			h.building = false
			h.mu.Unlock()
			return
		}
		h.mu.Unlock()

		if _, err := h.Index(snap); err != nil {
			h.logger.Warn("background hnsw build failed, using exact scan", "templates", snap.Len(), "error", err)
		}
	}
}

// Wait blocks until scheduled background builds have finished.
func (h *HNSW) Wait() {
	h.builds.Wait()
}

// Index returns the graph for snap, building it at most once even under
// concurrent callers. The built graph becomes the one FindBest uses.
func (h *HNSW) Index(snap *gallery.Snapshot) (*database.HNSWIndex, error) {
	if idx := h.ready(snap); idx != nil {
		return idx, nil
	}

	v, err, _ := h.group.Do(fmt.Sprintf("%p", snap), func() (any, error) {
		if idx := h.ready(snap); idx != nil {
			return idx, nil
		}
		idx, err := h.build(snap)
		if err != nil {
			return nil, err
		}
		h.mu.Lock()
		h.current = &builtIndex{snap: snap, idx: idx}
		h.mu.Unlock()
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*database.HNSWIndex), nil
}

func (h *HNSW) build(snap *gallery.Snapshot) (*database.HNSWIndex, error) {
	meta := database.MetadataFor(snap.Templates())
	if idx := h.loadPersisted(meta); idx != nil {
		return idx, nil
	}

	start := time.Now()
	idx := database.NewHNSWIndex()
	if err := idx.BuildFromTemplates(snap.Templates()); err != nil {
		return nil, fmt.Errorf("building hnsw index: %w", err)
	}
	h.logger.Info("hnsw index built", "templates", idx.Count(), "duration", time.Since(start))

	if h.opts.IndexPath != "" {
		meta.BuildTime = time.Now().UTC()
		if err := idx.SaveWithMetadata(h.opts.IndexPath, meta); err != nil {
			h.logger.Warn("failed to persist hnsw index", "path", h.opts.IndexPath, "error", err)
		}
	}
	return idx, nil
}

// loadPersisted returns the on-disk index if it was built from exactly the
// templates described by want.
func (h *HNSW) loadPersisted(want database.HNSWIndexMetadata) *database.HNSWIndex {
	if h.opts.IndexPath == "" {
		return nil
	}
	meta, err := database.LoadHNSWMetadata(h.opts.IndexPath)
	if err != nil || !meta.IsFresh(want) {
		return nil
	}
	idx := database.NewHNSWIndex()
	if err := idx.LoadWithMetadata(h.opts.IndexPath); err != nil {
		h.logger.Warn("failed to load persisted hnsw index", "path", h.opts.IndexPath, "error", err)
		return nil
	}
	if idx.Dim() != want.Dim || int64(idx.Count()) != want.TemplateCount {
		h.logger.Warn("persisted hnsw index does not match its metadata, rebuilding", "path", h.opts.IndexPath)
		return nil
	}
	h.logger.Info("hnsw index loaded", "path", h.opts.IndexPath, "templates", idx.Count())
	return idx
}

// Rebuild discards any cached or persisted graph and builds a new one for snap.
func (h *HNSW) Rebuild(snap *gallery.Snapshot) (*database.HNSWIndex, error) {
	h.mu.Lock()
	h.current = nil
	h.mu.Unlock()

	idx := database.NewHNSWIndex()
	if err := idx.BuildFromTemplates(snap.Templates()); err != nil {
		return nil, fmt.Errorf("building hnsw index: %w", err)
	}
	if h.opts.IndexPath != "" {
		meta := database.MetadataFor(snap.Templates())
		meta.BuildTime = time.Now().UTC()
		if err := idx.SaveWithMetadata(h.opts.IndexPath, meta); err != nil {
			return nil, fmt.Errorf("saving hnsw index: %w", err)
		}
	}

	h.mu.Lock()
	h.current = &builtIndex{snap: snap, idx: idx}
	h.mu.Unlock()
	return idx, nil
}
