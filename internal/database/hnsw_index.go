package database

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/coder/hnsw"
)

// HNSWIndexMetadata stores metadata for validating cached HNSW indexes.
type HNSWIndexMetadata struct {
	TemplateCount int64     `json:"template_count"`
	MaxTemplateID int64     `json:"max_template_id"`
	Dim           int       `json:"dim"`
	Fingerprint   string    `json:"fingerprint"` // TemplateFingerprint of the indexed templates
	BuildTime     time.Time `json:"build_time"`
	Version       int       `json:"version"` // For future compatibility
}

const hnswMetadataVersion = 3

// ErrIndexNotInitialized is returned when searching an index with no graph.
var ErrIndexNotInitialized = errors.New("index not initialized")

// HNSWIndex wraps the HNSW graph for face template search.
type HNSWIndex struct {
	graph        *hnsw.Graph[int64]
	idToTemplate map[int64]*FaceTemplate // Maps HNSW node ID (template ID) to template
	dim          int
	mu           sync.RWMutex
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{
		idToTemplate: make(map[int64]*FaceTemplate),
	}
}

func newTemplateGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1 / math.Log(float64(HNSWMaxNeighbors))
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	g.Rng = rand.New(rand.NewSource(HNSWSeed)) //nolint:gosec // level assignment, not security
	return g
}

// BuildFromTemplates builds the index from a slice of templates.
// All templates must share one dimensionality.
func (h *HNSWIndex) BuildFromTemplates(templates []FaceTemplate) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.idToTemplate = make(map[int64]*FaceTemplate, len(templates))
	h.dim = 0
	if len(templates) == 0 {
		h.graph = nil
		return nil
	}

	g := newTemplateGraph()
	for i := range templates {
		t := &templates[i]
		if len(t.Embedding) == 0 {
			continue
		}
		if h.dim == 0 {
			h.dim = len(t.Embedding)
		} else if len(t.Embedding) != h.dim {
			return fmt.Errorf("template %d has dim %d, index has %d", t.ID, len(t.Embedding), h.dim)
		}

		g.Add(hnsw.MakeNode(t.ID, t.Embedding))
		h.idToTemplate[t.ID] = t
	}

	h.graph = g
	return nil
}

// Search finds the k nearest neighbors to the query embedding.
// Returns template IDs and their cosine distances.
func (h *HNSWIndex) Search(query []float32, k int) ([]int64, []float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		return nil, nil, ErrIndexNotInitialized
	}
	if h.graph.Len() == 0 {
		return nil, nil, nil
	}

	neighbors := h.graph.Search(query, k)

	ids := make([]int64, 0, len(neighbors))
	distances := make([]float64, 0, len(neighbors))
	for _, n := range neighbors {
		if _, ok := h.idToTemplate[n.Key]; !ok {
			continue
		}
		ids = append(ids, n.Key)
		distances = append(distances, CosineDistance(query, n.Value))
	}

	return ids, distances, nil
}

// GetTemplate returns the template for a given node ID.
func (h *HNSWIndex) GetTemplate(id int64) *FaceTemplate {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.idToTemplate[id]
}

// Count returns the number of indexed templates.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idToTemplate)
}

// Dim returns the dimensionality of the indexed vectors (0 when empty).
func (h *HNSWIndex) Dim() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dim
}

// IsEmpty returns true if the index has no graph data loaded.
func (h *HNSWIndex) IsEmpty() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graph == nil
}

// SaveWithMetadata persists the graph, a .meta file for staleness detection
// and a .templates file with the indexed templates.
func (h *HNSWIndex) SaveWithMetadata(path string, metadata HNSWIndexMetadata) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		// Remove existing files if index is empty (best-effort cleanup).
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		_ = os.Remove(path + ".templates")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	if err := h.graph.Export(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing HNSW index file: %w", err)
	}

	metadata.Version = hnswMetadataVersion
	metadata.Dim = h.dim
	metaData, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	templates := make([]FaceTemplate, 0, len(h.idToTemplate))
	for _, t := range h.idToTemplate {
		templates = append(templates, *t)
	}
	if err := saveTemplateMetadata(path, templates); err != nil {
		return err
	}

	return nil
}

// LoadHNSWMetadata loads metadata from a separate .meta file.
func LoadHNSWMetadata(path string) (HNSWIndexMetadata, error) {
	var metadata HNSWIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}

	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return metadata, nil
}

// MetadataFor describes templates, ordered by ID, for staleness checks.
func MetadataFor(templates []FaceTemplate) HNSWIndexMetadata {
	m := HNSWIndexMetadata{
		TemplateCount: int64(len(templates)),
		Fingerprint:   TemplateFingerprint(templates),
	}
	if n := len(templates); n > 0 {
		m.MaxTemplateID = templates[n-1].ID
		m.Dim = len(templates[0].Embedding)
	}
	return m
}

// TemplateFingerprint hashes template IDs, identities and embeddings in the
// given order. Galleries whose IDs restart get a different fingerprint even
// when count and highest ID match.
func TemplateFingerprint(templates []FaceTemplate) string {
	h := sha256.New()
	var buf [8]byte
	writeUint := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	for i := range templates {
		t := &templates[i]
		writeUint(uint64(t.ID))
		writeUint(uint64(len(t.IdentityID)))
		h.Write([]byte(t.IdentityID))
		writeUint(uint64(len(t.Embedding)))
		for _, f := range t.Embedding {
			binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(f))
			h.Write(buf[:4])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// IsFresh reports whether persisted metadata m still describes the gallery
// that want was computed for with MetadataFor.
func (m HNSWIndexMetadata) IsFresh(want HNSWIndexMetadata) bool {
	return m.Version == hnswMetadataVersion &&
		m.TemplateCount == want.TemplateCount &&
		m.MaxTemplateID == want.MaxTemplateID &&
		m.Dim == want.Dim &&
		m.Fingerprint != "" &&
		m.Fingerprint == want.Fingerprint
}

func saveTemplateMetadata(path string, templates []FaceTemplate) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(templates); err != nil {
		return fmt.Errorf("failed to encode templates: %w", err)
	}
	if err := os.WriteFile(path+".templates", buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write templates file: %w", err)
	}
	return nil
}

func loadTemplateMetadata(path string) ([]FaceTemplate, error) {
	data, err := os.ReadFile(path + ".templates") //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("failed to read templates file: %w", err)
	}

	var templates []FaceTemplate
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&templates); err != nil {
		return nil, fmt.Errorf("failed to decode templates: %w", err)
	}
	return templates, nil
}

// LoadWithMetadata loads both the HNSW graph and the template metadata from disk.
func (h *HNSWIndex) LoadWithMetadata(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("HNSW index file not found: %s", path)
	}

	saved, err := hnsw.LoadSavedGraph[int64](path)
	if err != nil {
		return fmt.Errorf("failed to load HNSW index: %w", err)
	}

	templates, err := loadTemplateMetadata(path)
	if err != nil {
		return fmt.Errorf("failed to load template metadata: %w", err)
	}

	h.graph = saved.Graph
	h.idToTemplate = make(map[int64]*FaceTemplate, len(templates))
	h.dim = 0
	for i := range templates {
		h.idToTemplate[templates[i].ID] = &templates[i]
		if h.dim == 0 {
			h.dim = len(templates[i].Embedding)
		}
	}

	return nil
}
