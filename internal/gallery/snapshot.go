package gallery

import (
	"sort"

	"github.com/kozaktomas/face-gate/internal/database"
)

// Snapshot is an immutable view of the gallery at one version.
// Templates are ordered by enrollment sequence (ascending ID).
type Snapshot struct {
	version    uint64
	dim        int
	templates  []database.FaceTemplate
	byIdentity map[string]int
}

var emptySnapshot = &Snapshot{byIdentity: map[string]int{}}

func newSnapshot(version uint64, dim int, templates []database.FaceTemplate) *Snapshot {
	byIdentity := make(map[string]int, len(templates))
	for i := range templates {
		byIdentity[templates[i].IdentityID] = i
	}
	if len(templates) == 0 {
		dim = 0
	}
	return &Snapshot{
		version:    version,
		dim:        dim,
		templates:  templates,
		byIdentity: byIdentity,
	}
}

// NewSnapshot builds a standalone snapshot from templates already ordered by ID.
// Intended for matchers and tests that do not need a Store.
func NewSnapshot(version uint64, templates []database.FaceTemplate) *Snapshot {
	dim := 0
	if len(templates) > 0 {
		dim = len(templates[0].Embedding)
	}
	return newSnapshot(version, dim, templates)
}

// Version increases with every successful write to the gallery.
func (s *Snapshot) Version() uint64 { return s.version }

// Dim is the uniform embedding dimensionality, 0 when empty.
func (s *Snapshot) Dim() int { return s.dim }

// Len returns the number of templates.
func (s *Snapshot) Len() int { return len(s.templates) }

// Templates returns the ordered templates. The slice is shared and must not be modified.
func (s *Snapshot) Templates() []database.FaceTemplate { return s.templates }

// Get returns the template for an identity.
func (s *Snapshot) Get(identityID string) (database.FaceTemplate, bool) {
	i, ok := s.byIdentity[identityID]
	if !ok {
		return database.FaceTemplate{}, false
	}
	return s.templates[i], true
}

// TemplateByID returns the template with the given ID, nil when this snapshot
// does not hold it. The template is shared and must not be modified.
func (s *Snapshot) TemplateByID(id int64) *database.FaceTemplate {
	i := sort.Search(len(s.templates), func(i int) bool { return s.templates[i].ID >= id })
	if i < len(s.templates) && s.templates[i].ID == id {
		return &s.templates[i]
	}
	return nil
}

// MaxTemplateID returns the highest template ID, 0 when empty.
func (s *Snapshot) MaxTemplateID() int64 {
	if len(s.templates) == 0 {
		return 0
	}
	return s.templates[len(s.templates)-1].ID
}

// with returns a new snapshot where identity's template is replaced by t.
func (s *Snapshot) with(t database.FaceTemplate) *Snapshot {
	next := make([]database.FaceTemplate, 0, len(s.templates)+1)
	inserted := false
	for _, cur := range s.templates {
		if cur.IdentityID == t.IdentityID {
			continue
		}
		if !inserted && t.ID < cur.ID {
			next = append(next, t)
			inserted = true
		}
		next = append(next, cur)
	}
	if !inserted {
		next = append(next, t)
	}
	return newSnapshot(s.version+1, len(t.Embedding), next)
}

// without returns a new snapshot without identity's template.
func (s *Snapshot) without(identityID string) *Snapshot {
	next := make([]database.FaceTemplate, 0, len(s.templates))
	for _, cur := range s.templates {
		if cur.IdentityID != identityID {
			next = append(next, cur)
		}
	}
	return newSnapshot(s.version+1, s.dim, next)
}
