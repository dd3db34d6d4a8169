package matcher

import (
	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/gallery"
)

// Linear is an exact scan over every template in the snapshot.
type Linear struct{}

// FindBest scores every template and returns the best match.
func (Linear) FindBest(probe []float32, snap *gallery.Snapshot) (MatchResult, error) {
	if snap == nil || snap.Len() == 0 {
		return noMatch(), nil
	}
	if err := checkDim(probe, snap); err != nil {
		return MatchResult{}, err
	}

	r := newRanking()
	templates := snap.Templates()
	for i := range templates {
		r.offer(&templates[i], database.CosineSimilarity(probe, templates[i].Embedding))
	}
	return r.result(), nil
}
