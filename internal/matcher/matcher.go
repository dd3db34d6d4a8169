// Package matcher finds the closest enrolled template for a probe embedding.
package matcher

import (
	"fmt"

	"github.com/kozaktomas/face-gate/internal/config"
	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/facegate"
	"github.com/kozaktomas/face-gate/internal/gallery"
)

// MatchResult is the best gallery match for a probe.
type MatchResult struct {
	IdentityID    string // empty when the gallery is empty
	TemplateID    int64
	Score         float64  // cosine similarity in [-1, 1]
	RunnerUpScore *float64 // nil when fewer than two templates were scored
}

// Found reports whether any identity was matched.
func (r MatchResult) Found() bool {
	return r.IdentityID != ""
}

// Matcher selects the best template for a probe from one gallery snapshot.
// Ties on score go to the earliest enrolled template.
type Matcher interface {
	FindBest(probe []float32, snap *gallery.Snapshot) (MatchResult, error)
}

// New returns the matcher named by kind (config.MatcherLinear or config.MatcherHNSW).
func New(kind string, opts HNSWOptions) (Matcher, error) {
	switch kind {
	case "", config.MatcherLinear:
		return Linear{}, nil
	case config.MatcherHNSW:
		return NewHNSW(opts), nil
	default:
		return nil, fmt.Errorf("unknown matcher %q", kind)
	}
}

func noMatch() MatchResult {
	return MatchResult{Score: database.SimilarityFloor}
}

func checkDim(probe []float32, snap *gallery.Snapshot) error {
	if len(probe) != snap.Dim() {
		return fmt.Errorf("%w: probe has %d dimensions, gallery has %d",
			facegate.ErrInvalidEmbeddingDimension, len(probe), snap.Dim())
	}
	return nil
}

// ranking accumulates best and runner-up scores. Candidates must be offered
// in ascending template ID order for the tie-break to hold.
type ranking struct {
	best     MatchResult
	runnerUp float64
	scored   int
}

func newRanking() ranking {
	return ranking{best: noMatch(), runnerUp: database.SimilarityFloor}
}

func (r *ranking) offer(t *database.FaceTemplate, score float64) {
	r.scored++
	if r.scored == 1 {
		r.best = MatchResult{IdentityID: t.IdentityID, TemplateID: t.ID, Score: score}
		return
	}
	if score > r.best.Score {
		r.runnerUp = r.best.Score
		r.best = MatchResult{IdentityID: t.IdentityID, TemplateID: t.ID, Score: score}
		return
	}
	if r.scored == 2 || score > r.runnerUp {
		r.runnerUp = score
	}
}

func (r *ranking) result() MatchResult {
	res := r.best
	if r.scored >= 2 {
		ru := r.runnerUp
		res.RunnerUpScore = &ru
	}
	return res
}
