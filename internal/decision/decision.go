// Package decision turns a match result into an accept or reject verdict.
package decision

import (
	"fmt"

	"github.com/kozaktomas/face-gate/internal/facegate"
	"github.com/kozaktomas/face-gate/internal/matcher"
)

// Rejection reasons recorded on attempts.
const (
	ReasonBelowThreshold = "below_threshold"
	ReasonAmbiguous      = facegate.KindAmbiguousMatch
	ReasonEmptyGallery   = "empty_gallery"
)

// Policy is the acceptance rule.
type Policy struct {
	Threshold     float64
	MarginEnabled bool
	MarginEpsilon float64
}

// Decision is the verdict for one match.
type Decision struct {
	Accepted bool
	Reason   string // empty when accepted
}

// NewPolicy validates and returns a policy.
func NewPolicy(threshold float64, marginEnabled bool, marginEpsilon float64) (Policy, error) {
	p := Policy{Threshold: threshold, MarginEnabled: marginEnabled, MarginEpsilon: marginEpsilon}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate checks that the threshold is a cosine similarity and the margin is non-negative.
func (p Policy) Validate() error {
	if p.Threshold < -1 || p.Threshold > 1 {
		return fmt.Errorf("threshold %v outside [-1, 1]", p.Threshold)
	}
	if p.MarginEpsilon < 0 {
		return fmt.Errorf("margin epsilon %v is negative", p.MarginEpsilon)
	}
	return nil
}

// Decide accepts iff an identity matched with score >= threshold and, when the
// margin rule is on, the runner-up trails the best by at least epsilon.
func (p Policy) Decide(m matcher.MatchResult) Decision {
	if !m.Found() {
		return Decision{Reason: ReasonEmptyGallery}
	}
	if m.Score < p.Threshold {
		return Decision{Reason: ReasonBelowThreshold}
	}
	if p.MarginEnabled && m.RunnerUpScore != nil && m.Score-*m.RunnerUpScore < p.MarginEpsilon {
		return Decision{Reason: ReasonAmbiguous}
	}
	return Decision{Accepted: true}
}

// Err returns the sentinel for an ambiguous rejection, nil otherwise.
func (d Decision) Err() error {
	if d.Reason == ReasonAmbiguous {
		return facegate.ErrAmbiguousMatch
	}
	return nil
}
