package decision

import (
	"errors"
	"testing"

	"github.com/kozaktomas/face-gate/internal/facegate"
	"github.com/kozaktomas/face-gate/internal/matcher"
)

func ptr(f float64) *float64 { return &f }

func TestDecide(t *testing.T) {
	tests := []struct {
		name         string
		policy       Policy
		match        matcher.MatchResult
		wantAccepted bool
		wantReason   string
	}{
		{
			name:         "above threshold",
			policy:       Policy{Threshold: 0.8},
			match:        matcher.MatchResult{IdentityID: "S1", Score: 0.93},
			wantAccepted: true,
		},
		{
			name:         "score equal to threshold is accepted",
			policy:       Policy{Threshold: 0.8},
			match:        matcher.MatchResult{IdentityID: "S1", Score: 0.8},
			wantAccepted: true,
		},
		{
			name:       "just below threshold",
			policy:     Policy{Threshold: 0.8},
			match:      matcher.MatchResult{IdentityID: "S1", Score: 0.7999},
			wantReason: ReasonBelowThreshold,
		},
		{
			name:       "empty gallery",
			policy:     Policy{Threshold: -1},
			match:      matcher.MatchResult{Score: -1},
			wantReason: ReasonEmptyGallery,
		},
		{
			name:       "margin too small",
			policy:     Policy{Threshold: 0.85, MarginEnabled: true, MarginEpsilon: 0.02},
			match:      matcher.MatchResult{IdentityID: "S1", Score: 0.91, RunnerUpScore: ptr(0.90)},
			wantReason: ReasonAmbiguous,
		},
		{
			name:         "margin disabled ignores runner-up",
			policy:       Policy{Threshold: 0.85, MarginEpsilon: 0.02},
			match:        matcher.MatchResult{IdentityID: "S1", Score: 0.91, RunnerUpScore: ptr(0.90)},
			wantAccepted: true,
		},
		{
			name:         "margin satisfied",
			policy:       Policy{Threshold: 0.85, MarginEnabled: true, MarginEpsilon: 0.02},
			match:        matcher.MatchResult{IdentityID: "S1", Score: 0.95, RunnerUpScore: ptr(0.90)},
			wantAccepted: true,
		},
		{
			name:         "margin without runner-up",
			policy:       Policy{Threshold: 0.85, MarginEnabled: true, MarginEpsilon: 0.02},
			match:        matcher.MatchResult{IdentityID: "S1", Score: 0.91},
			wantAccepted: true,
		},
		{
			name:       "below threshold wins over ambiguity",
			policy:     Policy{Threshold: 0.95, MarginEnabled: true, MarginEpsilon: 0.02},
			match:      matcher.MatchResult{IdentityID: "S1", Score: 0.91, RunnerUpScore: ptr(0.90)},
			wantReason: ReasonBelowThreshold,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.policy.Decide(tt.match)
			if d.Accepted != tt.wantAccepted {
				t.Errorf("Accepted = %v, want %v", d.Accepted, tt.wantAccepted)
			}
			if d.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", d.Reason, tt.wantReason)
			}
		})
	}
}

func TestDecision_Err(t *testing.T) {
	if err := (Decision{Reason: ReasonAmbiguous}).Err(); !errors.Is(err, facegate.ErrAmbiguousMatch) {
		t.Errorf("expected ErrAmbiguousMatch, got %v", err)
	}
	if err := (Decision{Reason: ReasonBelowThreshold}).Err(); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if err := (Decision{Accepted: true}).Err(); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestNewPolicy(t *testing.T) {
	tests := []struct {
		name      string
		threshold float64
		epsilon   float64
		wantErr   bool
	}{
		{"lower bound", -1, 0, false},
		{"upper bound", 1, 0, false},
		{"typical", 0.35, 0.02, false},
		{"too low", -1.01, 0, true},
		{"too high", 1.5, 0, true},
		{"negative epsilon", 0.5, -0.1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPolicy(tt.threshold, true, tt.epsilon)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewPolicy error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
