// Package classify turns inference candidates into a single classification.
// Selection is deterministic: the highest-scoring candidate wins, ties break
// toward the lexicographically smallest label, and scores below the
// confidence threshold downgrade to manual review rather than erroring.
package classify

import (
	"context"
	"fmt"

	"github.com/JaimeStill/triage/internal/inference"
	"github.com/JaimeStill/triage/internal/intake"
)

// ManualReview is the sentinel routing target for classifications that
// cannot be handled automatically.
const ManualReview = "manual_review"

// IntentUnknown is the forced intent for sub-threshold classifications.
const IntentUnknown = "unknown"

// DefaultThreshold is the confidence floor below which a classification is
// downgraded to manual review.
const DefaultThreshold = 0.5

// Result is the single classification produced for an input.
type Result struct {
	Format        intake.Format `json:"format"`
	Intent        string        `json:"intent"`
	Confidence    float64       `json:"confidence"`
	AssignedAgent string        `json:"assigned_agent"`
}

// ManualReview reports whether the classification was downgraded to the
// manual review target.
func (r Result) ManualReview() bool {
	return r.AssignedAgent == ManualReview
}

// Classifier selects a classification from provider candidates.
type Classifier struct {
	provider  inference.Provider
	threshold float64
	agents    map[intake.Format]string
}

// New creates a Classifier over the given provider. threshold values outside
// (0,1] fall back to DefaultThreshold. agents maps each input format to its
// default extraction agent identifier, used as the assigned agent for
// above-threshold classifications.
func New(provider inference.Provider, threshold float64, agents map[intake.Format]string) *Classifier {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Classifier{
		provider:  provider,
		threshold: threshold,
		agents:    agents,
	}
}

// Classify obtains candidates from the inference provider and selects the
// winner. Provider outages propagate (wrapped inference.ErrUnavailable); a
// low-confidence winner is not an error and yields intent "unknown" with the
// manual_review agent.
func (c *Classifier) Classify(ctx context.Context, in *intake.Input) (Result, error) {
	candidates, err := c.provider.Infer(ctx, in)
	if err != nil {
		return Result{}, fmt.Errorf("infer intent: %w", err)
	}

	winner := selectCandidate(candidates)

	if winner.Label == "" || winner.Score < c.threshold {
		return Result{
			Format:        in.Format,
			Intent:        IntentUnknown,
			Confidence:    winner.Score,
			AssignedAgent: ManualReview,
		}, nil
	}

	return Result{
		Format:        in.Format,
		Intent:        winner.Label,
		Confidence:    winner.Score,
		AssignedAgent: c.agents[in.Format],
	}, nil
}

// selectCandidate picks the highest score after clamping each candidate to
// [0, 1], breaking ties toward the lexicographically smallest label.
// Unlabeled candidates are skipped; order of the input slice never affects
// the outcome.
func selectCandidate(candidates []inference.Candidate) inference.Candidate {
	var winner inference.Candidate
	found := false
	for _, cand := range candidates {
		if cand.Label == "" {
			continue
		}
		cand.Score = clamp(cand.Score)

		switch {
		case !found:
			winner = cand
			found = true
		case cand.Score > winner.Score:
			winner = cand
		case cand.Score == winner.Score && cand.Label < winner.Label:
			winner = cand
		}
	}
	return winner
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
