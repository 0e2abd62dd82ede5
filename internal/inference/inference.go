// Package inference defines the intent inference capability consumed by the
// classifier. Providers return scored intent candidates for an input; the
// selection logic lives in the classify package so that providers stay
// interchangeable and the classifier stays testable against fixed score
// vectors.
package inference

import (
	"context"
	"errors"

	"github.com/JaimeStill/triage/internal/intake"
)

// ErrUnavailable indicates the inference provider could not be reached.
// It propagates to the caller; low confidence is never reported this way.
var ErrUnavailable = errors.New("inference provider unavailable")

// Candidate is a scored intent label produced by a provider.
// Score is in [0,1].
type Candidate struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Provider infers intent candidates for a normalized input.
type Provider interface {
	// Infer returns zero or more scored candidates for the input.
	// Fails with ErrUnavailable when the backing capability cannot be reached.
	Infer(ctx context.Context, in *intake.Input) ([]Candidate, error)
}
