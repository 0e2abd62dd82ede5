// Package agents implements the format-specialized extraction agents and the
// registry the pipeline resolves routed agent names against. Each agent is
// stateless; results are committed to the session store by the caller.
package agents

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/JaimeStill/triage/internal/intake"
	"github.com/JaimeStill/triage/internal/sessions"
)

// ErrUnknownAgent indicates a routed agent name has no registered extractor.
var ErrUnknownAgent = errors.New("unknown agent")

// Request carries everything an agent needs for one extraction.
type Request struct {
	Input  *intake.Input
	Intent string
}

// Extractor processes one normalized input and produces an extraction
// result. Implementations must honor ctx cancellation and record anomalies
// rather than failing when individual fields are absent.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, req Request) (sessions.ExtractionResult, error)
}

// Registry maps agent names to extractors. It is populated during startup
// and read-only afterward.
type Registry struct {
	extractors map[string]Extractor
}

func NewRegistry(extractors ...Extractor) *Registry {
	r := &Registry{extractors: make(map[string]Extractor, len(extractors))}
	for _, e := range extractors {
		r.extractors[e.Name()] = e
	}
	return r
}

// Lookup resolves an agent name to its extractor.
func (r *Registry) Lookup(name string) (Extractor, error) {
	e, ok := r.extractors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	return e, nil
}

// Names returns the registered agent names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.extractors))
	for name := range r.extractors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
