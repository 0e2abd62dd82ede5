// Package sessions implements the session domain for Triage: the durable,
// concurrency-safe ledger of intake state, extraction results, and the
// append-only processing chain. Writes for a single session are serialized;
// sessions are fully independent of each other.
package sessions

import (
	"fmt"
	"reflect"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/triage/internal/classify"
	"github.com/JaimeStill/triage/internal/intake"
)

// Status is the session lifecycle state. Transitions only move forward.
type Status string

// Session statuses.
const (
	StatusPending     Status = "pending"
	StatusRunning     Status = "running"
	StatusPartial     Status = "partial"
	StatusCompleted   Status = "completed"
	StatusNeedsReview Status = "needs_review"
	StatusFailed      Status = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	switch s {
	case StatusPartial, StatusCompleted, StatusNeedsReview, StatusFailed:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusNeedsReview, StatusFailed},
	StatusRunning: {StatusPartial, StatusCompleted, StatusNeedsReview, StatusFailed},
}

// CanTransition reports whether moving from s to next is a forward transition.
func (s Status) CanTransition(next Status) bool {
	return slices.Contains(transitions[s], next)
}

// ExtractionStatus is the outcome of a single agent invocation.
type ExtractionStatus string

// Extraction statuses.
const (
	ExtractionCompleted     ExtractionStatus = "completed"
	ExtractionWithAnomalies ExtractionStatus = "completed_with_anomalies"
	ExtractionFailed        ExtractionStatus = "failed"
	ExtractionTimedOut      ExtractionStatus = "timed_out"
)

// Succeeded reports whether the extraction produced a usable result.
func (s ExtractionStatus) Succeeded() bool {
	return s == ExtractionCompleted || s == ExtractionWithAnomalies
}

// ExtractionResult is one agent's extraction outcome. Anomalies preserve
// insertion order.
type ExtractionResult struct {
	Agent     string           `json:"agent"`
	Fields    map[string]any   `json:"fields,omitempty"`
	Anomalies []string         `json:"anomalies,omitempty"`
	Status    ExtractionStatus `json:"status"`
}

// Equal reports whether two results are identical, used to detect idempotent
// re-appends.
func (r ExtractionResult) Equal(other ExtractionResult) bool {
	return r.Agent == other.Agent &&
		r.Status == other.Status &&
		slices.Equal(r.Anomalies, other.Anomalies) &&
		reflect.DeepEqual(r.Fields, other.Fields)
}

// Summary renders the compact chain-entry description for the result.
func (r ExtractionResult) Summary() string {
	return fmt.Sprintf("%s:%s fields=%d anomalies=%d",
		r.Agent, r.Status, len(r.Fields), len(r.Anomalies))
}

// ChainEntry is one link of the append-only processing chain. SequenceNo is
// strictly increasing per session; entries are never deleted or reordered.
type ChainEntry struct {
	SequenceNo    int       `json:"sequence_no"`
	Agent         string    `json:"agent"`
	ResultSummary string    `json:"result_summary"`
	Timestamp     time.Time `json:"timestamp"`
}

// ChainAgent is the pseudo-agent recorded for chain bookkeeping entries
// such as truncation marks.
const ChainAgent = "chain"

// Context carries conversation linkage and chaining lineage for a session.
// RelatedSessions links are bidirectional: whenever A references B, B
// references A. LineageDigests holds the content fingerprints of every
// payload along the spawning lineage; the chain resolver consults it as
// the visited set for cycle detection.
type Context struct {
	ConversationID  string      `json:"conversation_id,omitempty"`
	RelatedSessions []uuid.UUID `json:"related_sessions,omitempty"`
	Lineage         []uuid.UUID `json:"lineage,omitempty"`
	LineageDigests  []string    `json:"lineage_digests,omitempty"`
	Priority        int         `json:"priority,omitempty"`
	Depth           int         `json:"depth,omitempty"`
}

// Session is the unit of state tracking one intake through classification,
// routing, and extraction. The JSON field names form the shared-memory
// schema consumed by external readers and must stay stable.
type Session struct {
	ID             uuid.UUID                   `json:"session_id"`
	CreatedAt      time.Time                   `json:"created_at"`
	Input          intake.Input                `json:"input"`
	Classification *classify.Result            `json:"classification,omitempty"`
	Extraction     map[string]ExtractionResult `json:"extraction"`
	Chain          []ChainEntry                `json:"processing_chain"`
	Context        Context                     `json:"context"`
	RoutedAgents   []string                    `json:"routed_agents,omitempty"`
	Status         Status                      `json:"status"`
}

// TerminalStatus computes the terminal status implied by the current
// extraction map against the expected routed agents: completed when every
// routed agent succeeded, partial when at least one agent reported (agent
// failures and timeouts still count as reports), failed when no routed agent
// reported at all, and needs_review when the session was routed to no
// extraction agent. Failed is otherwise reserved for MarkFailed, which
// records infrastructure errors outside the extraction path.
func (s *Session) TerminalStatus() Status {
	if len(s.RoutedAgents) == 0 {
		return StatusNeedsReview
	}

	succeeded := 0
	reported := 0
	for _, agent := range s.RoutedAgents {
		result, ok := s.Extraction[agent]
		if !ok {
			continue
		}
		reported++
		if result.Status.Succeeded() {
			succeeded++
		}
	}

	switch {
	case succeeded == len(s.RoutedAgents):
		return StatusCompleted
	case reported > 0:
		return StatusPartial
	default:
		return StatusFailed
	}
}

// Clone returns a deep copy of the session, safe to hand to readers while
// writers keep mutating the original.
func (s *Session) Clone() *Session {
	clone := *s

	if s.Classification != nil {
		c := *s.Classification
		clone.Classification = &c
	}

	clone.Extraction = make(map[string]ExtractionResult, len(s.Extraction))
	for agent, result := range s.Extraction {
		clone.Extraction[agent] = cloneResult(result)
	}

	clone.Chain = slices.Clone(s.Chain)
	clone.RoutedAgents = slices.Clone(s.RoutedAgents)
	clone.Context.RelatedSessions = slices.Clone(s.Context.RelatedSessions)
	clone.Context.Lineage = slices.Clone(s.Context.Lineage)
	clone.Context.LineageDigests = slices.Clone(s.Context.LineageDigests)
	clone.Input.Raw = nil

	return &clone
}

func cloneResult(r ExtractionResult) ExtractionResult {
	c := r
	c.Anomalies = slices.Clone(r.Anomalies)
	c.Fields = make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		c.Fields[k] = v
	}
	return c
}
