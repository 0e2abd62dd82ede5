// Package audit implements the append-only decision log. Every
// classification, routing decision, extraction completion, and chaining
// decision is recorded here; entries are never mutated or deleted and remain
// the authoritative compliance record even when the session itself fails.
// The audit write path is independent of session store transactions.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Components that record audit entries.
const (
	ComponentClassifier = "classifier"
	ComponentRouter     = "router"
	ComponentExtraction = "extraction"
	ComponentChain      = "chain"
	ComponentStore      = "store"
)

// Entry is one immutable audit record.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Component string    `json:"component"`
	Decision  string    `json:"decision"`
}

// Trail is the append-only audit log contract.
type Trail interface {
	// Record appends an entry for the session. Never mutates prior entries.
	Record(ctx context.Context, sessionID uuid.UUID, component, decision string) error

	// BySession returns the session's entries in record order.
	BySession(ctx context.Context, sessionID uuid.UUID) ([]Entry, error)

	// ByTimeRange returns entries with from <= timestamp < to in record order.
	ByTimeRange(ctx context.Context, from, to time.Time) ([]Entry, error)
}
