package sessions

import (
	"context"

	"github.com/google/uuid"

	"github.com/JaimeStill/triage/internal/classify"
	"github.com/JaimeStill/triage/internal/intake"
)

// Store is the session ledger contract. Implementations must serialize all
// writes for a single session id (single-writer semantics) while allowing
// writes across different sessions to proceed fully in parallel, and must
// commit an extraction append together with its processing-chain entry so a
// reader never observes one without the other. Reads return point-in-time
// snapshots.
type Store interface {
	// Create atomically registers a new pending session and returns its
	// freshly generated unique id.
	Create(ctx context.Context, in intake.Input, sctx Context) (uuid.UUID, error)

	// AppendClassification records the classification exactly once and moves
	// the session to running. A second call fails with
	// ErrDuplicateClassification.
	AppendClassification(ctx context.Context, id uuid.UUID, result classify.Result) error

	// SetRouting records the agents the routing engine selected. Finalize
	// compares the extraction map against this set.
	SetRouting(ctx context.Context, id uuid.UUID, agents []string) error

	// AppendExtraction records one agent's result and the corresponding
	// chain entry in a single commit. Re-appending an identical result for a
	// completed agent is a no-op; a differing result fails with
	// ErrConflictingExtraction.
	AppendExtraction(ctx context.Context, id uuid.UUID, result ExtractionResult) error

	// AppendChainMark appends a bookkeeping chain entry (agent "chain"),
	// used for truncation marks. Permitted on terminal sessions: chaining
	// outcomes arrive after finalization.
	AppendChainMark(ctx context.Context, id uuid.UUID, summary string) error

	// LinkSessions records a bidirectional related-session link between a and b.
	LinkSessions(ctx context.Context, a, b uuid.UUID) error

	// Finalize computes and applies the terminal status from the current
	// extraction map versus the routed agents, returning the applied status.
	Finalize(ctx context.Context, id uuid.UUID) (Status, error)

	// MarkFailed force-fails a session (classification outage, storage
	// exhaustion). The session is retained for retry.
	MarkFailed(ctx context.Context, id uuid.UUID) error

	// Get returns a consistent snapshot of the session.
	Get(ctx context.Context, id uuid.UUID) (*Session, error)

	// Payload returns the session's retained raw input bytes. Stores that
	// do not persist raw payloads return ErrPayloadUnavailable; callers
	// fall back to blob storage.
	Payload(ctx context.Context, id uuid.UUID) ([]byte, error)

	// List returns sessions matching the filters, ordered by creation time.
	List(ctx context.Context, filters Filters) ([]Session, error)

	// ListByConversation returns the conversation's sessions ordered by
	// creation time.
	ListByConversation(ctx context.Context, conversationID string) ([]Session, error)
}
