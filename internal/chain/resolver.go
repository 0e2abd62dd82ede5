// Package chain implements the secondary-trigger resolver: it inspects
// completed extraction results for chaining signals and spawns linked
// follow-up sessions, bounding every lineage by depth and cycle checks.
package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/JaimeStill/triage/internal/audit"
	"github.com/JaimeStill/triage/internal/intake"
	"github.com/JaimeStill/triage/internal/sessions"
)

// DefaultMaxDepth bounds chaining lineages.
const DefaultMaxDepth = 5

// ErrChainDepthExceeded indicates a follow-up spawn would exceed the lineage
// depth bound. It fails only that follow-up; the parent session is
// unaffected beyond a truncation mark on its chain.
var ErrChainDepthExceeded = errors.New("chain depth exceeded")

// SpawnFunc runs the full pipeline for a derived input. The returned id is
// the child session.
type SpawnFunc func(ctx context.Context, in *intake.Input, sctx sessions.Context) (uuid.UUID, error)

// Trigger is one chaining signal found in an extraction result.
type Trigger struct {
	Agent  string
	Input  *intake.Input
	Signal string
}

// Resolver detects chaining signals and spawns linked sessions.
type Resolver struct {
	store    sessions.Store
	trail    audit.Trail
	spawn    SpawnFunc
	maxDepth int
	logger   *slog.Logger
}

func NewResolver(store sessions.Store, trail audit.Trail, spawn SpawnFunc, maxDepth int, logger *slog.Logger) *Resolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	return &Resolver{
		store:    store,
		trail:    trail,
		spawn:    spawn,
		maxDepth: maxDepth,
		logger:   logger.With("system", "chain"),
	}
}

// Resolve inspects one completed extraction for chaining signals and spawns
// a linked session per signal. A bounded or cyclic follow-up truncates that
// branch only: the parent chain gains a truncation mark and the remaining
// triggers still run. The parent input is passed separately because session
// snapshots do not carry raw payload bytes.
func (r *Resolver) Resolve(ctx context.Context, parent *sessions.Session, in *intake.Input, result sessions.ExtractionResult) error {
	if !result.Status.Succeeded() {
		return nil
	}

	var errs []error
	for _, trigger := range detect(in, result) {
		if err := r.follow(ctx, parent, in, trigger); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (r *Resolver) follow(ctx context.Context, parent *sessions.Session, in *intake.Input, trigger Trigger) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if parent.Context.Depth+1 > r.maxDepth {
		return r.truncate(ctx, parent.ID, trigger, "depth_exceeded", ErrChainDepthExceeded)
	}

	// the visited set is the lineage's content fingerprints: spawning any
	// payload already seen anywhere along the lineage is a cycle
	parentDigest := fingerprint(in.Raw)
	digest := fingerprint(trigger.Input.Raw)
	if digest == parentDigest || slices.Contains(parent.Context.LineageDigests, digest) {
		return r.truncate(ctx, parent.ID, trigger, "cycle", nil)
	}

	conversationID := parent.Context.ConversationID
	if conversationID == "" {
		conversationID = parent.ID.String()
	}

	sctx := sessions.Context{
		ConversationID:  conversationID,
		RelatedSessions: []uuid.UUID{parent.ID},
		Lineage:         append(slices.Clone(parent.Context.Lineage), parent.ID),
		LineageDigests:  append(slices.Clone(parent.Context.LineageDigests), parentDigest),
		Priority:        parent.Context.Priority,
		Depth:           parent.Context.Depth + 1,
	}

	childID, err := r.spawn(ctx, trigger.Input, sctx)
	if err != nil {
		return fmt.Errorf("spawn %s follow-up: %w", trigger.Agent, err)
	}

	if err := r.store.LinkSessions(ctx, parent.ID, childID); err != nil {
		return fmt.Errorf("link sessions: %w", err)
	}

	r.record(ctx, parent.ID, fmt.Sprintf("spawned:%s child=%s signal=%s", trigger.Agent, childID, trigger.Signal))
	r.logger.Info("spawned chained session",
		"parent", parent.ID,
		"child", childID,
		"agent", trigger.Agent,
		"signal", trigger.Signal,
		"depth", sctx.Depth,
	)

	return nil
}

// truncate marks the parent chain truncated for one follow-up without
// failing the parent session.
func (r *Resolver) truncate(ctx context.Context, parentID uuid.UUID, trigger Trigger, reason string, err error) error {
	if markErr := r.store.AppendChainMark(ctx, parentID, "truncated:"+reason); markErr != nil {
		r.logger.Error("failed to mark chain truncation", "session", parentID, "error", markErr)
	}

	r.record(ctx, parentID, fmt.Sprintf("truncated:%s agent=%s signal=%s", reason, trigger.Agent, trigger.Signal))

	if err != nil {
		return fmt.Errorf("%s follow-up: %w", trigger.Agent, err)
	}
	return nil
}

// fingerprint identifies a payload by content for lineage cycle detection.
func fingerprint(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func (r *Resolver) record(ctx context.Context, sessionID uuid.UUID, decision string) {
	if err := r.trail.Record(ctx, sessionID, audit.ComponentChain, decision); err != nil {
		r.logger.Error("failed to record audit entry", "session", sessionID, "error", err)
	}
}

// detect finds chaining signals in a completed extraction. An embedded JSON
// block inside an email body spawns a structured follow-up; attachment
// references are recorded by routing as secondary hints but carry no bytes
// to chain on.
func detect(in *intake.Input, result sessions.ExtractionResult) []Trigger {
	var triggers []Trigger

	if in.Format == intake.FormatEmail && result.Agent != "json_agent" {
		if block := intake.ExtractJSONBlock(in.Text()); block != "" {
			triggers = append(triggers, Trigger{
				Agent: "json_agent",
				Input: &intake.Input{
					Format:      intake.FormatJSON,
					Source:      in.Source,
					ContentType: "application/json",
					Size:        int64(len(block)),
					Raw:         []byte(block),
				},
				Signal: intake.HintEmbeddedJSON,
			})
		}
	}

	if in.Format == intake.FormatJSON {
		if body := embeddedEmailBody(result); body != "" {
			triggers = append(triggers, Trigger{
				Agent: "email_parser",
				Input: &intake.Input{
					Format:      intake.FormatEmail,
					Source:      in.Source,
					ContentType: "message/rfc822",
					Size:        int64(len(body)),
					Raw:         []byte(body),
				},
				Signal: "embedded_email",
			})
		}
	}

	return triggers
}

// embeddedEmailBody returns an email body carried inside a structured
// payload, if present.
func embeddedEmailBody(result sessions.ExtractionResult) string {
	data, ok := result.Fields["data"].(map[string]any)
	if !ok {
		return ""
	}

	for _, key := range []string{"email_body", "raw_email"} {
		if body, ok := data[key].(string); ok && body != "" {
			return body
		}
	}

	return ""
}
