// Package pipeline orchestrates one intake from normalization through
// classification, routing, parallel extraction, finalization, and secondary
// chaining. Each stage's decision lands in the audit trail regardless of the
// session outcome.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JaimeStill/triage/internal/agents"
	"github.com/JaimeStill/triage/internal/audit"
	"github.com/JaimeStill/triage/internal/chain"
	"github.com/JaimeStill/triage/internal/classify"
	"github.com/JaimeStill/triage/internal/intake"
	"github.com/JaimeStill/triage/internal/routing"
	"github.com/JaimeStill/triage/internal/sessions"
	"github.com/JaimeStill/triage/pkg/storage"
)

// DefaultAgentTimeout bounds a single extraction agent invocation.
const DefaultAgentTimeout = 5 * time.Second

// Options tunes pipeline behavior. Zero values fall back to defaults.
type Options struct {
	AgentTimeout  time.Duration
	MaxChainDepth int
}

// Pipeline bundles the components one intake flows through. Construct it
// once at startup; Process is safe for concurrent use.
type Pipeline struct {
	normalizer *intake.Normalizer
	classifier *classify.Classifier
	engine     *routing.Engine
	registry   *agents.Registry
	store      sessions.Store
	trail      audit.Trail
	storage    storage.System
	resolver   *chain.Resolver

	agentTimeout time.Duration
	logger       *slog.Logger
}

// New assembles a pipeline. storage may be nil when no blob backend is
// configured; raw payloads then live only in the session record.
func New(
	normalizer *intake.Normalizer,
	classifier *classify.Classifier,
	engine *routing.Engine,
	registry *agents.Registry,
	store sessions.Store,
	trail audit.Trail,
	blobs storage.System,
	opts Options,
	logger *slog.Logger,
) *Pipeline {
	if opts.AgentTimeout <= 0 {
		opts.AgentTimeout = DefaultAgentTimeout
	}

	p := &Pipeline{
		normalizer:   normalizer,
		classifier:   classifier,
		engine:       engine,
		registry:     registry,
		store:        store,
		trail:        trail,
		storage:      blobs,
		agentTimeout: opts.AgentTimeout,
		logger:       logger.With("system", "pipeline"),
	}

	p.resolver = chain.NewResolver(store, trail, p.spawn, opts.MaxChainDepth, logger)

	return p
}

// Intake normalizes a raw payload and runs it through the pipeline. Inputs
// that fail normalization never create a session.
func (p *Pipeline) Intake(ctx context.Context, raw []byte, contentType, source, subject string) (uuid.UUID, error) {
	in, err := p.normalizer.Normalize(raw, contentType, source)
	if err != nil {
		return uuid.Nil, err
	}
	in.Subject = subject

	return p.Process(ctx, in, sessions.Context{})
}

// Process runs one normalized input through classification, routing,
// extraction fan-out, finalization, and asynchronous chaining. The session
// id is returned as soon as one exists, even when processing fails.
func (p *Pipeline) Process(ctx context.Context, in *intake.Input, sctx sessions.Context) (uuid.UUID, error) {
	if sctx.ConversationID == "" {
		sctx.ConversationID = agents.DeriveConversationID(in)
	}

	in.StorageKey = fmt.Sprintf("%s/%s", in.Format, uuid.New())

	id, err := p.store.Create(ctx, *in, sctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create session: %w", err)
	}

	logger := p.logger.With("session", id)
	p.upload(ctx, logger, in)

	classification, err := p.classifier.Classify(ctx, in)
	if err != nil {
		return id, p.fail(ctx, id, audit.ComponentClassifier, "classification", err)
	}

	if err := p.store.AppendClassification(ctx, id, classification); err != nil {
		return id, p.fail(ctx, id, audit.ComponentStore, "append classification", err)
	}
	p.record(ctx, id, audit.ComponentClassifier, fmt.Sprintf(
		"classified format=%s intent=%s confidence=%.2f agent=%s",
		classification.Format, classification.Intent, classification.Confidence, classification.AssignedAgent,
	))

	hints := intake.DeriveHints(in)
	decision := p.engine.Decide(classification, hints)

	if err := p.store.SetRouting(ctx, id, decision.Agents()); err != nil {
		return id, p.fail(ctx, id, audit.ComponentStore, "set routing", err)
	}
	p.record(ctx, id, audit.ComponentRouter, fmt.Sprintf(
		"routed primary=%s secondary=%v reason=%s", decision.PrimaryAgent, decision.SecondaryAgents, decision.Reason,
	))

	if decision.ManualReview() {
		status, err := p.store.Finalize(ctx, id)
		if err != nil {
			return id, p.fail(ctx, id, audit.ComponentStore, "finalize", err)
		}
		p.record(ctx, id, audit.ComponentStore, "finalized status="+string(status))
		return id, nil
	}

	p.extract(ctx, logger, id, in, classification, decision)

	status, err := p.store.Finalize(ctx, id)
	if err != nil {
		return id, p.fail(ctx, id, audit.ComponentStore, "finalize", err)
	}
	p.record(ctx, id, audit.ComponentStore, "finalized status="+string(status))

	logger.Info("session processed", "status", status, "agents", decision.Agents())

	if ctx.Err() == nil {
		go p.resolveChains(context.WithoutCancel(ctx), id, in)
	}

	return id, nil
}

// Extract runs a single named agent against a stored session's payload and
// commits the result through the same append path the fan-out uses. Running
// an agent that already reported is a no-op when the result is identical;
// a differing result surfaces ErrConflictingExtraction. An unknown agent
// name fails with agents.ErrUnknownAgent before any state changes.
func (p *Pipeline) Extract(ctx context.Context, id uuid.UUID, name string) (sessions.ExtractionResult, error) {
	if _, err := p.registry.Lookup(name); err != nil {
		return sessions.ExtractionResult{}, err
	}

	sess, err := p.store.Get(ctx, id)
	if err != nil {
		return sessions.ExtractionResult{}, fmt.Errorf("load session: %w", err)
	}

	in := sess.Input
	if in.Raw, err = p.payload(ctx, sess); err != nil {
		return sessions.ExtractionResult{}, fmt.Errorf("load payload: %w", err)
	}

	var classification classify.Result
	if sess.Classification != nil {
		classification = *sess.Classification
	}

	result := p.invoke(ctx, &in, classification, name)

	if err := p.store.AppendExtraction(ctx, id, result); err != nil {
		return sessions.ExtractionResult{}, fmt.Errorf("append extraction: %w", err)
	}
	p.record(ctx, id, audit.ComponentExtraction, "extracted "+result.Summary())

	return result, nil
}

// payload resolves a stored session's raw input bytes, from the session
// store when it retains them and from blob storage otherwise.
func (p *Pipeline) payload(ctx context.Context, sess *sessions.Session) ([]byte, error) {
	raw, err := p.store.Payload(ctx, sess.ID)
	if err == nil {
		return raw, nil
	}
	if !errors.Is(err, sessions.ErrPayloadUnavailable) || p.storage == nil || sess.Input.StorageKey == "" {
		return nil, err
	}

	rc, err := p.storage.Download(ctx, sess.Input.StorageKey)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return io.ReadAll(rc)
}

// extract fans the routed agents out in parallel. A canceled ctx prevents
// agents that have not started; agents already running finish against their
// own timeout, and their results commit through a detached context so
// cancellation never leaves a half-applied append.
func (p *Pipeline) extract(ctx context.Context, logger *slog.Logger, id uuid.UUID, in *intake.Input, classification classify.Result, decision routing.Decision) {
	detached := context.WithoutCancel(ctx)

	var group errgroup.Group
	for _, name := range decision.Agents() {
		group.Go(func() error {
			if ctx.Err() != nil {
				logger.Warn("skipping unstarted agent", "agent", name, "cause", ctx.Err())
				return nil
			}

			result := p.invoke(detached, in, classification, name)

			if err := p.store.AppendExtraction(detached, id, result); err != nil {
				if errors.Is(err, sessions.ErrConflictingExtraction) {
					p.record(detached, id, audit.ComponentExtraction, "conflicting re-append rejected agent="+name)
				}
				logger.Error("failed to append extraction", "agent", name, "error", err)
				return nil
			}

			p.record(detached, id, audit.ComponentExtraction, "extracted "+result.Summary())
			return nil
		})
	}
	group.Wait()
}

// invoke runs one agent under its own timeout and converts failure modes
// into recordable extraction results.
func (p *Pipeline) invoke(ctx context.Context, in *intake.Input, classification classify.Result, name string) sessions.ExtractionResult {
	extractor, err := p.registry.Lookup(name)
	if err != nil {
		return sessions.ExtractionResult{
			Agent:     name,
			Anomalies: []string{"unregistered_agent"},
			Status:    sessions.ExtractionFailed,
		}
	}

	agentCtx, cancel := context.WithTimeout(ctx, p.agentTimeout)
	defer cancel()

	result, err := extractor.Extract(agentCtx, agents.Request{Input: in, Intent: classification.Intent})
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return sessions.ExtractionResult{Agent: name, Status: sessions.ExtractionTimedOut}
	case err != nil:
		return sessions.ExtractionResult{
			Agent:     name,
			Anomalies: []string{"error:" + err.Error()},
			Status:    sessions.ExtractionFailed,
		}
	}

	return result
}

// resolveChains runs secondary-trigger resolution after the primary response
// path has completed.
func (p *Pipeline) resolveChains(ctx context.Context, id uuid.UUID, in *intake.Input) {
	sess, err := p.store.Get(ctx, id)
	if err != nil {
		p.logger.Error("failed to load session for chaining", "session", id, "error", err)
		return
	}

	for _, result := range sess.Extraction {
		if err := p.resolver.Resolve(ctx, sess, in, result); err != nil {
			p.logger.Warn("chain resolution truncated", "session", id, "agent", result.Agent, "error", err)
		}
	}
}

// spawn runs a chained follow-up through the identical pipeline.
func (p *Pipeline) spawn(ctx context.Context, in *intake.Input, sctx sessions.Context) (uuid.UUID, error) {
	return p.Process(ctx, in, sctx)
}

func (p *Pipeline) upload(ctx context.Context, logger *slog.Logger, in *intake.Input) {
	if p.storage == nil {
		return
	}

	if err := p.storage.Upload(ctx, in.StorageKey, bytes.NewReader(in.Raw), in.ContentType); err != nil {
		logger.Error("failed to upload raw payload", "key", in.StorageKey, "error", err)
	}
}

// fail marks the session failed and records the failure in the audit trail
// through a detached context, then surfaces the original error. Sessions are
// retained for retry.
func (p *Pipeline) fail(ctx context.Context, id uuid.UUID, component, stage string, err error) error {
	detached := context.WithoutCancel(ctx)

	if markErr := p.store.MarkFailed(detached, id); markErr != nil {
		p.logger.Error("failed to mark session failed", "session", id, "error", markErr)
	}

	p.record(detached, id, component, fmt.Sprintf("%s failed: %v", stage, err))

	return fmt.Errorf("%s: %w", stage, err)
}

func (p *Pipeline) record(ctx context.Context, id uuid.UUID, component, decision string) {
	if err := p.trail.Record(ctx, id, component, decision); err != nil {
		p.logger.Error("failed to record audit entry", "session", id, "error", err)
	}
}
