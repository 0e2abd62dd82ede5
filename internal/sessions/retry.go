package sessions

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/JaimeStill/triage/internal/classify"
	"github.com/JaimeStill/triage/internal/intake"
)

// RetryConfig bounds the exponential backoff applied to transient storage
// failures.
type RetryConfig struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns the standard retry bounds: three attempts after
// the initial failure, starting at 50ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// retrying decorates a Store with bounded exponential backoff over transient
// StorageErrors. Domain errors and permanent storage failures pass through
// untouched.
type retrying struct {
	store Store
	cfg   RetryConfig
}

// WithRetry wraps store with the configured retry policy.
func WithRetry(store Store, cfg RetryConfig) Store {
	if cfg.MaxRetries == 0 {
		cfg = DefaultRetryConfig()
	}
	return &retrying{store: store, cfg: cfg}
}

func (r *retrying) retry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.InitialInterval
	policy.MaxInterval = r.cfg.MaxInterval

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, r.cfg.MaxRetries), ctx))
}

func (r *retrying) Create(ctx context.Context, in intake.Input, sctx Context) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.retry(ctx, func() error {
		var opErr error
		id, opErr = r.store.Create(ctx, in, sctx)
		return opErr
	})
	return id, err
}

func (r *retrying) AppendClassification(ctx context.Context, id uuid.UUID, result classify.Result) error {
	return r.retry(ctx, func() error {
		return r.store.AppendClassification(ctx, id, result)
	})
}

func (r *retrying) SetRouting(ctx context.Context, id uuid.UUID, agents []string) error {
	return r.retry(ctx, func() error {
		return r.store.SetRouting(ctx, id, agents)
	})
}

func (r *retrying) AppendExtraction(ctx context.Context, id uuid.UUID, result ExtractionResult) error {
	return r.retry(ctx, func() error {
		return r.store.AppendExtraction(ctx, id, result)
	})
}

func (r *retrying) AppendChainMark(ctx context.Context, id uuid.UUID, summary string) error {
	return r.retry(ctx, func() error {
		return r.store.AppendChainMark(ctx, id, summary)
	})
}

func (r *retrying) LinkSessions(ctx context.Context, a, b uuid.UUID) error {
	return r.retry(ctx, func() error {
		return r.store.LinkSessions(ctx, a, b)
	})
}

func (r *retrying) Finalize(ctx context.Context, id uuid.UUID) (Status, error) {
	var status Status
	err := r.retry(ctx, func() error {
		var opErr error
		status, opErr = r.store.Finalize(ctx, id)
		return opErr
	})
	return status, err
}

func (r *retrying) MarkFailed(ctx context.Context, id uuid.UUID) error {
	return r.retry(ctx, func() error {
		return r.store.MarkFailed(ctx, id)
	})
}

func (r *retrying) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	var s *Session
	err := r.retry(ctx, func() error {
		var opErr error
		s, opErr = r.store.Get(ctx, id)
		return opErr
	})
	return s, err
}

func (r *retrying) Payload(ctx context.Context, id uuid.UUID) ([]byte, error) {
	var raw []byte
	err := r.retry(ctx, func() error {
		var opErr error
		raw, opErr = r.store.Payload(ctx, id)
		return opErr
	})
	return raw, err
}

func (r *retrying) List(ctx context.Context, filters Filters) ([]Session, error) {
	var results []Session
	err := r.retry(ctx, func() error {
		var opErr error
		results, opErr = r.store.List(ctx, filters)
		return opErr
	})
	return results, err
}

func (r *retrying) ListByConversation(ctx context.Context, conversationID string) ([]Session, error) {
	var results []Session
	err := r.retry(ctx, func() error {
		var opErr error
		results, opErr = r.store.ListByConversation(ctx, conversationID)
		return opErr
	})
	return results, err
}
