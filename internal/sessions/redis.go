package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/JaimeStill/triage/internal/classify"
	"github.com/JaimeStill/triage/internal/intake"
)

const (
	sessionKeyPrefix   = "session:"
	conversationPrefix = "sessions:conv:"
	sessionIndexKey    = "sessions:all"
)

// RedisStore persists sessions as JSON documents in Redis, one key per
// session plus a conversation index. Each session document is written with a
// single SET, so the extraction map and chain always land together. Writes
// per session are serialized with in-process keyed locks, matching the
// single-writer contract for a single service instance. Terminal sessions
// receive a TTL; live sessions never expire.
type RedisStore struct {
	client      *redis.Client
	terminalTTL time.Duration

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewRedisStore creates a RedisStore. terminalTTL <= 0 disables expiry.
func NewRedisStore(client *redis.Client, terminalTTL time.Duration) *RedisStore {
	return &RedisStore{
		client:      client,
		terminalTTL: terminalTTL,
		locks:       make(map[uuid.UUID]*sync.Mutex),
	}
}

func (r *RedisStore) lock(id uuid.UUID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

func sessionKey(id uuid.UUID) string {
	return sessionKeyPrefix + id.String()
}

func (r *RedisStore) Create(ctx context.Context, in intake.Input, sctx Context) (uuid.UUID, error) {
	id := uuid.New()

	sess := Session{
		ID:         id,
		CreatedAt:  time.Now(),
		Input:      in,
		Extraction: make(map[string]ExtractionResult),
		Context:    sctx,
		Status:     StatusPending,
	}

	if err := r.write(ctx, &sess); err != nil {
		return uuid.Nil, err
	}

	pipe := r.client.Pipeline()
	pipe.SAdd(ctx, sessionIndexKey, id.String())
	if sctx.ConversationID != "" {
		pipe.SAdd(ctx, conversationPrefix+sctx.ConversationID, id.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return uuid.Nil, redisErr("create", err)
	}

	return id, nil
}

// update applies fn to the session under its writer lock and writes the
// whole document back in one SET.
func (r *RedisStore) update(ctx context.Context, id uuid.UUID, fn func(*Session) error) error {
	l := r.lock(id)
	l.Lock()
	defer l.Unlock()

	sess, err := r.read(ctx, id)
	if err != nil {
		return err
	}

	hadConversation := sess.Context.ConversationID

	if err := fn(sess); err != nil {
		return err
	}

	if err := r.write(ctx, sess); err != nil {
		return err
	}

	if sess.Context.ConversationID != "" && sess.Context.ConversationID != hadConversation {
		if err := r.client.SAdd(ctx, conversationPrefix+sess.Context.ConversationID, id.String()).Err(); err != nil {
			return redisErr("index conversation", err)
		}
	}

	if sess.Status.Terminal() && r.terminalTTL > 0 {
		if err := r.client.Expire(ctx, sessionKey(id), r.terminalTTL).Err(); err != nil {
			return redisErr("expire", err)
		}
	}

	return nil
}

func (r *RedisStore) AppendClassification(ctx context.Context, id uuid.UUID, result classify.Result) error {
	return r.update(ctx, id, func(s *Session) error {
		if s.Classification != nil {
			return fmt.Errorf("%w: %s", ErrDuplicateClassification, id)
		}
		if !s.Status.CanTransition(StatusRunning) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, StatusRunning)
		}
		s.Classification = &result
		s.Status = StatusRunning
		return nil
	})
}

func (r *RedisStore) SetRouting(ctx context.Context, id uuid.UUID, agents []string) error {
	return r.update(ctx, id, func(s *Session) error {
		if s.Status.Terminal() {
			return fmt.Errorf("%w: %s", ErrSessionTerminal, id)
		}
		s.RoutedAgents = append([]string(nil), agents...)
		return nil
	})
}

func (r *RedisStore) AppendExtraction(ctx context.Context, id uuid.UUID, result ExtractionResult) error {
	return r.update(ctx, id, func(s *Session) error {
		if existing, ok := s.Extraction[result.Agent]; ok {
			if existing.Equal(result) {
				return nil
			}
			return fmt.Errorf("%w: %s", ErrConflictingExtraction, result.Agent)
		}
		if s.Status.Terminal() {
			return fmt.Errorf("%w: %s", ErrSessionTerminal, id)
		}

		s.Extraction[result.Agent] = result
		s.Chain = append(s.Chain, ChainEntry{
			SequenceNo:    len(s.Chain) + 1,
			Agent:         result.Agent,
			ResultSummary: result.Summary(),
			Timestamp:     time.Now(),
		})
		return nil
	})
}

func (r *RedisStore) AppendChainMark(ctx context.Context, id uuid.UUID, summary string) error {
	return r.update(ctx, id, func(s *Session) error {
		s.Chain = append(s.Chain, ChainEntry{
			SequenceNo:    len(s.Chain) + 1,
			Agent:         ChainAgent,
			ResultSummary: summary,
			Timestamp:     time.Now(),
		})
		return nil
	})
}

func (r *RedisStore) LinkSessions(ctx context.Context, a, b uuid.UUID) error {
	if err := r.update(ctx, a, func(s *Session) error {
		addRelated(s, b)
		return nil
	}); err != nil {
		return err
	}
	return r.update(ctx, b, func(s *Session) error {
		addRelated(s, a)
		return nil
	})
}

func (r *RedisStore) Finalize(ctx context.Context, id uuid.UUID) (Status, error) {
	var terminal Status
	err := r.update(ctx, id, func(s *Session) error {
		if s.Status.Terminal() {
			terminal = s.Status
			return nil
		}
		terminal = s.TerminalStatus()
		if !s.Status.CanTransition(terminal) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, terminal)
		}
		s.Status = terminal
		return nil
	})
	if err != nil {
		return "", err
	}
	return terminal, nil
}

func (r *RedisStore) MarkFailed(ctx context.Context, id uuid.UUID) error {
	return r.update(ctx, id, func(s *Session) error {
		if s.Status.Terminal() {
			return fmt.Errorf("%w: %s", ErrSessionTerminal, id)
		}
		s.Status = StatusFailed
		return nil
	})
}

func (r *RedisStore) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	return r.read(ctx, id)
}

// Payload always fails: session documents are stored without raw input
// bytes, which live in blob storage under the session's storage key.
func (r *RedisStore) Payload(ctx context.Context, id uuid.UUID) ([]byte, error) {
	if _, err := r.read(ctx, id); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s", ErrPayloadUnavailable, id)
}

func (r *RedisStore) List(ctx context.Context, filters Filters) ([]Session, error) {
	ids, err := r.client.SMembers(ctx, sessionIndexKey).Result()
	if err != nil {
		return nil, redisErr("list", err)
	}
	return r.collect(ctx, ids, filters)
}

func (r *RedisStore) ListByConversation(ctx context.Context, conversationID string) ([]Session, error) {
	ids, err := r.client.SMembers(ctx, conversationPrefix+conversationID).Result()
	if err != nil {
		return nil, redisErr("list conversation", err)
	}
	return r.collect(ctx, ids, Filters{})
}

func (r *RedisStore) collect(ctx context.Context, ids []string, filters Filters) ([]Session, error) {
	results := make([]Session, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}

		sess, err := r.read(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// expired terminal session still present in the index
			continue
		}
		if err != nil {
			return nil, err
		}

		if filters.Match(sess) {
			results = append(results, *sess)
		}
	}

	sortSessions(results)
	return results, nil
}

func (r *RedisStore) read(ctx context.Context, id uuid.UUID) (*Session, error) {
	data, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, redisErr("read", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, &StorageError{Op: "read", Err: err}
	}
	if sess.Extraction == nil {
		sess.Extraction = make(map[string]ExtractionResult)
	}
	return &sess, nil
}

func (r *RedisStore) write(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return &StorageError{Op: "write", Err: err}
	}
	if err := r.client.Set(ctx, sessionKey(sess.ID), data, redis.KeepTTL).Err(); err != nil {
		return redisErr("write", err)
	}
	return nil
}

func redisErr(op string, err error) error {
	if err == nil {
		return nil
	}
	transient := !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	return &StorageError{Op: op, Err: err, Transient: transient}
}
