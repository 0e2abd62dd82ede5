package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JaimeStill/triage/internal/classify"
	"github.com/JaimeStill/triage/internal/intake"
	"github.com/JaimeStill/triage/pkg/query"
	"github.com/JaimeStill/triage/pkg/repository"
)

// PostgresStore is the durable Store implementation. Per-session write
// serialization comes from row-level locks: every write transaction begins
// with SELECT ... FOR UPDATE on the session row, so writers for the same
// session queue while writers for different sessions run in parallel. The
// extraction row and its chain entry commit in the same transaction.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgresStore over the given connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const lockSessionQ = `
	SELECT classification, routed_agents, status
	FROM public.sessions
	WHERE id = $1
	FOR UPDATE`

type lockedSession struct {
	classification []byte
	routed         []byte
	status         Status
}

func lockSession(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*lockedSession, error) {
	var ls lockedSession
	err := tx.QueryRowContext(ctx, lockSessionQ, id).
		Scan(&ls.classification, &ls.routed, &ls.status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &ls, nil
}

func (p *PostgresStore) Create(ctx context.Context, in intake.Input, sctx Context) (uuid.UUID, error) {
	id := uuid.New()

	ctxJSON, err := json.Marshal(sctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal context: %w", err)
	}

	insertQ := `
		INSERT INTO sessions(
			id, source, format, content_type, size_bytes, storage_key,
			session_context, conversation_id, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = p.db.ExecContext(ctx, insertQ,
		id, in.Source, string(in.Format), in.ContentType, in.Size, in.StorageKey,
		ctxJSON, nullable(sctx.ConversationID), string(StatusPending),
	)
	if err != nil {
		return uuid.Nil, storageErr("create", err)
	}
	return id, nil
}

func (p *PostgresStore) AppendClassification(ctx context.Context, id uuid.UUID, result classify.Result) error {
	_, err := repository.WithTx(ctx, p.db, func(tx *sql.Tx) (struct{}, error) {
		ls, err := lockSession(ctx, tx, id)
		if err != nil {
			return struct{}{}, err
		}
		if len(ls.classification) > 0 {
			return struct{}{}, fmt.Errorf("%w: %s", ErrDuplicateClassification, id)
		}
		if !ls.status.CanTransition(StatusRunning) {
			return struct{}{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, ls.status, StatusRunning)
		}

		resultJSON, err := json.Marshal(result)
		if err != nil {
			return struct{}{}, fmt.Errorf("marshal classification: %w", err)
		}

		err = repository.ExecExpectOne(ctx, tx,
			`UPDATE sessions SET classification = $1, intent = $2, status = $3 WHERE id = $4`,
			resultJSON, result.Intent, string(StatusRunning), id,
		)
		return struct{}{}, err
	})
	return storageErr("append classification", err)
}

func (p *PostgresStore) SetRouting(ctx context.Context, id uuid.UUID, agents []string) error {
	_, err := repository.WithTx(ctx, p.db, func(tx *sql.Tx) (struct{}, error) {
		ls, err := lockSession(ctx, tx, id)
		if err != nil {
			return struct{}{}, err
		}
		if ls.status.Terminal() {
			return struct{}{}, fmt.Errorf("%w: %s", ErrSessionTerminal, id)
		}

		routedJSON, err := json.Marshal(agents)
		if err != nil {
			return struct{}{}, fmt.Errorf("marshal routed agents: %w", err)
		}

		err = repository.ExecExpectOne(ctx, tx,
			`UPDATE sessions SET routed_agents = $1 WHERE id = $2`,
			routedJSON, id,
		)
		return struct{}{}, err
	})
	return storageErr("set routing", err)
}

func (p *PostgresStore) AppendExtraction(ctx context.Context, id uuid.UUID, result ExtractionResult) error {
	_, err := repository.WithTx(ctx, p.db, func(tx *sql.Tx) (struct{}, error) {
		ls, err := lockSession(ctx, tx, id)
		if err != nil {
			return struct{}{}, err
		}

		var existingJSON []byte
		err = tx.QueryRowContext(ctx,
			`SELECT result FROM session_extractions WHERE session_id = $1 AND agent = $2`,
			id, result.Agent,
		).Scan(&existingJSON)

		switch {
		case err == nil:
			var existing ExtractionResult
			if err := json.Unmarshal(existingJSON, &existing); err != nil {
				return struct{}{}, fmt.Errorf("unmarshal existing extraction: %w", err)
			}
			existing.Agent = result.Agent
			if existing.Equal(result) {
				return struct{}{}, nil
			}
			return struct{}{}, fmt.Errorf("%w: %s", ErrConflictingExtraction, result.Agent)
		case !errors.Is(err, sql.ErrNoRows):
			return struct{}{}, err
		}

		if ls.status.Terminal() {
			return struct{}{}, fmt.Errorf("%w: %s", ErrSessionTerminal, id)
		}

		resultJSON, err := json.Marshal(result)
		if err != nil {
			return struct{}{}, fmt.Errorf("marshal extraction: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_extractions(session_id, agent, result) VALUES ($1, $2, $3)`,
			id, result.Agent, resultJSON,
		); err != nil {
			return struct{}{}, err
		}

		// chain entry commits with the extraction row
		if err := appendChainEntry(ctx, tx, id, result.Agent, result.Summary()); err != nil {
			return struct{}{}, err
		}

		return struct{}{}, nil
	})
	return storageErr("append extraction", err)
}

func (p *PostgresStore) AppendChainMark(ctx context.Context, id uuid.UUID, summary string) error {
	_, err := repository.WithTx(ctx, p.db, func(tx *sql.Tx) (struct{}, error) {
		if _, err := lockSession(ctx, tx, id); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, appendChainEntry(ctx, tx, id, ChainAgent, summary)
	})
	return storageErr("append chain mark", err)
}

func appendChainEntry(ctx context.Context, tx *sql.Tx, id uuid.UUID, agent, summary string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO session_chain(session_id, sequence_no, agent, result_summary)
		SELECT $1, COALESCE(MAX(sequence_no), 0) + 1, $2, $3
		FROM session_chain WHERE session_id = $1`,
		id, agent, summary,
	)
	return err
}

func (p *PostgresStore) LinkSessions(ctx context.Context, a, b uuid.UUID) error {
	// consistent lock order prevents deadlock between concurrent links
	first, second := a, b
	if b.String() < a.String() {
		first, second = b, a
	}

	_, err := repository.WithTx(ctx, p.db, func(tx *sql.Tx) (struct{}, error) {
		for _, id := range []uuid.UUID{first, second} {
			if _, err := lockSession(ctx, tx, id); err != nil {
				return struct{}{}, err
			}
		}

		linkQ := `
			UPDATE sessions
			SET session_context = jsonb_set(
				session_context,
				'{related_sessions}',
				COALESCE(session_context->'related_sessions', '[]'::jsonb) || to_jsonb($2::text)
			)
			WHERE id = $1
			AND NOT COALESCE(session_context->'related_sessions', '[]'::jsonb) @> to_jsonb($2::text)`

		if _, err := tx.ExecContext(ctx, linkQ, a, b.String()); err != nil {
			return struct{}{}, err
		}
		if _, err := tx.ExecContext(ctx, linkQ, b, a.String()); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
	return storageErr("link sessions", err)
}

func (p *PostgresStore) Finalize(ctx context.Context, id uuid.UUID) (Status, error) {
	status, err := repository.WithTx(ctx, p.db, func(tx *sql.Tx) (Status, error) {
		ls, err := lockSession(ctx, tx, id)
		if err != nil {
			return "", err
		}
		if ls.status.Terminal() {
			return ls.status, nil
		}

		sess := Session{Status: ls.status, Extraction: make(map[string]ExtractionResult)}
		if len(ls.routed) > 0 {
			if err := json.Unmarshal(ls.routed, &sess.RoutedAgents); err != nil {
				return "", fmt.Errorf("unmarshal routed agents: %w", err)
			}
		}

		results, err := repository.QueryMany(ctx, tx,
			`SELECT agent, result FROM session_extractions WHERE session_id = $1`,
			[]any{id}, scanExtraction,
		)
		if err != nil {
			return "", err
		}
		for _, result := range results {
			sess.Extraction[result.Agent] = result
		}

		terminal := sess.TerminalStatus()
		if !ls.status.CanTransition(terminal) {
			return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, ls.status, terminal)
		}

		err = repository.ExecExpectOne(ctx, tx,
			`UPDATE sessions SET status = $1 WHERE id = $2`,
			string(terminal), id,
		)
		return terminal, err
	})
	if err != nil {
		return "", storageErr("finalize", err)
	}
	return status, nil
}

func (p *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID) error {
	_, err := repository.WithTx(ctx, p.db, func(tx *sql.Tx) (struct{}, error) {
		ls, err := lockSession(ctx, tx, id)
		if err != nil {
			return struct{}{}, err
		}
		if ls.status.Terminal() {
			return struct{}{}, fmt.Errorf("%w: %s", ErrSessionTerminal, id)
		}

		err = repository.ExecExpectOne(ctx, tx,
			`UPDATE sessions SET status = $1 WHERE id = $2`,
			string(StatusFailed), id,
		)
		return struct{}{}, err
	})
	return storageErr("mark failed", err)
}

func (p *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess, err := repository.WithTx(ctx, p.db, func(tx *sql.Tx) (Session, error) {
		// the row lock serializes against writers so extraction rows and
		// chain entries read below belong to one consistent commit point
		if _, err := lockSession(ctx, tx, id); err != nil {
			return Session{}, err
		}

		q, args := query.NewBuilder(projection).BuildSingle("ID", id)
		sess, err := repository.QueryOne(ctx, tx, q, args, scanSession)
		if err != nil {
			return Session{}, err
		}

		results, err := repository.QueryMany(ctx, tx,
			`SELECT agent, result FROM session_extractions WHERE session_id = $1`,
			[]any{id}, scanExtraction,
		)
		if err != nil {
			return Session{}, err
		}
		for _, result := range results {
			sess.Extraction[result.Agent] = result
		}

		sess.Chain, err = repository.QueryMany(ctx, tx, `
			SELECT sequence_no, agent, result_summary, created_at
			FROM session_chain
			WHERE session_id = $1
			ORDER BY sequence_no`,
			[]any{id}, scanChainEntry,
		)
		if err != nil {
			return Session{}, err
		}

		return sess, nil
	})
	if err != nil {
		return nil, storageErr("get", err)
	}
	return &sess, nil
}

// Payload always fails: session rows carry no raw input column, so raw
// bytes are served exclusively from blob storage.
func (p *PostgresStore) Payload(ctx context.Context, id uuid.UUID) ([]byte, error) {
	if _, err := p.Get(ctx, id); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s", ErrPayloadUnavailable, id)
}

func (p *PostgresStore) List(ctx context.Context, filters Filters) ([]Session, error) {
	qb := query.NewBuilder(projection, defaultSort)
	filters.Apply(qb)

	listQ, args := qb.Build()
	results, err := repository.QueryMany(ctx, p.db, listQ, args, scanSession)
	if err != nil {
		return nil, storageErr("list", err)
	}
	return results, nil
}

func (p *PostgresStore) ListByConversation(ctx context.Context, conversationID string) ([]Session, error) {
	return p.List(ctx, Filters{ConversationID: &conversationID})
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// transientClasses are PostgreSQL error classes worth retrying: connection
// exceptions, transaction rollbacks (serialization/deadlock), and resource
// exhaustion.
var transientClasses = []string{"08", "40", "53", "57"}

// storageErr wraps backend failures as StorageError while letting domain
// errors pass through unchanged.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}

	for _, domain := range []error{
		ErrNotFound, ErrDuplicateClassification, ErrConflictingExtraction,
		ErrInvalidTransition, ErrSessionTerminal,
	} {
		if errors.Is(err, domain) {
			return err
		}
	}

	transient := true
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		transient = false
		for _, class := range transientClasses {
			if strings.HasPrefix(pgErr.Code, class) {
				transient = true
				break
			}
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		transient = false
	}

	return &StorageError{Op: op, Err: err, Transient: transient}
}
