package audit

import (
	"context"
	"time"

	"github.com/JaimeStill/triage/pkg/repository"
	"github.com/google/uuid"
)

const (
	insertEntryQ = `
		INSERT INTO public.audit_entries (id, session_id, recorded_at, component, decision)
		VALUES ($1, $2, $3, $4, $5)`

	bySessionQ = `
		SELECT id, session_id, recorded_at, component, decision
		FROM public.audit_entries
		WHERE session_id = $1
		ORDER BY recorded_at, id`

	byTimeRangeQ = `
		SELECT id, session_id, recorded_at, component, decision
		FROM public.audit_entries
		WHERE recorded_at >= $1 AND recorded_at < $2
		ORDER BY recorded_at, id`
)

// PostgresTrail persists audit entries in their own table. Writes run
// outside any session store transaction so a failed session commit never
// loses its audit record.
type PostgresTrail struct {
	db  repository.Querier
	ex  repository.Executor
	now func() time.Time
}

func NewPostgresTrail(db interface {
	repository.Querier
	repository.Executor
},
) *PostgresTrail {
	return &PostgresTrail{db: db, ex: db, now: time.Now}
}

func (t *PostgresTrail) Record(ctx context.Context, sessionID uuid.UUID, component, decision string) error {
	_, err := t.ex.ExecContext(ctx, insertEntryQ,
		uuid.New(), sessionID, t.now().UTC(), component, decision,
	)
	return err
}

func (t *PostgresTrail) BySession(ctx context.Context, sessionID uuid.UUID) ([]Entry, error) {
	return repository.QueryMany(ctx, t.db, bySessionQ, []any{sessionID}, scanEntry)
}

func (t *PostgresTrail) ByTimeRange(ctx context.Context, from, to time.Time) ([]Entry, error) {
	return repository.QueryMany(ctx, t.db, byTimeRangeQ, []any{from, to}, scanEntry)
}

func scanEntry(s repository.Scanner) (Entry, error) {
	var e Entry
	if err := s.Scan(&e.ID, &e.SessionID, &e.Timestamp, &e.Component, &e.Decision); err != nil {
		return Entry{}, err
	}
	return e, nil
}
