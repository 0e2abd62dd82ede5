package sessions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/JaimeStill/triage/pkg/pagination"
)

// System defines the public contract for session domain queries. Writes go
// through the pipeline, which owns the Store directly.
type System interface {
	Handler() *Handler
	Store() Store

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Session], error)

	Find(ctx context.Context, id uuid.UUID) (*Session, error)
	ByConversation(ctx context.Context, conversationID string) ([]Session, error)
}

type system struct {
	store      Store
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates a session system over the given store.
func New(store Store, logger *slog.Logger, pagination pagination.Config) System {
	return &system{
		store:      store,
		logger:     logger.With("system", "sessions"),
		pagination: pagination,
	}
}

func (s *system) Handler() *Handler {
	return NewHandler(s, s.logger, s.pagination)
}

func (s *system) Store() Store {
	return s.store
}

func (s *system) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Session], error) {
	page.Normalize(s.pagination)

	all, err := s.store.List(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	total := len(all)
	start := page.Offset()
	if start > total {
		start = total
	}
	end := min(start+page.PageSize, total)

	result := pagination.NewPageResult(all[start:end], total, page.Page, page.PageSize)
	return &result, nil
}

func (s *system) Find(ctx context.Context, id uuid.UUID) (*Session, error) {
	return s.store.Get(ctx, id)
}

func (s *system) ByConversation(ctx context.Context, conversationID string) ([]Session, error) {
	return s.store.ListByConversation(ctx, conversationID)
}
