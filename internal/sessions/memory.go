package sessions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/triage/internal/classify"
	"github.com/JaimeStill/triage/internal/intake"
)

// memSession pairs a session with its writer lock. Holding mu serializes
// every mutation of the session; snapshots are deep copies taken under mu so
// readers never observe a half-applied append.
type memSession struct {
	mu sync.Mutex
	s  Session
}

// MemoryStore is the in-process Store implementation. It is the reference
// for the consistency contract and the default backend for tests and local
// runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*memSession
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uuid.UUID]*memSession),
		now:      time.Now,
	}
}

func (m *MemoryStore) Create(_ context.Context, in intake.Input, sctx Context) (uuid.UUID, error) {
	id := uuid.New()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[id] = &memSession{
		s: Session{
			ID:         id,
			CreatedAt:  m.now(),
			Input:      in,
			Extraction: make(map[string]ExtractionResult),
			Context:    sctx,
			Status:     StatusPending,
		},
	}
	return id, nil
}

func (m *MemoryStore) AppendClassification(_ context.Context, id uuid.UUID, result classify.Result) error {
	entry, err := m.entry(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.s.Classification != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateClassification, id)
	}
	if !entry.s.Status.CanTransition(StatusRunning) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, entry.s.Status, StatusRunning)
	}

	entry.s.Classification = &result
	entry.s.Status = StatusRunning
	return nil
}

func (m *MemoryStore) SetRouting(_ context.Context, id uuid.UUID, agents []string) error {
	entry, err := m.entry(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.s.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrSessionTerminal, id)
	}

	entry.s.RoutedAgents = append([]string(nil), agents...)
	return nil
}

func (m *MemoryStore) AppendExtraction(_ context.Context, id uuid.UUID, result ExtractionResult) error {
	entry, err := m.entry(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if existing, ok := entry.s.Extraction[result.Agent]; ok {
		if existing.Equal(result) {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrConflictingExtraction, result.Agent)
	}

	if entry.s.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrSessionTerminal, id)
	}

	// extraction map entry and chain entry land in one critical section;
	// snapshots are taken under the same lock
	entry.s.Extraction[result.Agent] = cloneResult(result)
	entry.s.Chain = append(entry.s.Chain, ChainEntry{
		SequenceNo:    len(entry.s.Chain) + 1,
		Agent:         result.Agent,
		ResultSummary: result.Summary(),
		Timestamp:     m.now(),
	})
	return nil
}

func (m *MemoryStore) AppendChainMark(_ context.Context, id uuid.UUID, summary string) error {
	entry, err := m.entry(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.s.Chain = append(entry.s.Chain, ChainEntry{
		SequenceNo:    len(entry.s.Chain) + 1,
		Agent:         ChainAgent,
		ResultSummary: summary,
		Timestamp:     m.now(),
	})
	return nil
}

func (m *MemoryStore) LinkSessions(_ context.Context, a, b uuid.UUID) error {
	first, err := m.entry(a)
	if err != nil {
		return err
	}
	second, err := m.entry(b)
	if err != nil {
		return err
	}

	// consistent lock order prevents deadlock between concurrent links
	if b.String() < a.String() {
		first, second = second, first
	}

	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	addRelated(&first.s, second.s.ID)
	addRelated(&second.s, first.s.ID)
	return nil
}

func (m *MemoryStore) Finalize(_ context.Context, id uuid.UUID) (Status, error) {
	entry, err := m.entry(id)
	if err != nil {
		return "", err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.s.Status.Terminal() {
		return entry.s.Status, nil
	}

	terminal := entry.s.TerminalStatus()
	if !entry.s.Status.CanTransition(terminal) {
		return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, entry.s.Status, terminal)
	}

	entry.s.Status = terminal
	return terminal, nil
}

func (m *MemoryStore) MarkFailed(_ context.Context, id uuid.UUID) error {
	entry, err := m.entry(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.s.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrSessionTerminal, id)
	}

	entry.s.Status = StatusFailed
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Session, error) {
	entry, err := m.entry(id)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.s.Clone(), nil
}

func (m *MemoryStore) Payload(_ context.Context, id uuid.UUID) ([]byte, error) {
	entry, err := m.entry(id)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.s.Input.Raw == nil {
		return nil, fmt.Errorf("%w: %s", ErrPayloadUnavailable, id)
	}

	raw := make([]byte, len(entry.s.Input.Raw))
	copy(raw, entry.s.Input.Raw)
	return raw, nil
}

func (m *MemoryStore) List(_ context.Context, filters Filters) ([]Session, error) {
	return m.collect(func(s *Session) bool { return filters.Match(s) }), nil
}

func (m *MemoryStore) ListByConversation(_ context.Context, conversationID string) ([]Session, error) {
	return m.collect(func(s *Session) bool {
		return s.Context.ConversationID == conversationID
	}), nil
}

func (m *MemoryStore) entry(id uuid.UUID) (*memSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return entry, nil
}

func (m *MemoryStore) collect(match func(*Session) bool) []Session {
	m.mu.RLock()
	entries := make([]*memSession, 0, len(m.sessions))
	for _, entry := range m.sessions {
		entries = append(entries, entry)
	}
	m.mu.RUnlock()

	results := make([]Session, 0)
	for _, entry := range entries {
		entry.mu.Lock()
		if match(&entry.s) {
			results = append(results, *entry.s.Clone())
		}
		entry.mu.Unlock()
	}

	sortSessions(results)
	return results
}

// sortSessions orders by creation time, breaking ties by id for stability.
func sortSessions(results []Session) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].ID.String() < results[j].ID.String()
		}
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
}

func addRelated(s *Session, id uuid.UUID) {
	for _, existing := range s.Context.RelatedSessions {
		if existing == id {
			return
		}
	}
	s.Context.RelatedSessions = append(s.Context.RelatedSessions, id)
}
