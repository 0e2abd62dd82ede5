package audit

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryTrail holds audit entries in process memory. Suitable for tests
// and single-instance deployments of the memory session store.
type MemoryTrail struct {
	mu      sync.RWMutex
	entries []Entry
	now     func() time.Time
}

func NewMemoryTrail() *MemoryTrail {
	return &MemoryTrail{now: time.Now}
}

func (t *MemoryTrail) Record(_ context.Context, sessionID uuid.UUID, component, decision string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = append(t.entries, Entry{
		ID:        uuid.New(),
		SessionID: sessionID,
		Timestamp: t.now().UTC(),
		Component: component,
		Decision:  decision,
	})

	return nil
}

func (t *MemoryTrail) BySession(_ context.Context, sessionID uuid.UUID) ([]Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var result []Entry
	for _, e := range t.entries {
		if e.SessionID == sessionID {
			result = append(result, e)
		}
	}

	return result, nil
}

func (t *MemoryTrail) ByTimeRange(_ context.Context, from, to time.Time) ([]Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var result []Entry
	for _, e := range t.entries {
		if !e.Timestamp.Before(from) && e.Timestamp.Before(to) {
			result = append(result, e)
		}
	}

	return result, nil
}

// Len reports the total number of recorded entries.
func (t *MemoryTrail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// All returns a copy of every entry in record order.
func (t *MemoryTrail) All() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.entries)
}
