package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRecordAppendsInOrder(t *testing.T) {
	trail := NewMemoryTrail()
	ctx := context.Background()
	session := uuid.New()

	decisions := []string{
		"classified format=email intent=rfq",
		"routed primary=email_parser",
		"extracted email_parser:completed fields=12 anomalies=0",
	}
	for _, decision := range decisions {
		if err := trail.Record(ctx, session, ComponentClassifier, decision); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	entries, err := trail.BySession(ctx, session)
	if err != nil {
		t.Fatalf("BySession() error = %v", err)
	}
	if len(entries) != len(decisions) {
		t.Fatalf("len(entries) = %d, want %d", len(entries), len(decisions))
	}
	for i, entry := range entries {
		if entry.Decision != decisions[i] {
			t.Errorf("entries[%d].Decision = %q, want %q", i, entry.Decision, decisions[i])
		}
		if entry.ID == uuid.Nil {
			t.Errorf("entries[%d].ID is nil", i)
		}
		if entry.Timestamp.IsZero() {
			t.Errorf("entries[%d].Timestamp is zero", i)
		}
	}
}

func TestBySessionFilters(t *testing.T) {
	trail := NewMemoryTrail()
	ctx := context.Background()
	a := uuid.New()
	b := uuid.New()

	trail.Record(ctx, a, ComponentClassifier, "classified")
	trail.Record(ctx, b, ComponentRouter, "routed")
	trail.Record(ctx, a, ComponentExtraction, "extracted")

	entries, err := trail.BySession(ctx, a)
	if err != nil {
		t.Fatalf("BySession() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	for _, entry := range entries {
		if entry.SessionID != a {
			t.Errorf("SessionID = %s, want %s", entry.SessionID, a)
		}
	}
	if trail.Len() != 3 {
		t.Errorf("Len() = %d, want 3", trail.Len())
	}
}

func TestByTimeRangeHalfOpen(t *testing.T) {
	trail := NewMemoryTrail()
	ctx := context.Background()
	session := uuid.New()

	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	trail.now = func() time.Time { return clock }

	for i := range 3 {
		clock = base.Add(time.Duration(i) * time.Minute)
		trail.Record(ctx, session, ComponentStore, "write")
	}

	entries, err := trail.ByTimeRange(ctx, base, base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("ByTimeRange() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2 (to bound exclusive)", len(entries))
	}
	if !entries[0].Timestamp.Equal(base) {
		t.Errorf("entries[0].Timestamp = %v, want from bound inclusive", entries[0].Timestamp)
	}

	entries, err = trail.ByTimeRange(ctx, base.Add(5*time.Minute), base.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("ByTimeRange() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("len(entries) = %d, want 0 outside range", len(entries))
	}
}
