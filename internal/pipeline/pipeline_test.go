package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/triage/internal/agents"
	"github.com/JaimeStill/triage/internal/audit"
	"github.com/JaimeStill/triage/internal/classify"
	"github.com/JaimeStill/triage/internal/inference"
	"github.com/JaimeStill/triage/internal/intake"
	"github.com/JaimeStill/triage/internal/routing"
	"github.com/JaimeStill/triage/internal/sessions"
)

const rfqEmail = `From: John Doe <john.doe@company.com>
Subject: RFQ for steel brackets

Please quote 500 steel brackets for delivery next month.

Best Regards,
John Doe`

const embeddedJSONEmail = `From: John Doe <john.doe@company.com>
Subject: Order details

Order payload below:
{"order_id": "ORD-42", "customer": "Acme", "items": ["bracket"]}

Best Regards,
John Doe`

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testClassifier() *classify.Classifier {
	return classify.New(inference.NewKeywordProvider(), classify.DefaultThreshold, map[intake.Format]string{
		intake.FormatEmail: routing.AgentEmailParser,
		intake.FormatJSON:  routing.AgentJSON,
		intake.FormatPDF:   routing.AgentPDF,
	})
}

func testRegistry() *agents.Registry {
	return agents.NewRegistry(agents.NewEmailAgent(), agents.NewJSONAgent(), agents.NewPDFAgent())
}

func newTestPipeline(store sessions.Store, trail audit.Trail, opts Options) *Pipeline {
	return New(
		intake.NewNormalizer(0),
		testClassifier(),
		routing.NewEngine(routing.DefaultTable()),
		testRegistry(),
		store,
		trail,
		nil,
		opts,
		testLogger(),
	)
}

func waitForRelated(t *testing.T, store sessions.Store, id uuid.UUID) *sessions.Session {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if len(s.Context.RelatedSessions) > 0 {
			return s
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for chained session link")
	return nil
}

func TestIntakeRFQEmail(t *testing.T) {
	store := sessions.NewMemoryStore()
	trail := audit.NewMemoryTrail()
	p := newTestPipeline(store, trail, Options{})
	ctx := context.Background()

	id, err := p.Intake(ctx, []byte(rfqEmail), "message/rfc822", "message.eml", "")
	if err != nil {
		t.Fatalf("Intake() error = %v", err)
	}

	s, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if s.Status != sessions.StatusCompleted {
		t.Errorf("Status = %q, want %q", s.Status, sessions.StatusCompleted)
	}
	if s.Classification == nil {
		t.Fatal("Classification is nil")
	}
	if s.Classification.Format != intake.FormatEmail {
		t.Errorf("Format = %q, want email", s.Classification.Format)
	}
	if s.Classification.Intent != "rfq" {
		t.Errorf("Intent = %q, want rfq", s.Classification.Intent)
	}
	if s.Classification.Confidence < 0.9 {
		t.Errorf("Confidence = %.2f, want >= 0.9", s.Classification.Confidence)
	}
	if len(s.RoutedAgents) != 1 || s.RoutedAgents[0] != routing.AgentEmailParser {
		t.Errorf("RoutedAgents = %v, want [email_parser]", s.RoutedAgents)
	}

	extraction, ok := s.Extraction[routing.AgentEmailParser]
	if !ok {
		t.Fatal("no email_parser extraction recorded")
	}
	if got := extraction.Fields["sender_email"]; got != "john.doe@company.com" {
		t.Errorf("sender_email = %v, want john.doe@company.com", got)
	}
	if len(s.Chain) != 1 {
		t.Errorf("len(Chain) = %d, want 1", len(s.Chain))
	}
	if s.Context.ConversationID == "" {
		t.Error("ConversationID is empty, want derived key")
	}

	entries, _ := trail.BySession(ctx, id)
	components := make(map[string]bool)
	for _, e := range entries {
		components[e.Component] = true
	}
	for _, want := range []string{audit.ComponentClassifier, audit.ComponentRouter, audit.ComponentExtraction, audit.ComponentStore} {
		if !components[want] {
			t.Errorf("no audit entry for component %q (entries: %v)", want, entries)
		}
	}
}

func TestProcessAmbiguousInputNeedsReview(t *testing.T) {
	store := sessions.NewMemoryStore()
	trail := audit.NewMemoryTrail()
	p := newTestPipeline(store, trail, Options{})
	ctx := context.Background()

	raw := "From: someone@somewhere.net\nSubject: greetings\n\nnothing actionable in this message"
	id, err := p.Intake(ctx, []byte(raw), "message/rfc822", "message.eml", "")
	if err != nil {
		t.Fatalf("Intake() error = %v", err)
	}

	s, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if s.Status != sessions.StatusNeedsReview {
		t.Errorf("Status = %q, want %q", s.Status, sessions.StatusNeedsReview)
	}
	if s.Classification.Intent != classify.IntentUnknown {
		t.Errorf("Intent = %q, want %q", s.Classification.Intent, classify.IntentUnknown)
	}
	if len(s.RoutedAgents) != 0 {
		t.Errorf("RoutedAgents = %v, want none", s.RoutedAgents)
	}
	if len(s.Extraction) != 0 {
		t.Errorf("Extraction = %v, want no agent invocations", s.Extraction)
	}

	entries, _ := trail.BySession(ctx, id)
	if len(entries) == 0 {
		t.Error("no audit entries for manual-review session")
	}
	for _, e := range entries {
		if e.Component == audit.ComponentExtraction {
			t.Errorf("unexpected extraction audit entry: %v", e)
		}
	}
}

func TestProcessChainsEmbeddedJSON(t *testing.T) {
	store := sessions.NewMemoryStore()
	trail := audit.NewMemoryTrail()
	p := newTestPipeline(store, trail, Options{})
	ctx := context.Background()

	id, err := p.Intake(ctx, []byte(embeddedJSONEmail), "message/rfc822", "message.eml", "")
	if err != nil {
		t.Fatalf("Intake() error = %v", err)
	}

	parent := waitForRelated(t, store, id)

	childID := parent.Context.RelatedSessions[0]
	child, err := store.Get(ctx, childID)
	if err != nil {
		t.Fatalf("Get(child) error = %v", err)
	}

	if child.Input.Format != intake.FormatJSON {
		t.Errorf("child Format = %q, want json", child.Input.Format)
	}
	if child.Context.Depth != 1 {
		t.Errorf("child Depth = %d, want 1", child.Context.Depth)
	}
	if len(child.Context.Lineage) != 1 || child.Context.Lineage[0] != id {
		t.Errorf("child Lineage = %v, want [%s]", child.Context.Lineage, id)
	}
	if len(child.Context.RelatedSessions) != 1 || child.Context.RelatedSessions[0] != id {
		t.Errorf("child RelatedSessions = %v, want [%s]", child.Context.RelatedSessions, id)
	}
	if child.Context.ConversationID != parent.Context.ConversationID {
		t.Errorf("child ConversationID = %q, want %q", child.Context.ConversationID, parent.Context.ConversationID)
	}
}

// erroringStore injects a permanent storage failure on classification writes.
type erroringStore struct {
	sessions.Store
}

func (s *erroringStore) AppendClassification(context.Context, uuid.UUID, classify.Result) error {
	return &sessions.StorageError{Op: "append_classification", Err: errors.New("disk full")}
}

func TestProcessStoreFailureFailsSession(t *testing.T) {
	inner := sessions.NewMemoryStore()
	trail := audit.NewMemoryTrail()
	p := newTestPipeline(&erroringStore{Store: inner}, trail, Options{})
	ctx := context.Background()

	id, err := p.Intake(ctx, []byte(rfqEmail), "message/rfc822", "message.eml", "")
	if err == nil {
		t.Fatal("Intake() error = nil, want storage failure")
	}
	if id == uuid.Nil {
		t.Fatal("Intake() id = nil, want the created session id")
	}

	var se *sessions.StorageError
	if !errors.As(err, &se) {
		t.Errorf("Intake() error = %v, want wrapped StorageError", err)
	}

	s, getErr := inner.Get(ctx, id)
	if getErr != nil {
		t.Fatalf("Get() error = %v", getErr)
	}
	if s.Status != sessions.StatusFailed {
		t.Errorf("Status = %q, want %q", s.Status, sessions.StatusFailed)
	}

	entries, _ := trail.BySession(ctx, id)
	found := false
	for _, e := range entries {
		if strings.Contains(e.Decision, "append classification failed") {
			found = true
		}
	}
	if !found {
		t.Errorf("audit entries = %v, want failure record", entries)
	}
}

type downProvider struct{}

func (downProvider) Infer(context.Context, *intake.Input) ([]inference.Candidate, error) {
	return nil, inference.ErrUnavailable
}

func TestProcessInferenceOutageFailsSession(t *testing.T) {
	store := sessions.NewMemoryStore()
	trail := audit.NewMemoryTrail()
	p := New(
		intake.NewNormalizer(0),
		classify.New(downProvider{}, classify.DefaultThreshold, nil),
		routing.NewEngine(routing.DefaultTable()),
		testRegistry(),
		store,
		trail,
		nil,
		Options{},
		testLogger(),
	)
	ctx := context.Background()

	id, err := p.Intake(ctx, []byte(rfqEmail), "message/rfc822", "message.eml", "")
	if !errors.Is(err, inference.ErrUnavailable) {
		t.Fatalf("Intake() error = %v, want ErrUnavailable", err)
	}

	s, getErr := store.Get(ctx, id)
	if getErr != nil {
		t.Fatalf("Get() error = %v", getErr)
	}
	if s.Status != sessions.StatusFailed {
		t.Errorf("Status = %q, want %q (retained for retry)", s.Status, sessions.StatusFailed)
	}
}

func TestIntakeNormalizeFailureCreatesNoSession(t *testing.T) {
	store := sessions.NewMemoryStore()
	trail := audit.NewMemoryTrail()
	p := newTestPipeline(store, trail, Options{})
	ctx := context.Background()

	id, err := p.Intake(ctx, []byte("unstructured noise"), "", "noise.txt", "")
	if !errors.Is(err, intake.ErrUnsupportedFormat) {
		t.Fatalf("Intake() error = %v, want ErrUnsupportedFormat", err)
	}
	if id != uuid.Nil {
		t.Errorf("Intake() id = %s, want nil", id)
	}

	all, listErr := store.List(ctx, sessions.Filters{})
	if listErr != nil {
		t.Fatalf("List() error = %v", listErr)
	}
	if len(all) != 0 {
		t.Errorf("len(sessions) = %d, want 0", len(all))
	}
	if trail.Len() != 0 {
		t.Errorf("audit entries = %d, want 0", trail.Len())
	}
}

// slowExtractor blocks until its context expires.
type slowExtractor struct{}

func (slowExtractor) Name() string { return "slow_agent" }

func (slowExtractor) Extract(ctx context.Context, _ agents.Request) (sessions.ExtractionResult, error) {
	<-ctx.Done()
	return sessions.ExtractionResult{}, ctx.Err()
}

func TestProcessAgentTimeout(t *testing.T) {
	store := sessions.NewMemoryStore()
	trail := audit.NewMemoryTrail()

	table, err := routing.NewTable(map[intake.Format]map[string]routing.Rule{
		intake.FormatEmail: {
			"rfq": {Primary: "slow_agent"},
		},
	}, nil)
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}

	p := New(
		intake.NewNormalizer(0),
		testClassifier(),
		routing.NewEngine(table),
		agents.NewRegistry(slowExtractor{}),
		store,
		trail,
		nil,
		Options{AgentTimeout: 20 * time.Millisecond},
		testLogger(),
	)
	ctx := context.Background()

	id, err := p.Intake(ctx, []byte(rfqEmail), "message/rfc822", "message.eml", "")
	if err != nil {
		t.Fatalf("Intake() error = %v", err)
	}

	s, _ := store.Get(ctx, id)
	if s.Status != sessions.StatusPartial {
		t.Errorf("Status = %q, want %q", s.Status, sessions.StatusPartial)
	}
	if got := s.Extraction["slow_agent"].Status; got != sessions.ExtractionTimedOut {
		t.Errorf("extraction Status = %q, want %q", got, sessions.ExtractionTimedOut)
	}
}

func TestProcessUnregisteredAgent(t *testing.T) {
	store := sessions.NewMemoryStore()
	trail := audit.NewMemoryTrail()

	table, err := routing.NewTable(map[intake.Format]map[string]routing.Rule{
		intake.FormatEmail: {
			"rfq": {Primary: "ghost_agent"},
		},
	}, nil)
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}

	p := New(
		intake.NewNormalizer(0),
		testClassifier(),
		routing.NewEngine(table),
		testRegistry(),
		store,
		trail,
		nil,
		Options{},
		testLogger(),
	)
	ctx := context.Background()

	id, err := p.Intake(ctx, []byte(rfqEmail), "message/rfc822", "message.eml", "")
	if err != nil {
		t.Fatalf("Intake() error = %v", err)
	}

	s, _ := store.Get(ctx, id)
	result := s.Extraction["ghost_agent"]
	if result.Status != sessions.ExtractionFailed {
		t.Errorf("extraction Status = %q, want %q", result.Status, sessions.ExtractionFailed)
	}
	if len(result.Anomalies) != 1 || result.Anomalies[0] != "unregistered_agent" {
		t.Errorf("Anomalies = %v, want [unregistered_agent]", result.Anomalies)
	}
	if s.Status != sessions.StatusPartial {
		t.Errorf("Status = %q, want %q", s.Status, sessions.StatusPartial)
	}
}

func TestExtractReRunsAgent(t *testing.T) {
	store := sessions.NewMemoryStore()
	trail := audit.NewMemoryTrail()
	p := newTestPipeline(store, trail, Options{})
	ctx := context.Background()

	id, err := p.Intake(ctx, []byte(rfqEmail), "message/rfc822", "message.eml", "")
	if err != nil {
		t.Fatalf("Intake() error = %v", err)
	}

	before, _ := store.Get(ctx, id)

	result, err := p.Extract(ctx, id, routing.AgentEmailParser)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if result.Status != sessions.ExtractionCompleted {
		t.Errorf("Status = %q, want %q", result.Status, sessions.ExtractionCompleted)
	}
	if got := result.Fields["sender_email"]; got != "john.doe@company.com" {
		t.Errorf("sender_email = %v, want john.doe@company.com", got)
	}

	// identical re-run is a no-op append: chain unchanged, session stays terminal
	after, _ := store.Get(ctx, id)
	if len(after.Chain) != len(before.Chain) {
		t.Errorf("len(Chain) = %d, want %d", len(after.Chain), len(before.Chain))
	}
	if after.Status != sessions.StatusCompleted {
		t.Errorf("Status = %q, want %q", after.Status, sessions.StatusCompleted)
	}
}

func TestExtractUnknownAgent(t *testing.T) {
	store := sessions.NewMemoryStore()
	trail := audit.NewMemoryTrail()
	p := newTestPipeline(store, trail, Options{})
	ctx := context.Background()

	id, err := p.Intake(ctx, []byte(rfqEmail), "message/rfc822", "message.eml", "")
	if err != nil {
		t.Fatalf("Intake() error = %v", err)
	}

	if _, err := p.Extract(ctx, id, "ghost_agent"); !errors.Is(err, agents.ErrUnknownAgent) {
		t.Errorf("Extract() error = %v, want ErrUnknownAgent", err)
	}
}

func TestExtractMissingSession(t *testing.T) {
	store := sessions.NewMemoryStore()
	trail := audit.NewMemoryTrail()
	p := newTestPipeline(store, trail, Options{})

	if _, err := p.Extract(context.Background(), uuid.New(), routing.AgentEmailParser); !errors.Is(err, sessions.ErrNotFound) {
		t.Errorf("Extract() error = %v, want ErrNotFound", err)
	}
}
