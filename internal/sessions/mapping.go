package sessions

import (
	"encoding/json"
	"fmt"

	"github.com/JaimeStill/triage/internal/classify"
	"github.com/JaimeStill/triage/internal/intake"
	"github.com/JaimeStill/triage/pkg/query"
	"github.com/JaimeStill/triage/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "sessions", "s").
	Project("id", "ID").
	Project("created_at", "CreatedAt").
	Project("source", "Source").
	Project("format", "Format").
	Project("content_type", "ContentType").
	Project("size_bytes", "SizeBytes").
	Project("storage_key", "StorageKey").
	Project("classification", "Classification").
	Project("session_context", "Context").
	Project("conversation_id", "ConversationID").
	Project("intent", "Intent").
	Project("routed_agents", "RoutedAgents").
	Project("status", "Status")

var defaultSort = query.SortField{
	Field:      "CreatedAt",
	Descending: false,
}

// scanSession maps a sessions row to a Session. Classification, context, and
// routed agents round-trip through JSONB columns; the extraction map and
// chain are loaded separately.
func scanSession(s repository.Scanner) (Session, error) {
	var (
		sess           Session
		source         string
		format         string
		contentType    string
		sizeBytes      int64
		storageKey     string
		classification []byte
		sctx           []byte
		conversationID *string
		intent         *string
		routed         []byte
	)

	err := s.Scan(
		&sess.ID,
		&sess.CreatedAt,
		&source,
		&format,
		&contentType,
		&sizeBytes,
		&storageKey,
		&classification,
		&sctx,
		&conversationID,
		&intent,
		&routed,
		&sess.Status,
	)
	if err != nil {
		return Session{}, err
	}

	sess.Input = intake.Input{
		Format:      intake.Format(format),
		Source:      source,
		ContentType: contentType,
		Size:        sizeBytes,
		StorageKey:  storageKey,
	}
	sess.Extraction = make(map[string]ExtractionResult)

	if len(classification) > 0 {
		var c classify.Result
		if err := json.Unmarshal(classification, &c); err != nil {
			return Session{}, fmt.Errorf("unmarshal classification: %w", err)
		}
		sess.Classification = &c
	}
	if len(sctx) > 0 {
		if err := json.Unmarshal(sctx, &sess.Context); err != nil {
			return Session{}, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	if len(routed) > 0 {
		if err := json.Unmarshal(routed, &sess.RoutedAgents); err != nil {
			return Session{}, fmt.Errorf("unmarshal routed agents: %w", err)
		}
	}

	return sess, nil
}

func scanExtraction(s repository.Scanner) (ExtractionResult, error) {
	var (
		agent string
		raw   []byte
	)
	if err := s.Scan(&agent, &raw); err != nil {
		return ExtractionResult{}, err
	}

	var result ExtractionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return ExtractionResult{}, fmt.Errorf("unmarshal extraction %s: %w", agent, err)
	}
	result.Agent = agent
	return result, nil
}

func scanChainEntry(s repository.Scanner) (ChainEntry, error) {
	var entry ChainEntry
	if err := s.Scan(&entry.SequenceNo, &entry.Agent, &entry.ResultSummary, &entry.Timestamp); err != nil {
		return ChainEntry{}, err
	}
	return entry, nil
}
