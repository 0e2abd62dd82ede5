package agents

import (
	"context"
	"slices"
	"testing"

	"github.com/JaimeStill/triage/internal/intake"
	"github.com/JaimeStill/triage/internal/sessions"
)

func TestRecoverText(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			"single literal",
			"BT /F1 12 Tf (Hello World) Tj ET",
			"Hello World",
		},
		{
			"multiple literals",
			"(Invoice total) Tj (due Friday) Tj",
			"Invoice total due Friday",
		},
		{
			"escaped parens kept",
			`(balance \(net\)) Tj`,
			"balance (net)",
		},
		{
			"binary literal dropped",
			"(Hello) Tj (\x01\x02\x03) Tj",
			"Hello",
		},
		{
			"no literals",
			"stream endstream",
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := recoverText([]byte(tt.raw)); got != tt.want {
				t.Errorf("recoverText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTopKeywords(t *testing.T) {
	words := []string{
		"compliance", "compliance", "compliance",
		"regulation", "regulation",
		"audit",
		"the", "with", "from",
		"gdpr.",
	}

	got := topKeywords(words, 10)

	want := []string{"compliance", "regulation", "audit", "gdpr"}
	if !slices.Equal(got, want) {
		t.Errorf("topKeywords() = %v, want %v", got, want)
	}
}

func TestTopKeywordsLimit(t *testing.T) {
	words := []string{
		"alpha", "bravo", "charlie", "delta", "echoes", "foxtrot",
		"golfing", "hotels", "indigo", "juliet", "kilogram", "limas",
	}

	got := topKeywords(words, 10)
	if len(got) != 10 {
		t.Errorf("len(topKeywords()) = %d, want 10", len(got))
	}
	if !slices.IsSorted(got) {
		t.Errorf("equal-frequency keywords not lexicographic: %v", got)
	}
}

func TestPDFExtractUnreadable(t *testing.T) {
	agent := NewPDFAgent()
	in := &intake.Input{
		Format: intake.FormatPDF,
		Raw:    []byte("%PDF-1.7 truncated garbage (Quarterly compliance report) Tj"),
	}

	result, err := agent.Extract(context.Background(), Request{Input: in, Intent: "regulation"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if result.Status != sessions.ExtractionWithAnomalies {
		t.Errorf("Status = %q, want %q", result.Status, sessions.ExtractionWithAnomalies)
	}
	if !slices.Contains(result.Anomalies, "unreadable:page_count") {
		t.Errorf("Anomalies = %v, want unreadable:page_count", result.Anomalies)
	}

	if got := result.Fields["word_count"]; got != 3 {
		t.Errorf("word_count = %v, want 3", got)
	}
	keywords, _ := result.Fields["keywords"].([]string)
	if !slices.Contains(keywords, "compliance") {
		t.Errorf("keywords = %v, want compliance", keywords)
	}
}

func TestPDFExtractEmptyText(t *testing.T) {
	agent := NewPDFAgent()
	in := &intake.Input{
		Format: intake.FormatPDF,
		Raw:    []byte("not a pdf at all"),
	}

	result, err := agent.Extract(context.Background(), Request{Input: in, Intent: "invoice"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if !slices.Contains(result.Anomalies, "empty:text") {
		t.Errorf("Anomalies = %v, want empty:text", result.Anomalies)
	}
	if got := result.Fields["page_count"]; got != 0 {
		t.Errorf("page_count = %v, want 0", got)
	}
}
