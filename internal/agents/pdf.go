package agents

import (
	"bytes"
	"context"
	"slices"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/JaimeStill/triage/internal/sessions"
)

const keywordLimit = 10

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {},
	"with": {}, "by": {}, "this": {}, "that": {}, "from": {},
}

// PDFAgent reports structural statistics for PDF payloads: page count via
// pdfcpu, word count, and keyword frequency over the text it can recover
// from content stream string literals.
type PDFAgent struct {
	conf *model.Configuration
}

func NewPDFAgent() *PDFAgent {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFAgent{conf: conf}
}

func (a *PDFAgent) Name() string { return "pdf_agent" }

func (a *PDFAgent) Extract(ctx context.Context, req Request) (sessions.ExtractionResult, error) {
	if err := ctx.Err(); err != nil {
		return sessions.ExtractionResult{}, err
	}

	var anomalies []string

	pages, err := api.PageCount(bytes.NewReader(req.Input.Raw), a.conf)
	if err != nil {
		pages = 0
		anomalies = append(anomalies, "unreadable:page_count")
	}

	text := recoverText(req.Input.Raw)
	words := strings.Fields(text)
	if len(words) == 0 {
		anomalies = append(anomalies, "empty:text")
	}

	status := sessions.ExtractionCompleted
	if len(anomalies) > 0 {
		status = sessions.ExtractionWithAnomalies
	}

	return sessions.ExtractionResult{
		Agent: a.Name(),
		Fields: map[string]any{
			"page_count":      pages,
			"word_count":      len(words),
			"character_count": len(text),
			"keywords":        topKeywords(words, keywordLimit),
		},
		Anomalies: anomalies,
		Status:    status,
	}, nil
}

// recoverText pulls printable text out of parenthesized string literals in
// the PDF byte stream. It skips escaped delimiters and keeps only literals
// that look like prose.
func recoverText(raw []byte) string {
	var builder strings.Builder

	depth := 0
	escaped := false
	var current []byte
	for _, b := range raw {
		switch {
		case escaped:
			escaped = false
			if depth > 0 {
				current = append(current, b)
			}
		case b == '\\':
			escaped = true
		case b == '(':
			depth++
			if depth == 1 {
				current = current[:0]
			}
		case b == ')':
			if depth > 0 {
				depth--
				if depth == 0 && printable(current) {
					builder.Write(current)
					builder.WriteByte(' ')
				}
			}
		case depth > 0:
			current = append(current, b)
		}
	}

	return strings.TrimSpace(builder.String())
}

func printable(s []byte) bool {
	if len(s) == 0 {
		return false
	}
	for _, b := range s {
		if (b < 0x20 || b > 0x7e) && b != '\n' && b != '\t' {
			return false
		}
	}
	return true
}

func topKeywords(words []string, limit int) []string {
	freq := make(map[string]int)
	for _, word := range words {
		word = strings.ToLower(strings.Trim(word, `.,!?;:"()[]{}`))
		if len(word) <= 3 {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		freq[word]++
	}

	keywords := make([]string, 0, len(freq))
	for word := range freq {
		keywords = append(keywords, word)
	}
	slices.SortFunc(keywords, func(a, b string) int {
		if freq[a] != freq[b] {
			return freq[b] - freq[a]
		}
		return strings.Compare(a, b)
	})

	if len(keywords) > limit {
		keywords = keywords[:limit]
	}
	return keywords
}
