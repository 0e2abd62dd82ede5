package inference

import (
	"context"
	"sort"
	"strings"

	"github.com/JaimeStill/triage/internal/intake"
)

// intentKeywords drives the reference provider. Each intent scores by the
// number of distinct keywords found in the payload.
var intentKeywords = map[string][]string{
	"rfq":        {"rfq", "request for quotation", "quote", "quotation", "pricing"},
	"invoice":    {"invoice", "bill", "payment", "amount due", "charge"},
	"complaint":  {"complaint", "unacceptable", "refund", "dissatisfied"},
	"support":    {"support", "help", "issue", "problem", "ticket"},
	"order":      {"order", "purchase", "cart", "buy"},
	"resume":     {"resume", "curriculum vitae", "work experience", "education"},
	"regulation": {"regulation", "compliance", "policy", "gdpr"},
}

const (
	baseScore      = 0.60
	matchIncrement = 0.15
	maxScore       = 0.99
	fallbackLabel  = "general"
	fallbackScore  = 0.30
)

// KeywordProvider is a deterministic reference Provider that scores intents
// by keyword occurrence. It stands in for the LLM-backed capability in local
// and test configurations.
type KeywordProvider struct{}

// NewKeywordProvider creates a KeywordProvider.
func NewKeywordProvider() *KeywordProvider {
	return &KeywordProvider{}
}

// Infer scores each registered intent against the payload text. Intents with
// no keyword match are omitted; when nothing matches, a single low-scoring
// fallback candidate is returned so the classifier downgrades to manual
// review rather than erroring.
func (p *KeywordProvider) Infer(_ context.Context, in *intake.Input) ([]Candidate, error) {
	text := strings.ToLower(in.Text() + " " + in.Subject)

	candidates := make([]Candidate, 0, len(intentKeywords))
	for label, keywords := range intentKeywords {
		matches := 0
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				matches++
			}
		}
		if matches == 0 {
			continue
		}

		score := baseScore + matchIncrement*float64(min(matches, 2))
		if score > maxScore {
			score = maxScore
		}
		candidates = append(candidates, Candidate{Label: label, Score: score})
	}

	if len(candidates) == 0 {
		return []Candidate{{Label: fallbackLabel, Score: fallbackScore}}, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Label < candidates[j].Label
	})
	return candidates, nil
}
