package intake

import (
	"regexp"
	"strings"
)

// Content hints derived from an Input. The routing engine matches these
// against secondary agent rules in the policy table.
const (
	HintEmbeddedJSON  = "embedded_json"
	HintAttachmentRef = "attachment_ref"
	HintURLs          = "contains_urls"
)

var jsonBlockPattern = regexp.MustCompile(`(?s)\{[^{}]*:[^{}]*\}`)

// DeriveHints inspects the payload for lightweight signals. The result is
// deterministic for a given Input and carries no ordering guarantees beyond
// the fixed evaluation order below.
func DeriveHints(in *Input) []string {
	text := in.Text()
	lower := strings.ToLower(text)

	var hints []string

	if in.Format == FormatEmail && containsJSONBlock(text) {
		hints = append(hints, HintEmbeddedJSON)
	}
	if strings.Contains(lower, "attachment") || strings.Contains(lower, "attached") {
		hints = append(hints, HintAttachmentRef)
	}
	if strings.Contains(lower, "http://") || strings.Contains(lower, "https://") {
		hints = append(hints, HintURLs)
	}

	return hints
}

// ExtractJSONBlock returns the first embedded JSON object found in text, or
// an empty string. Used by the secondary-trigger resolver to materialize a
// chained JSON intake from an email body.
func ExtractJSONBlock(text string) string {
	if block := extractBalancedJSON(text); block != "" {
		return block
	}
	return ""
}

func containsJSONBlock(text string) bool {
	return extractBalancedJSON(text) != ""
}

// extractBalancedJSON scans for the first balanced top-level object that
// parses as JSON. The regexp pre-filter avoids scanning payloads with no
// object-like content at all.
func extractBalancedJSON(text string) string {
	if !jsonBlockPattern.MatchString(text) {
		return ""
	}

	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, r := range text {
		if start >= 0 && inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}

		switch r {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				candidate := text[start : i+1]
				if isJSON(candidate) {
					return candidate
				}
				start = -1
			}
		case '"':
			if depth > 0 {
				inString = true
			}
		}
	}

	return ""
}
