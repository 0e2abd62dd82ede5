package intake

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
)

var mediaTypes = map[string]Format{
	"application/pdf":  FormatPDF,
	"application/json": FormatJSON,
	"text/json":        FormatJSON,
	"message/rfc822":   FormatEmail,
}

var extensions = map[string]Format{
	".pdf":   FormatPDF,
	".json":  FormatJSON,
	".jsonl": FormatJSON,
	".eml":   FormatEmail,
	".msg":   FormatEmail,
}

// Normalizer converts raw payloads into canonical Input records.
type Normalizer struct {
	maxSize int64
}

// NewNormalizer creates a Normalizer that rejects payloads larger than maxSize bytes.
func NewNormalizer(maxSize int64) *Normalizer {
	return &Normalizer{maxSize: maxSize}
}

// Normalize resolves the payload's format and returns the canonical Input.
// contentType may be empty or application/octet-stream, in which case the
// source name and payload contents decide. Returns ErrSizeExceeded when the
// payload is over the configured limit and ErrUnsupportedFormat when the
// payload cannot be resolved to a supported format. Pure transform: no side
// effects beyond the returned record.
func (n *Normalizer) Normalize(raw []byte, contentType, source string) (*Input, error) {
	size := int64(len(raw))
	if n.maxSize > 0 && size > n.maxSize {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrSizeExceeded, size, n.maxSize)
	}

	format, ok := resolveFormat(raw, contentType, source)
	if !ok {
		return nil, fmt.Errorf("%w: content type %q, source %q", ErrUnsupportedFormat, contentType, source)
	}

	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(raw)
	}

	return &Input{
		Format:      format,
		Source:      source,
		ContentType: contentType,
		Size:        size,
		Raw:         raw,
	}, nil
}

func resolveFormat(raw []byte, contentType, source string) (Format, bool) {
	mt, _, _ := strings.Cut(contentType, ";")
	if f, ok := mediaTypes[strings.TrimSpace(strings.ToLower(mt))]; ok {
		return f, true
	}

	if ext := strings.ToLower(filepath.Ext(source)); ext != "" {
		if f, ok := extensions[ext]; ok {
			return f, true
		}
	}

	return sniffFormat(raw)
}

func sniffFormat(raw []byte) (Format, bool) {
	trimmed := strings.TrimSpace(string(raw))

	switch {
	case strings.HasPrefix(trimmed, "%PDF"):
		return FormatPDF, true
	case isJSON(trimmed):
		return FormatJSON, true
	case looksLikeEmail(trimmed):
		return FormatEmail, true
	}

	return "", false
}

func isJSON(s string) bool {
	if !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, "[") {
		return false
	}
	return json.Valid([]byte(s))
}

var emailIndicators = []string{"from:", "to:", "subject:", "date:"}

func looksLikeEmail(s string) bool {
	lower := strings.ToLower(s)
	for _, indicator := range emailIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}
