package intake

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeResolvesFromContentType(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		want        Format
	}{
		{"pdf media type", "application/pdf", FormatPDF},
		{"json media type", "application/json", FormatJSON},
		{"json with charset", "application/json; charset=utf-8", FormatJSON},
		{"email media type", "message/rfc822", FormatEmail},
		{"uppercase media type", "Application/PDF", FormatPDF},
	}

	n := NewNormalizer(0)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := n.Normalize([]byte("payload"), tt.contentType, "upload")
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if in.Format != tt.want {
				t.Errorf("Format = %q, want %q", in.Format, tt.want)
			}
		})
	}
}

func TestNormalizeResolvesFromExtension(t *testing.T) {
	tests := []struct {
		source string
		want   Format
	}{
		{"invoice.pdf", FormatPDF},
		{"order.json", FormatJSON},
		{"events.jsonl", FormatJSON},
		{"message.eml", FormatEmail},
		{"message.MSG", FormatEmail},
	}

	n := NewNormalizer(0)

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			in, err := n.Normalize([]byte("payload"), "application/octet-stream", tt.source)
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if in.Format != tt.want {
				t.Errorf("Format = %q, want %q", in.Format, tt.want)
			}
		})
	}
}

func TestNormalizeSniffsContent(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Format
	}{
		{"pdf magic", "%PDF-1.7 stream data", FormatPDF},
		{"pdf with leading whitespace", "  %PDF-1.4", FormatPDF},
		{"json object", `{"invoice_number": "INV-1"}`, FormatJSON},
		{"json array", `[{"id": 1}]`, FormatJSON},
		{"email headers", "From: a@b.com\nSubject: hello\n\nbody", FormatEmail},
	}

	n := NewNormalizer(0)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := n.Normalize([]byte(tt.raw), "", "blob")
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if in.Format != tt.want {
				t.Errorf("Format = %q, want %q", in.Format, tt.want)
			}
		})
	}
}

func TestNormalizeUnsupportedFormat(t *testing.T) {
	n := NewNormalizer(0)

	_, err := n.Normalize([]byte("plain text with no structure"), "", "notes.txt")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Normalize() error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestNormalizeMalformedJSONRejected(t *testing.T) {
	n := NewNormalizer(0)

	_, err := n.Normalize([]byte(`{"broken": `), "", "blob")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Normalize() error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestNormalizeSizeLimit(t *testing.T) {
	n := NewNormalizer(8)

	_, err := n.Normalize([]byte(`{"a": 12345}`), "application/json", "big.json")
	if !errors.Is(err, ErrSizeExceeded) {
		t.Fatalf("Normalize() error = %v, want ErrSizeExceeded", err)
	}

	in, err := n.Normalize([]byte(`{"a":1}`), "application/json", "small.json")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if in.Size != 7 {
		t.Errorf("Size = %d, want 7", in.Size)
	}
}

func TestNormalizePreservesMetadata(t *testing.T) {
	n := NewNormalizer(0)
	raw := []byte(`{"order_id": "ORD-9"}`)

	in, err := n.Normalize(raw, "application/json", "order.json")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	if in.Source != "order.json" {
		t.Errorf("Source = %q, want %q", in.Source, "order.json")
	}
	if in.ContentType != "application/json" {
		t.Errorf("ContentType = %q, want %q", in.ContentType, "application/json")
	}
	if string(in.Raw) != string(raw) {
		t.Errorf("Raw = %q, want %q", in.Raw, raw)
	}
}

func TestNormalizeDetectsContentTypeWhenEmpty(t *testing.T) {
	n := NewNormalizer(0)

	in, err := n.Normalize([]byte("%PDF-1.7"), "", "file.pdf")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if !strings.HasPrefix(in.ContentType, "application/pdf") && !strings.HasPrefix(in.ContentType, "text/plain") {
		t.Errorf("ContentType = %q, want a detected value", in.ContentType)
	}
	if in.ContentType == "" {
		t.Error("ContentType is empty, want detected value")
	}
}

func TestMapHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unsupported format", ErrUnsupportedFormat, 415},
		{"size exceeded", ErrSizeExceeded, 413},
		{"unknown", errors.New("boom"), 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapHTTPStatus(tt.err); got != tt.want {
				t.Errorf("MapHTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}
