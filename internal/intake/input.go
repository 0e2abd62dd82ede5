// Package intake normalizes raw submissions into canonical Input records.
// It resolves the document format from declared media types, source names,
// and content sniffing, enforces the configured size limit, and derives
// lightweight content hints used by the routing engine.
package intake

// Format identifies a supported input document format.
type Format string

// Supported input formats.
const (
	FormatPDF   Format = "pdf"
	FormatJSON  Format = "json"
	FormatEmail Format = "email"
)

// Valid reports whether the format is one of the supported variants.
func (f Format) Valid() bool {
	switch f {
	case FormatPDF, FormatJSON, FormatEmail:
		return true
	}
	return false
}

// Input is the canonical record produced by the normalizer. Raw holds the
// original payload bytes until they are persisted, after which StorageKey
// references the durable copy.
type Input struct {
	Format      Format `json:"format"`
	Source      string `json:"source"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	StorageKey  string `json:"storage_key,omitempty"`
	Subject     string `json:"subject,omitempty"`
	Raw         []byte `json:"-"`
}

// Text returns the payload as a string. PDF payloads are returned as-is;
// extraction agents are responsible for format-specific decoding.
func (in *Input) Text() string {
	return string(in.Raw)
}
