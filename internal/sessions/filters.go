package sessions

import (
	"net/url"

	"github.com/JaimeStill/triage/pkg/query"
)

// Filters narrows session list queries.
type Filters struct {
	Status         *string `json:"status,omitempty"`
	Format         *string `json:"format,omitempty"`
	Intent         *string `json:"intent,omitempty"`
	ConversationID *string `json:"conversation_id,omitempty"`
}

// FiltersFromQuery parses filter values from URL query parameters.
// Supported parameters: status, format, intent, conversation_id.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters
	if v := values.Get("status"); v != "" {
		f.Status = &v
	}
	if v := values.Get("format"); v != "" {
		f.Format = &v
	}
	if v := values.Get("intent"); v != "" {
		f.Intent = &v
	}
	if v := values.Get("conversation_id"); v != "" {
		f.ConversationID = &v
	}
	return f
}

// Apply adds the filter conditions to a SQL query builder.
func (f Filters) Apply(qb *query.Builder) {
	if f.Status != nil {
		qb.WhereEquals("Status", *f.Status)
	}
	if f.Format != nil {
		qb.WhereEquals("Format", *f.Format)
	}
	if f.Intent != nil {
		qb.WhereEquals("Intent", *f.Intent)
	}
	if f.ConversationID != nil {
		qb.WhereEquals("ConversationID", *f.ConversationID)
	}
}

// Match reports whether a session satisfies the filters; used by store
// backends without a query engine.
func (f Filters) Match(s *Session) bool {
	if f.Status != nil && string(s.Status) != *f.Status {
		return false
	}
	if f.Format != nil && string(s.Input.Format) != *f.Format {
		return false
	}
	if f.Intent != nil {
		if s.Classification == nil || s.Classification.Intent != *f.Intent {
			return false
		}
	}
	if f.ConversationID != nil && s.Context.ConversationID != *f.ConversationID {
		return false
	}
	return true
}
