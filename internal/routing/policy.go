// Package routing maps classifications to extraction agents through an
// immutable policy table. Decisions are pure functions of (format, intent,
// content hints) so identical inputs always route identically.
package routing

import (
	"fmt"
	"sort"

	"github.com/JaimeStill/triage/internal/intake"
)

// Agent identifiers for the built-in extraction agents.
const (
	AgentEmailParser = "email_parser"
	AgentJSON        = "json_agent"
	AgentPDF         = "pdf_agent"
)

// SecondaryRule assigns an additional agent when a content hint is present.
type SecondaryRule struct {
	Hint  string `json:"hint"`
	Agent string `json:"agent"`
}

// Rule is the policy entry for one (format, intent) pair.
type Rule struct {
	Primary   string          `json:"primary"`
	Secondary []SecondaryRule `json:"secondary,omitempty"`
}

type policyKey struct {
	format intake.Format
	intent string
}

// Table is an immutable policy table. Build it with NewTable; lookups never
// mutate state so a single table is safe for concurrent use.
type Table struct {
	rules    map[policyKey]Rule
	defaults map[intake.Format]string
}

// NewTable builds a Table from explicit rules and per-format default agents.
// Rules with an empty primary agent are rejected.
func NewTable(rules map[intake.Format]map[string]Rule, defaults map[intake.Format]string) (*Table, error) {
	t := &Table{
		rules:    make(map[policyKey]Rule),
		defaults: make(map[intake.Format]string, len(defaults)),
	}

	for format, intents := range rules {
		for intent, rule := range intents {
			if rule.Primary == "" {
				return nil, fmt.Errorf("policy rule (%s, %s): primary agent required", format, intent)
			}
			t.rules[policyKey{format, intent}] = rule
		}
	}
	for format, agent := range defaults {
		t.defaults[format] = agent
	}

	return t, nil
}

// Lookup returns the rule for (format, intent) when one exists.
func (t *Table) Lookup(format intake.Format, intent string) (Rule, bool) {
	rule, ok := t.rules[policyKey{format, intent}]
	return rule, ok
}

// Default returns the fallback agent for a format when one exists.
func (t *Table) Default(format intake.Format) (string, bool) {
	agent, ok := t.defaults[format]
	return agent, ok
}

// Rules returns the table contents in deterministic order for inspection.
func (t *Table) Rules() []string {
	entries := make([]string, 0, len(t.rules))
	for key, rule := range t.rules {
		entries = append(entries, fmt.Sprintf("(%s, %s) -> %s", key.format, key.intent, rule.Primary))
	}
	sort.Strings(entries)
	return entries
}

// DefaultTable returns the built-in policy: each format routes to its
// dedicated agent, email bodies carrying an embedded JSON block gain the
// JSON agent as a secondary target, and attachment references on emails
// gain the PDF agent.
func DefaultTable() *Table {
	emailSecondary := []SecondaryRule{
		{Hint: intake.HintEmbeddedJSON, Agent: AgentJSON},
		{Hint: intake.HintAttachmentRef, Agent: AgentPDF},
	}

	rules := map[intake.Format]map[string]Rule{
		intake.FormatEmail: {
			"rfq":       {Primary: AgentEmailParser, Secondary: emailSecondary},
			"invoice":   {Primary: AgentEmailParser, Secondary: emailSecondary},
			"complaint": {Primary: AgentEmailParser, Secondary: emailSecondary},
			"support":   {Primary: AgentEmailParser, Secondary: emailSecondary},
		},
		intake.FormatJSON: {
			"invoice": {Primary: AgentJSON},
			"order":   {Primary: AgentJSON},
		},
		intake.FormatPDF: {
			"invoice":    {Primary: AgentPDF},
			"regulation": {Primary: AgentPDF},
			"resume":     {Primary: AgentPDF},
		},
	}

	defaults := map[intake.Format]string{
		intake.FormatEmail: AgentEmailParser,
		intake.FormatJSON:  AgentJSON,
		intake.FormatPDF:   AgentPDF,
	}

	table, err := NewTable(rules, defaults)
	if err != nil {
		panic(err)
	}
	return table
}
