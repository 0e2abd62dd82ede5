package routing

import (
	"slices"

	"github.com/JaimeStill/triage/internal/classify"
)

// Decision reasons.
const (
	ReasonPolicyMatch   = "policy_match"
	ReasonFormatDefault = "format_default"
	ReasonNoPolicyMatch = "no_policy_match"
	ReasonManualReview  = "manual_review"
)

// Decision is the routing outcome for a classification.
type Decision struct {
	PrimaryAgent    string   `json:"primary_agent"`
	SecondaryAgents []string `json:"secondary_agents,omitempty"`
	Reason          string   `json:"reason"`
}

// ManualReview reports whether the decision routes to no extraction agent.
func (d Decision) ManualReview() bool {
	return d.PrimaryAgent == classify.ManualReview
}

// Agents returns the primary followed by secondary agents, or nil for
// manual-review decisions.
func (d Decision) Agents() []string {
	if d.ManualReview() {
		return nil
	}
	agents := make([]string, 0, 1+len(d.SecondaryAgents))
	agents = append(agents, d.PrimaryAgent)
	agents = append(agents, d.SecondaryAgents...)
	return agents
}

// Engine decides routing targets against a fixed policy table.
type Engine struct {
	table *Table
}

// NewEngine creates an Engine over the given table.
func NewEngine(table *Table) *Engine {
	return &Engine{table: table}
}

// Decide maps a classification and content hints to a routing decision.
// Manual-review classifications route to no extraction agent. A missing
// (format, intent) rule falls back to the format's default agent; with no
// default the result is manual_review with reason no_policy_match. Secondary
// agents come from hint matches, deduplicated and never equal to the primary.
func (e *Engine) Decide(c classify.Result, hints []string) Decision {
	if c.ManualReview() {
		return Decision{
			PrimaryAgent: classify.ManualReview,
			Reason:       ReasonManualReview,
		}
	}

	rule, ok := e.table.Lookup(c.Format, c.Intent)
	if !ok {
		agent, hasDefault := e.table.Default(c.Format)
		if !hasDefault {
			return Decision{
				PrimaryAgent: classify.ManualReview,
				Reason:       ReasonNoPolicyMatch,
			}
		}
		return Decision{
			PrimaryAgent: agent,
			Reason:       ReasonFormatDefault,
		}
	}

	return Decision{
		PrimaryAgent:    rule.Primary,
		SecondaryAgents: matchSecondary(rule, hints),
		Reason:          ReasonPolicyMatch,
	}
}

func matchSecondary(rule Rule, hints []string) []string {
	var agents []string
	for _, sec := range rule.Secondary {
		if !slices.Contains(hints, sec.Hint) {
			continue
		}
		if sec.Agent == rule.Primary || slices.Contains(agents, sec.Agent) {
			continue
		}
		agents = append(agents, sec.Agent)
	}
	return agents
}
