package entities

import "fmt"

// Outcome is the final answer of an authorization decision.
type Outcome string

const (
	OutcomeAllow Outcome = "Allow"
	OutcomeDeny  Outcome = "Deny"
)

// Decision is the result of evaluating a policy set against a request:
// the outcome plus an ordered, human-readable trace of which policies
// contributed. Immutable once produced.
type Decision struct {
	Outcome     Outcome
	Diagnostics []string
}

// IsAllowed reports whether the outcome is Allow.
func (d *Decision) IsAllowed() bool {
	return d.Outcome == OutcomeAllow
}

// String renders the decision for logs and debugging.
func (d *Decision) String() string {
	return fmt.Sprintf("Decision(outcome=%s, diagnostics=%v)", d.Outcome, d.Diagnostics)
}
