package policy

import (
	"time"

	"github.com/mailsync/mailsync/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityWarning is reported but never blocks a push.
	SeverityWarning Severity = "warning"

	// SeverityError blocks a push.
	SeverityError Severity = "error"
)

// Policy is one Rego module. Its deny and warn rules are evaluated.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description is taken from the leading comment of the module.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks the policies shipped with mailsync.
	Builtin bool `json:"builtin"`

	// Source is the file the policy was loaded from, if any.
	Source string `json:"source,omitempty"`
}

// Violation is one message produced by a deny or warn rule.
type Violation struct {
	// Policy is the name of the policy that produced the message.
	Policy string `json:"policy"`

	// Resource is the change ID the message is about, e.g. "endpoint/ops".
	Resource string `json:"resource,omitempty"`

	// Message is the human-readable message.
	Message string `json:"message"`

	// Severity is error for deny rules and warning for warn rules.
	Severity Severity `json:"severity"`
}

// String renders the violation for reports.
func (v Violation) String() string {
	msg := v.Message
	if v.Resource != "" {
		msg = v.Resource + ": " + msg
	}
	return msg + " (" + v.Policy + ")"
}

// Result is the outcome of evaluating every enabled policy against one diff.
type Result struct {
	// Allowed is false when any deny rule produced a message.
	Allowed bool `json:"allowed"`

	Denials  []Violation `json:"denials,omitempty"`
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluatedPolicies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// DenyMessages returns the rendered denials.
func (r *Result) DenyMessages() []string {
	return messages(r.Denials)
}

// WarnMessages returns the rendered warnings.
func (r *Result) WarnMessages() []string {
	return messages(r.Warnings)
}

func messages(vs []Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.String())
	}
	return out
}

// Input is the document policies are evaluated against, available to Rego
// as input.
type Input struct {
	Changes []engine.Change    `json:"changes"`
	Summary engine.DiffSummary `json:"summary"`
	Context Context            `json:"context"`
}

// Context describes the run being checked.
type Context struct {
	// Document is the path of the desired-state document.
	Document string `json:"document,omitempty"`

	// Target is the remote host the diff would be applied to.
	Target string `json:"target,omitempty"`

	// DryRun indicates if this is a dry-run evaluation.
	DryRun bool `json:"dryRun"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}

// NewInput builds the policy input of a diff.
func NewInput(diff *engine.DiffResult, ctx Context) Input {
	changes := diff.Changes
	if changes == nil {
		changes = []engine.Change{}
	}
	if ctx.Timestamp.IsZero() {
		ctx.Timestamp = time.Now().UTC()
	}
	return Input{Changes: changes, Summary: diff.Summary, Context: ctx}
}
