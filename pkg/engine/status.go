package engine

import (
	"encoding/json"
	"fmt"
)

// ResourceKind identifies one of the three managed resource categories.
type ResourceKind string

const (
	// ResourceEndpoint is a named delivery endpoint.
	ResourceEndpoint ResourceKind = "endpoint"

	// ResourceDomain is a domain's catch-all binding.
	ResourceDomain ResourceKind = "domain"

	// ResourceEmailAddress is a single receiving address and its binding.
	ResourceEmailAddress ResourceKind = "emailAddress"
)

// Validate checks if the resource kind is valid.
func (k ResourceKind) Validate() error {
	switch k {
	case ResourceEndpoint, ResourceDomain, ResourceEmailAddress:
		return nil
	default:
		return fmt.Errorf("invalid resource kind: %s", k)
	}
}

// ChangeType represents the operation required to move a resource to its desired state.
type ChangeType string

const (
	// ChangeCreate indicates the resource exists only in desired state.
	ChangeCreate ChangeType = "create"

	// ChangeUpdate indicates the resource exists on both sides but differs.
	ChangeUpdate ChangeType = "update"

	// ChangeDelete indicates the resource exists only in current state.
	ChangeDelete ChangeType = "delete"

	// ChangeNone indicates the resource is already in its desired state.
	ChangeNone ChangeType = "none"
)

// IsDestructive returns true if the change removes a resource.
func (t ChangeType) IsDestructive() bool {
	return t == ChangeDelete
}

// IsMutating returns true if the change alters remote state.
func (t ChangeType) IsMutating() bool {
	return t == ChangeCreate || t == ChangeUpdate || t == ChangeDelete
}

// Validate checks if the change type is valid.
func (t ChangeType) Validate() error {
	switch t {
	case ChangeCreate, ChangeUpdate, ChangeDelete, ChangeNone:
		return nil
	default:
		return fmt.Errorf("invalid change type: %s", t)
	}
}

// Symbol returns the single-character marker used in plan output.
func (t ChangeType) Symbol() string {
	switch t {
	case ChangeCreate:
		return "+"
	case ChangeUpdate:
		return "~"
	case ChangeDelete:
		return "-"
	default:
		return " "
	}
}

// Outcome is the final result of applying one change.
type Outcome string

const (
	// OutcomeApplied indicates the mutation succeeded.
	OutcomeApplied Outcome = "applied"

	// OutcomeFailed indicates the mutation failed, after retries where allowed.
	OutcomeFailed Outcome = "failed"

	// OutcomeSkipped indicates the mutation was never attempted.
	OutcomeSkipped Outcome = "skipped"
)

// Validate checks if the outcome is valid.
func (o Outcome) Validate() error {
	switch o {
	case OutcomeApplied, OutcomeFailed, OutcomeSkipped:
		return nil
	default:
		return fmt.Errorf("invalid outcome: %s", o)
	}
}

// RunStatus represents the overall status of an apply run.
type RunStatus string

const (
	// RunStatusSucceeded indicates every change was applied.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusPartial indicates some changes were applied and some failed.
	RunStatusPartial RunStatus = "partial"

	// RunStatusFailed indicates no change was applied and at least one failed.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run was cancelled before completing all phases.
	RunStatusCancelled RunStatus = "cancelled"

	// RunStatusDryRun indicates nothing was applied on purpose.
	RunStatusDryRun RunStatus = "dry_run"
)

// IsSuccessful returns true if the run left no failed changes behind.
func (s RunStatus) IsSuccessful() bool {
	return s == RunStatusSucceeded || s == RunStatusDryRun
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusSucceeded, RunStatusPartial, RunStatusFailed,
		RunStatusCancelled, RunStatusDryRun:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}

// Phase is one barrier-separated step of an apply run.
type Phase int

const (
	// PhaseUpsertEndpoints creates and updates endpoints.
	PhaseUpsertEndpoints Phase = iota + 1

	// PhaseUpsertDomains creates and updates domain catch-alls.
	PhaseUpsertDomains

	// PhaseUpsertEmailAddresses creates and updates email addresses.
	PhaseUpsertEmailAddresses

	// PhaseDeleteEmailAddresses deletes email addresses.
	PhaseDeleteEmailAddresses

	// PhaseDeleteDomains deletes domain catch-alls.
	PhaseDeleteDomains

	// PhaseDeleteEndpoints deletes endpoints.
	PhaseDeleteEndpoints
)

// Phases lists every phase in execution order.
var Phases = []Phase{
	PhaseUpsertEndpoints,
	PhaseUpsertDomains,
	PhaseUpsertEmailAddresses,
	PhaseDeleteEmailAddresses,
	PhaseDeleteDomains,
	PhaseDeleteEndpoints,
}

// String returns the phase name used in logs and spans.
func (p Phase) String() string {
	switch p {
	case PhaseUpsertEndpoints:
		return "upsert-endpoints"
	case PhaseUpsertDomains:
		return "upsert-domains"
	case PhaseUpsertEmailAddresses:
		return "upsert-email-addresses"
	case PhaseDeleteEmailAddresses:
		return "delete-email-addresses"
	case PhaseDeleteDomains:
		return "delete-domains"
	case PhaseDeleteEndpoints:
		return "delete-endpoints"
	default:
		return fmt.Sprintf("phase-%d", int(p))
	}
}

// PhaseOf returns the phase a change executes in. Changes of type none have no phase.
func PhaseOf(c Change) Phase {
	if c.Type == ChangeDelete {
		switch c.Resource {
		case ResourceEmailAddress:
			return PhaseDeleteEmailAddresses
		case ResourceDomain:
			return PhaseDeleteDomains
		case ResourceEndpoint:
			return PhaseDeleteEndpoints
		}
		return 0
	}
	if !c.Type.IsMutating() {
		return 0
	}
	switch c.Resource {
	case ResourceEndpoint:
		return PhaseUpsertEndpoints
	case ResourceDomain:
		return PhaseUpsertDomains
	case ResourceEmailAddress:
		return PhaseUpsertEmailAddresses
	}
	return 0
}
