package engine

import (
	"context"
	"time"
)

// StateClient reads and mutates the remote resource API.
// The engine never holds a client beyond the call it is passed to.
//
// Implementations return classified errors: NewAuthError for rejected
// credentials, NewNetworkError (or a throttled error) for transport and
// availability failures, and NewRemoteRejected for refused operations.
type StateClient interface {
	// FetchCurrentState reads domains, endpoints and email addresses.
	FetchCurrentState(ctx context.Context) (*CurrentState, error)

	// CreateEndpoint creates the endpoint name and returns its remote ID.
	CreateEndpoint(ctx context.Context, name string, cfg EndpointConfig) (string, error)

	// UpdateEndpoint replaces the configuration of endpoint id.
	UpdateEndpoint(ctx context.Context, id, name string, cfg EndpointConfig) error

	// DeleteEndpoint deletes endpoint id. Addresses and catch-alls that
	// reference it are degraded to store-only by the remote.
	DeleteEndpoint(ctx context.Context, id string) error

	// CreateDomainCatchAll configures a catch-all for domain.
	CreateDomainCatchAll(ctx context.Context, domain string, b Binding) error

	// UpdateDomainCatchAll replaces the catch-all of domain.
	UpdateDomainCatchAll(ctx context.Context, domain string, b Binding) error

	// DeleteDomainCatchAll removes the catch-all of domain.
	DeleteDomainCatchAll(ctx context.Context, domain string) error

	// CreateEmailAddress creates address and returns its remote ID.
	CreateEmailAddress(ctx context.Context, address string, b Binding) (string, error)

	// UpdateEmailAddress replaces the binding of address id.
	UpdateEmailAddress(ctx context.Context, id string, b Binding) error

	// DeleteEmailAddress deletes address id.
	DeleteEmailAddress(ctx context.Context, id string) error
}

// MetricsRecorder receives one observation per resolved change.
type MetricsRecorder interface {
	RecordMutation(resource, changeType, outcome string, attempts int, duration time.Duration)
}

// Observer is called once per change as soon as its outcome is final.
// It may be called concurrently from several workers.
type Observer func(ChangeResult)
