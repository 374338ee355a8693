// Package api defines the JSON resources of the remote email-routing API
// spoken by package client and served by package devserver.
//
// Routes reference endpoints by remote ID. Translating IDs to the endpoint
// names used in documents is the client's job.
package api

import (
	"time"

	"github.com/mailsync/mailsync/pkg/engine"
)

// Version is the path prefix of every resource route.
const Version = "/v2"

// Resource paths, relative to the base URL.
const (
	EndpointsPath      = Version + "/endpoints"
	DomainsPath        = Version + "/domains"
	EmailAddressesPath = Version + "/email-addresses"
)

// EndpointPath returns the path of endpoint id.
func EndpointPath(id string) string {
	return EndpointsPath + "/" + id
}

// CatchAllPath returns the catch-all path of domain.
func CatchAllPath(domain string) string {
	return DomainsPath + "/" + domain + "/catch-all"
}

// EmailAddressPath returns the path of email address id.
func EmailAddressPath(id string) string {
	return EmailAddressesPath + "/" + id
}

// Route is where the remote delivers mail for an address or catch-all.
// An empty Route stores mail without delivering it.
type Route struct {
	EndpointID string                 `json:"endpointId,omitempty"`
	Inline     *engine.EndpointConfig `json:"inline,omitempty"`
}

// IsStoreOnly reports whether the route delivers nowhere.
func (r Route) IsStoreOnly() bool {
	return r.EndpointID == "" && r.Inline == nil
}

// Endpoint is an endpoint resource.
type Endpoint struct {
	ID        string                `json:"id"`
	Name      string                `json:"name"`
	Config    engine.EndpointConfig `json:"config"`
	Active    bool                  `json:"active"`
	CreatedAt time.Time             `json:"createdAt"`
	UpdatedAt time.Time             `json:"updatedAt"`
}

// EndpointRequest creates or replaces an endpoint.
type EndpointRequest struct {
	Name   string                `json:"name"`
	Config engine.EndpointConfig `json:"config"`
}

// Domain is a domain resource. CatchAll is nil when none is configured.
type Domain struct {
	ID        string    `json:"id"`
	Domain    string    `json:"domain"`
	CatchAll  *Route    `json:"catchAll,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CatchAllRequest creates or replaces a domain catch-all.
type CatchAllRequest struct {
	Route Route `json:"route"`
}

// EmailAddress is an email address resource.
type EmailAddress struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	Route     Route     `json:"route"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EmailAddressRequest creates an email address or, without Address,
// replaces its route.
type EmailAddressRequest struct {
	Address string `json:"address,omitempty"`
	Route   Route  `json:"route"`
}

// ListResponse wraps every list response.
type ListResponse[T any] struct {
	Data []T `json:"data"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
