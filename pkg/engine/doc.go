// Package engine provides the reconciliation core of mailsync.
//
// # Overview
//
// mailsync keeps a remote email-routing service in line with a declarative
// document. The engine works on canonical values only; turning shorthand
// into canonical endpoint configurations is done by package config.
//
//  1. Desired - a DesiredState built from the document
//  2. Current - a CurrentState fetched through a StateClient
//  3. Diff - Diff computes an ordered, typed list of changes
//  4. Apply - an Orchestrator executes the changes in phases
//
// # Core Types
//
//   - EndpointConfig: a canonical endpoint, discriminated by EndpointType
//   - Binding: where mail for an address or catch-all goes (named endpoint,
//     inline endpoint, or store-only)
//   - Change: one create, update or delete on one resource key
//   - DiffResult: the changes of one run, with counts
//   - ApplyReport: one ChangeResult per change, with counts and a RunStatus
//
// # Diff
//
// Diff is pure and deterministic. Every resource key appears in at most one
// change. Equality ignores remote-only metadata such as IDs and timestamps,
// email groups compare as sets, and a change of endpoint type is an update.
//
// # Apply Phases
//
// Apply runs six phases, each a barrier for the next:
//
//  1. create/update endpoints
//  2. create/update domain catch-alls
//  3. create/update email addresses
//  4. delete email addresses
//  5. delete domain catch-alls
//  6. delete endpoints
//
// Endpoint deletion comes last and is not blocked by addresses that still
// reference the endpoint: the remote degrades them to store-only.
//
// # Error Handling
//
// Errors are classified for retry logic:
//
//   - Transient: network failures and 5xx responses, retried with backoff
//   - Throttled: rate limiting, retried with a longer backoff
//   - Permanent: remote rejections and authentication failures, not retried
//
// A permanent or exhausted failure marks only its own change failed. An
// authentication failure stops the run: remaining changes are skipped and
// Apply returns the error.
//
// # Thread Safety
//
// Diff and the types in this package are not synchronized and are meant to
// be used from one goroutine. An Orchestrator may be shared; each Apply call
// keeps its state local. StateClient implementations must be safe for
// concurrent use.
package engine
