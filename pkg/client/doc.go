// Package client implements engine.StateClient over the HTTP resource API
// of the remote email-routing service.
//
// Requests carry the API key as a bearer token. Responses are mapped onto
// the engine error taxonomy:
//
//   - 401 and 403: authentication error, fatal to the run
//   - 429: throttled, retried with a longer backoff
//   - 5xx and transport failures: network error, retried
//   - any other 4xx: remote rejection carrying the remote's reason
//
// The remote references endpoints by ID while documents use names. The
// client keeps a name to ID table, filled by FetchCurrentState and by
// endpoint mutations, and lists endpoints again when a name is unknown.
package client
