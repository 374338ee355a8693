// Package config loads mailsync desired-state documents and turns them into
// canonical engine state.
//
// # Documents
//
// A document is YAML, JSON or CUE, chosen by file extension. Its structure
// is checked against an embedded CUE schema before anything is normalized:
//
//	endpoints:
//	  ops: https://ops.example.com/hook
//	  team: [alice@example.com, bob@example.com]
//	  alerts:
//	    slack: {url: https://hooks.slack.com/services/T/B/X, channel: "#mail"}
//	  archive:
//	    type: webhook
//	    url: https://archive.example.com/in
//	    timeout: 10
//	domains:
//	  example.com:
//	    catchAll: ops
//	  example.org:
//	    catchAll: false
//	emailAddresses:
//	  hello@example.com: team
//	  billing@example.com: {forward: finance@example.net}
//
// # Shorthand
//
// Shorthand is a tagged variant with one constructor per notation.
// NormalizeEndpoint matches over the constructors:
//
//   - absolute URL string: webhook
//   - array of addresses: email_group, order kept
//   - {forward: address}: email
//   - {slack: url} or {slack: {url, channel?, username?}}: slack
//   - {discord: url} or {discord: {url, username?, avatarUrl?}}: discord
//
// Anything else fails with *InvalidEndpointConfigError. A string that is
// not a URL is never normalized; Document.Resolve treats it as the name of
// an endpoint under endpoints.
//
// # Resolution
//
// Document.Resolve produces an *engine.DesiredState. A domain without a
// catchAll key is left unmanaged and catchAll: false disables it. Address
// domains are lower-cased. Every error is collected and returned joined, and
// all of them match engine.ErrValidation.
package config
