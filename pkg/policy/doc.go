// Package policy gates pushes with Open Policy Agent (OPA) Rego policies.
//
// Before a push applies anything, every enabled policy is evaluated against
// the computed diff. The Rego input is:
//
//	{
//	  "changes": [ {"type": "create", "resource": "endpoint", "key": "ops",
//	                "desired": {"endpoint": {"type": "webhook", "url": "..."}}}, ... ],
//	  "summary": {"create": 1, "update": 0, "delete": 0},
//	  "context": {"document": "mail.yaml", "target": "api.example.com", "dryRun": false}
//	}
//
// A policy may define two rules in its package, both partial sets:
//
//   - deny: every message blocks the push
//   - warn: every message is reported and the push continues
//
// A message is either a string or an object with "message" and an optional
// "resource" such as "emailAddress/postmaster@example.com".
//
// Example policy:
//
//	# Never delete the postmaster address.
//	package mailsync.local
//
//	deny contains msg if {
//		some change in input.changes
//		change.type == "delete"
//		startswith(change.key, "postmaster@")
//		msg := sprintf("%s must never be deleted", [change.key])
//	}
//
// # Built-in Policies
//
// The engine always loads three advisory policies: mass-deletion (warns
// when a run deletes MassDeletionThreshold or more resources),
// catch-all-removal and plain-http-webhook. Built-in policies never deny.
//
// Policies use Rego v1 syntax. Files are loaded from the paths listed in
// policy.paths; directories are walked recursively and *_test.rego files
// are skipped.
package policy
