package policy

import "strconv"

// MassDeletionThreshold is the number of deletes in one run at which the
// built-in mass-deletion policy warns.
const MassDeletionThreshold = 10

// GetBuiltinPolicies returns all built-in policies. They only warn.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		massDeletionPolicy(),
		catchAllRemovalPolicy(),
		plainHTTPWebhookPolicy(),
	}
}

func massDeletionPolicy() Policy {
	return Policy{
		Name:        "mass-deletion",
		Description: "Warns when a single run deletes ten or more resources",
		Enabled:     true,
		Builtin:     true,
		Rego: `package mailsync.builtin.deletion

warn contains msg if {
	input.summary.delete >= ` + strconv.Itoa(MassDeletionThreshold) + `
	msg := sprintf("this run deletes %d resources", [input.summary.delete])
}
`,
	}
}

func catchAllRemovalPolicy() Policy {
	return Policy{
		Name:        "catch-all-removal",
		Description: "Warns when a domain catch-all is removed",
		Enabled:     true,
		Builtin:     true,
		Rego: `package mailsync.builtin.catchall

warn contains violation if {
	some change in input.changes
	change.resource == "domain"
	change.type == "delete"
	violation := {
		"message": "catch-all routing is removed, unmatched mail will bounce",
		"resource": sprintf("domain/%s", [change.key]),
	}
}
`,
	}
}

func plainHTTPWebhookPolicy() Policy {
	return Policy{
		Name:        "plain-http-webhook",
		Description: "Warns when a webhook endpoint is delivered over plain HTTP",
		Enabled:     true,
		Builtin:     true,
		Rego: `package mailsync.builtin.transport

warn contains violation if {
	some change in input.changes
	change.resource == "endpoint"
	change.type != "delete"
	startswith(change.desired.endpoint.url, "http://")
	violation := {
		"message": "webhook delivers over plain http",
		"resource": sprintf("endpoint/%s", [change.key]),
	}
}
`,
	}
}
