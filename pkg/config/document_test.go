package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/mailsync/mailsync/pkg/engine"
)

func parseYAML(t *testing.T, content string) *Document {
	t.Helper()
	doc, err := NewLoader().Parse([]byte(content), FormatYAML, "test.yaml")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return doc
}

func TestResolve(t *testing.T) {
	desired, err := parseYAML(t, yamlDocument).Resolve()
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	t.Run("endpoints", func(t *testing.T) {
		want := map[string]engine.EndpointConfig{
			"ops":  engine.Webhook("https://ops.example.com/hook"),
			"team": engine.EmailGroup("alice@example.com", "bob@example.com"),
			"alerts": {
				Type:       engine.EndpointSlack,
				WebhookURL: "https://hooks.slack.com/services/T/B/X",
				Channel:    "#mail",
			},
			"archive": {
				Type:    engine.EndpointWebhook,
				URL:     "https://archive.example.com/in",
				Timeout: 10,
				Headers: map[string]string{"X-Token": "abc"},
			},
		}
		for name, cfg := range want {
			got, ok := desired.Endpoints[name]
			if !ok {
				t.Errorf("endpoint %s missing", name)
				continue
			}
			if !got.Equal(cfg) {
				t.Errorf("endpoint %s = %+v, want %+v", name, got, cfg)
			}
		}
	})

	t.Run("domains", func(t *testing.T) {
		tests := map[string]engine.CatchAll{
			"example.com": {Mode: engine.CatchAllEnabled, Binding: engine.NamedBinding("ops")},
			"example.org": {Mode: engine.CatchAllDisabled},
			"example.net": {Mode: engine.CatchAllUnmanaged},
		}
		for name, want := range tests {
			got := desired.Domains[name].CatchAll
			if got.Mode != want.Mode || len(got.Binding.DiffFields(want.Binding)) != 0 {
				t.Errorf("domain %s catchAll = %+v, want %+v", name, got, want)
			}
		}
	})

	t.Run("email addresses", func(t *testing.T) {
		hello, ok := desired.EmailAddresses["hello@example.com"]
		if !ok {
			t.Fatalf("address domain part was not lower-cased: %v", desired.EmailAddresses)
		}
		if hello.Endpoint != "team" {
			t.Errorf("hello binding = %s", hello)
		}

		billing := desired.EmailAddresses["billing@example.com"]
		if billing.Inline == nil || !billing.Inline.Equal(engine.EmailForward("finance@example.net")) {
			t.Errorf("billing binding = %s", billing)
		}
	})
}

func TestResolve_InlineAndReference(t *testing.T) {
	doc := parseYAML(t, `
endpoints:
  ops: https://ops.example.com/hook
emailAddresses:
  a@example.com: ops
  b@example.com: https://b.example.com/hook
  c@example.com: [x@example.com]
`)
	desired, err := doc.Resolve()
	if err != nil {
		t.Fatal(err)
	}

	if got := desired.EmailAddresses["a@example.com"].Kind(); got != "endpoint" {
		t.Errorf("a@ kind = %s, want endpoint", got)
	}
	for _, address := range []string{"b@example.com", "c@example.com"} {
		if got := desired.EmailAddresses[address].Kind(); got != "inline" {
			t.Errorf("%s kind = %s, want inline", address, got)
		}
	}
}

func TestResolve_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "unknown reference",
			content: "emailAddresses:\n  a@example.com: missing\n",
			want:    `unknown endpoint reference "missing"`,
		},
		{
			name:    "mailto is a reference",
			content: "emailAddresses:\n  a@example.com: \"mailto:ops@example.com\"\n",
			want:    `unknown endpoint reference "mailto:ops@example.com"`,
		},
		{
			name:    "file url is a reference",
			content: "emailAddresses:\n  a@example.com: \"file:///etc/passwd\"\n",
			want:    `unknown endpoint reference "file:///etc/passwd"`,
		},
		{
			name:    "colon reference",
			content: "emailAddresses:\n  a@example.com: \"ops:team\"\n",
			want:    `unknown endpoint reference "ops:team"`,
		},
		{
			name:    "bad address key",
			content: "emailAddresses:\n  not-an-address: https://x.example.com\n",
			want:    "not an email address",
		},
		{
			name:    "duplicate after normalization",
			content: "emailAddresses:\n  a@Example.com: https://x.example.com\n  a@example.com: https://y.example.com\n",
			want:    "duplicate email address",
		},
		{
			name:    "invalid shorthand",
			content: "emailAddresses:\n  a@example.com: {invalid: config}\n",
			want:    "invalid endpoint config",
		},
		{
			name:    "null binding",
			content: "emailAddresses:\n  a@example.com:\n",
			want:    "received null",
		},
		{
			name:    "catchAll true",
			content: "emailAddresses: {}\ndomains:\n  example.com:\n    catchAll: true\n",
			want:    "use false to disable",
		},
		{
			name:    "catchAll unknown reference",
			content: "emailAddresses: {}\ndomains:\n  example.com:\n    catchAll: ops\n",
			want:    `unknown endpoint reference "ops"`,
		},
		{
			name:    "bad domain",
			content: "emailAddresses: {}\ndomains:\n  not_a_domain:\n    catchAll: false\n",
			want:    "not a domain name",
		},
		{
			name:    "endpoint name is a url",
			content: "emailAddresses: {}\nendpoints:\n  https://x.example.com: https://x.example.com\n",
			want:    "must not be a URL",
		},
		{
			name:    "endpoint shorthand string",
			content: "emailAddresses: {}\nendpoints:\n  ops: other\n",
			want:    "not an absolute URL",
		},
		{
			name:    "canonical unknown type",
			content: "emailAddresses: {}\nendpoints:\n  ops: {type: sms, number: '1'}\n",
			want:    "endpoints.ops.type",
		},
		{
			name:    "canonical unknown field",
			content: "emailAddresses: {}\nendpoints:\n  ops: {type: email, email: a@example.com, url: https://x.example.com}\n",
			want:    "endpoints.ops",
		},
		{
			name:    "canonical bad url",
			content: "emailAddresses: {}\nendpoints:\n  ops: {type: webhook, url: nowhere}\n",
			want:    "not an absolute URL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desired, err := parseYAML(t, tt.content).Resolve()
			if err == nil {
				t.Fatalf("expected error, got %+v", desired)
			}
			if desired != nil {
				t.Error("expected no partial state")
			}
			if !engine.IsValidation(err) {
				t.Errorf("expected validation error, got %T: %v", err, err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestResolve_CollectsAllErrors(t *testing.T) {
	doc := parseYAML(t, `
endpoints:
  broken: nope
emailAddresses:
  a@example.com: missing
  b@example.com: {invalid: config}
domains:
  example.com:
    catchAll: true
`)
	_, err := doc.Resolve()
	if err == nil {
		t.Fatal("expected error")
	}

	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) {
		t.Fatalf("expected joined errors, got %T", err)
	}
	if got := len(joined.Unwrap()); got != 4 {
		t.Errorf("got %d errors, want 4: %v", got, err)
	}
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"Hello@Example.COM", "Hello@example.com", false},
		{"  a@b.io ", "a@b.io", false},
		{"a@b@c", "", true},
		{"plain", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeAddress(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeAddress() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizeAddress() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDocument_ResolveWithoutLoader(t *testing.T) {
	doc := &Document{
		EmailAddresses: map[string]any{"a@example.com": "ops"},
		Endpoints: map[string]any{
			"ops": map[string]any{"type": "email", "email": "lead@example.com"},
		},
	}

	desired, err := doc.Resolve()
	if err != nil {
		t.Fatal(err)
	}
	if !desired.Endpoints["ops"].Equal(engine.EmailForward("lead@example.com")) {
		t.Errorf("ops = %+v", desired.Endpoints["ops"])
	}
}
