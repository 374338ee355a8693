package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mailsync/mailsync/pkg/engine"
)

const yamlDocument = `
$schema: https://mailsync.dev/schema/v1.json
version: 1
endpoints:
  ops: https://ops.example.com/hook
  team: [alice@example.com, bob@example.com]
  alerts:
    slack:
      url: https://hooks.slack.com/services/T/B/X
      channel: "#mail"
  archive:
    type: webhook
    url: https://archive.example.com/in
    timeout: 10
    headers:
      X-Token: abc
domains:
  example.com:
    catchAll: ops
  example.org:
    catchAll: false
  example.net: {}
emailAddresses:
  hello@Example.COM: team
  billing@example.com:
    forward: finance@example.net
  alerts@example.com: alerts
`

const jsonDocument = `{
  "endpoints": {
    "ops": "https://ops.example.com/hook",
    "archive": {"type": "webhook", "url": "https://archive.example.com/in", "timeout": 10}
  },
  "domains": {"example.com": {"catchAll": "ops"}},
  "emailAddresses": {"hello@example.com": ["a@example.com", "b@example.com"]}
}`

const cueDocument = `
endpoints: ops: "https://ops.example.com/hook"
domains: "example.com": catchAll: "ops"
emailAddresses: {
	"hello@example.com": ["a@example.com", "b@example.com"]
	"team@example.com":  {forward: "lead@example.com"}
}
`

func writeDocument(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write document: %v", err)
	}
	return path
}

func TestLoadDocument_Formats(t *testing.T) {
	tests := []struct {
		file      string
		content   string
		format    Format
		endpoints int
		addresses int
	}{
		{"mail.yaml", yamlDocument, FormatYAML, 4, 3},
		{"mail.yml", yamlDocument, FormatYAML, 4, 3},
		{"mail.json", jsonDocument, FormatJSON, 2, 1},
		{"mail.cue", cueDocument, FormatCUE, 1, 2},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			path := writeDocument(t, tt.file, tt.content)

			doc, err := LoadDocument(path)
			if err != nil {
				t.Fatalf("LoadDocument() error = %v", err)
			}
			if doc.Format != tt.format {
				t.Errorf("Format = %s, want %s", doc.Format, tt.format)
			}
			if doc.Source != path {
				t.Errorf("Source = %s", doc.Source)
			}

			desired, err := doc.Resolve()
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if len(desired.Endpoints) != tt.endpoints {
				t.Errorf("endpoints = %d, want %d", len(desired.Endpoints), tt.endpoints)
			}
			if len(desired.EmailAddresses) != tt.addresses {
				t.Errorf("emailAddresses = %d, want %d", len(desired.EmailAddresses), tt.addresses)
			}
		})
	}
}

func TestLoadDocument_YAMLMetadata(t *testing.T) {
	doc, err := LoadDocument(writeDocument(t, "mail.yaml", yamlDocument))
	if err != nil {
		t.Fatal(err)
	}
	if doc.Schema != "https://mailsync.dev/schema/v1.json" {
		t.Errorf("Schema = %q", doc.Schema)
	}
	if doc.Version != "1" {
		t.Errorf("Version = %q", doc.Version)
	}
	if dom := doc.Domains["example.net"]; dom.CatchAllSet {
		t.Error("example.net should have no catchAll")
	}
	if dom := doc.Domains["example.org"]; !dom.CatchAllSet || dom.CatchAll != false {
		t.Errorf("example.org catchAll = %#v", dom)
	}
}

func TestLoadDocument_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unknown extension", "mail.toml", "x = 1"},
		{"invalid yaml", "mail.yaml", "endpoints: [unclosed"},
		{"invalid json", "mail.json", `{"emailAddresses": `},
		{"empty", "mail.yaml", ""},
		{"unknown top-level key", "mail.yaml", "emailAddresses: {}\nroutes: {}\n"},
		{"missing emailAddresses", "mail.yaml", "endpoints: {ops: https://ops.example.com}\n"},
		{"emailAddresses not an object", "mail.yaml", "emailAddresses: [a@example.com]\n"},
		{"unknown domain field", "mail.yaml", "emailAddresses: {}\ndomains: {example.com: {catchAl: ops}}\n"},
		{"cue syntax", "mail.cue", "emailAddresses: {"},
		{"cue unknown key", "mail.cue", "emailAddresses: {}\nextra: 1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadDocument(writeDocument(t, tt.file, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, engine.ErrValidation) {
				t.Errorf("expected validation error, got %T: %v", err, err)
			}
		})
	}
}

func TestLoadDocument_MissingFile(t *testing.T) {
	_, err := LoadDocument(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestLoader_NullSections(t *testing.T) {
	doc, err := NewLoader().Parse([]byte("endpoints:\ndomains:\nemailAddresses:\n"), FormatYAML, "inline")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	desired, err := doc.Resolve()
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(desired.Endpoints)+len(desired.Domains)+len(desired.EmailAddresses) != 0 {
		t.Errorf("expected empty desired state, got %+v", desired)
	}
}

func TestSchemaRegistry_BuiltIns(t *testing.T) {
	sr := NewSchemaRegistry()

	want := []string{
		SchemaDocument,
		SchemaDomain,
		EndpointSchema(engine.EndpointWebhook),
		EndpointSchema(engine.EndpointSlack),
		EndpointSchema(engine.EndpointDiscord),
		EndpointSchema(engine.EndpointEmail),
		EndpointSchema(engine.EndpointEmailGroup),
	}
	for _, name := range want {
		if !sr.HasSchema(name) {
			t.Errorf("built-in schema %s not registered", name)
		}
	}
	if got := len(sr.ListSchemas()); got != len(want) {
		t.Errorf("ListSchemas() has %d entries, want %d", got, len(want))
	}
}

func TestSchemaRegistry_RegisterSchema(t *testing.T) {
	sr := NewSchemaRegistry()

	if err := sr.RegisterSchema("label", `#Label: {name: string & =~"^[a-z]+$"}`, "#Label"); err != nil {
		t.Fatalf("RegisterSchema() error = %v", err)
	}
	if err := sr.ValidateAgainstSchema("label", "labels.0", map[string]any{"name": "ops"}); err != nil {
		t.Errorf("valid data rejected: %v", err)
	}

	err := sr.ValidateAgainstSchema("label", "labels.1", map[string]any{"name": "Ops!"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "labels.1") {
		t.Errorf("error should carry the root path: %v", err)
	}

	if err := sr.RegisterSchema("broken", "#A: {", "#A"); err == nil {
		t.Error("expected compile error")
	}
	if err := sr.RegisterSchema("missing", "#A: {}", "#B"); err == nil {
		t.Error("expected missing definition error")
	}
	if err := sr.ValidateAgainstSchema("nope", "", map[string]any{}); err == nil {
		t.Error("expected unknown schema error")
	}
}

func TestSchemaRegistry_CanonicalEndpoints(t *testing.T) {
	sr := NewSchemaRegistry()

	tests := []struct {
		name    string
		typ     engine.EndpointType
		data    map[string]any
		wantErr bool
	}{
		{"webhook", engine.EndpointWebhook, map[string]any{"type": "webhook", "url": "https://a.example.com", "retryAttempts": 3}, false},
		{"webhook negative timeout", engine.EndpointWebhook, map[string]any{"type": "webhook", "url": "https://a.example.com", "timeout": -1}, true},
		{"webhook missing url", engine.EndpointWebhook, map[string]any{"type": "webhook"}, true},
		{"slack extra field", engine.EndpointSlack, map[string]any{"type": "slack", "webhookUrl": "https://hooks.slack.com/w", "avatarUrl": "x"}, true},
		{"email group empty", engine.EndpointEmailGroup, map[string]any{"type": "email_group", "emails": []any{}}, true},
		{"email", engine.EndpointEmail, map[string]any{"type": "email", "email": "a@example.com"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.ValidateAgainstSchema(EndpointSchema(tt.typ), "endpoints.x", tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAgainstSchema() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !engine.IsValidation(err) {
				t.Errorf("expected validation error, got %T", err)
			}
		})
	}
}
