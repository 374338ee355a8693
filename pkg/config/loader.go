package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mailsync/mailsync/pkg/engine"
)

// Format is the encoding of a desired-state document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatCUE  Format = "cue"
)

// FormatFromPath picks the document format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", engine.NewValidationError(path, "unsupported document extension %q (want .yaml, .yml, .json or .cue)", filepath.Ext(path))
	}
}

// Loader reads desired-state documents and checks their structure.
type Loader struct {
	schemas *SchemaRegistry
}

// NewLoader creates a loader with the built-in schemas.
func NewLoader() *Loader {
	return &Loader{schemas: NewSchemaRegistry()}
}

// Schemas returns the registry used by the loader.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.schemas
}

// LoadDocument reads and parses the document at path with a fresh Loader.
func LoadDocument(path string) (*Document, error) {
	return NewLoader().Load(path)
}

// Load reads and parses the document at path. The format follows the extension.
func (l *Loader) Load(path string) (*Document, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	return l.Parse(content, format, path)
}

// Parse decodes a document held in memory. source names it in errors.
func (l *Loader) Parse(content []byte, format Format, source string) (*Document, error) {
	var (
		raw map[string]any
		err error
	)

	switch format {
	case FormatYAML:
		if err = yaml.Unmarshal(content, &raw); err != nil {
			return nil, &engine.ValidationError{Path: source, Message: "invalid YAML", Err: err}
		}
	case FormatJSON:
		if err = json.Unmarshal(content, &raw); err != nil {
			return nil, &engine.ValidationError{Path: source, Message: "invalid JSON", Err: err}
		}
	case FormatCUE:
		raw, err = l.schemas.DecodeCUE(content, source, SchemaDocument)
		if err != nil {
			return nil, err
		}
	default:
		return nil, engine.NewValidationError(source, "unsupported document format %q", format)
	}

	if raw == nil {
		return nil, engine.NewValidationError(source, "document is empty")
	}

	// An empty YAML mapping ("endpoints:") decodes as null.
	for _, key := range []string{"domains", "emailAddresses", "endpoints"} {
		if v, ok := raw[key]; ok && v == nil {
			raw[key] = map[string]any{}
		}
	}

	if format != FormatCUE {
		if err := l.schemas.ValidateAgainstSchema(SchemaDocument, "", raw); err != nil {
			return nil, err
		}
	}

	doc, err := decodeDocument(raw)
	if err != nil {
		return nil, err
	}
	doc.Source = source
	doc.Format = format
	doc.schemas = l.schemas
	return doc, nil
}

// decodeDocument lifts a structurally valid raw document into a Document.
func decodeDocument(raw map[string]any) (*Document, error) {
	doc := &Document{
		Domains:        make(map[string]DomainDocument),
		EmailAddresses: make(map[string]any),
		Endpoints:      make(map[string]any),
	}

	if s, ok := raw["$schema"].(string); ok {
		doc.Schema = s
	}
	if v, ok := raw["version"]; ok && v != nil {
		doc.Version = fmt.Sprint(v)
	}

	addresses, ok := raw["emailAddresses"]
	if !ok {
		return nil, engine.NewValidationError("emailAddresses", "field is required")
	}
	if m, ok := addresses.(map[string]any); ok {
		doc.EmailAddresses = m
	}

	if m, ok := raw["endpoints"].(map[string]any); ok {
		doc.Endpoints = m
	}

	if m, ok := raw["domains"].(map[string]any); ok {
		for name, v := range m {
			dom := DomainDocument{}
			if fields, ok := v.(map[string]any); ok {
				dom.CatchAll, dom.CatchAllSet = fields["catchAll"]
			}
			doc.Domains[name] = dom
		}
	}

	return doc, nil
}
