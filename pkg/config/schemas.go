package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/mailsync/mailsync/pkg/engine"
)

// Built-in schema names.
const (
	SchemaDocument = "document"
	SchemaDomain   = "domain"
)

// EndpointSchema returns the name of the built-in schema for canonical
// endpoint objects of type t.
func EndpointSchema(t engine.EndpointType) string {
	return "endpoint." + string(t)
}

// SchemaRegistry manages CUE schemas for validation. CUE values are not
// safe for concurrent use, so every operation holds the registry lock.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.Mutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	// The built-in source is a constant; a compile failure is a programming error.
	builtins := []struct{ name, def string }{
		{SchemaDocument, "#Document"},
		{SchemaDomain, "#Domain"},
		{EndpointSchema(engine.EndpointWebhook), "#Webhook"},
		{EndpointSchema(engine.EndpointSlack), "#Slack"},
		{EndpointSchema(engine.EndpointDiscord), "#Discord"},
		{EndpointSchema(engine.EndpointEmail), "#Email"},
		{EndpointSchema(engine.EndpointEmailGroup), "#EmailGroup"},
	}
	for _, b := range builtins {
		if err := sr.RegisterSchema(b.name, builtinSchemas, b.def); err != nil {
			panic(err)
		}
	}

	return sr
}

// RegisterSchema compiles source and registers the definition def (for
// example "#Document") under name.
func (sr *SchemaRegistry) RegisterSchema(name, source, def string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename("schema/"+name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	schema := val.LookupPath(cue.ParsePath(def))
	if !schema.Exists() {
		return fmt.Errorf("schema %s: definition %s not found", name, def)
	}
	if err := schema.Err(); err != nil {
		return fmt.Errorf("schema %s: %w", name, err)
	}

	sr.schemas[name] = schema
	return nil
}

// HasSchema reports whether a schema is registered under name.
func (sr *SchemaRegistry) HasSchema(name string) bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	_, ok := sr.schemas[name]
	return ok
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateAgainstSchema validates decoded data against a named schema.
// Violations are returned as joined *engine.ValidationError values rooted at path.
func (sr *SchemaRegistry) ValidateAgainstSchema(schemaName, path string, data any) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	schema, ok := sr.schemas[schemaName]
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return engine.NewValidationError(path, "cannot encode value: %v", err)
	}

	if err := schema.Unify(dataVal).Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err, path, "")
	}
	return nil
}

// DecodeCUE compiles a CUE document, checks it against a named schema and
// decodes it into plain Go values.
func (sr *SchemaRegistry) DecodeCUE(source []byte, filename, schemaName string) (map[string]any, error) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	schema, ok := sr.schemas[schemaName]
	if !ok {
		return nil, fmt.Errorf("schema %s not found", schemaName)
	}

	val := sr.ctx.CompileBytes(source, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err, "", filename)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEErrors(err, "", filename)
	}

	// Decode val, not unified, so nothing from the schema leaks into the result.
	var out map[string]any
	if err := val.Decode(&out); err != nil {
		return nil, engine.NewValidationError(filename, "cannot decode CUE document: %v", err)
	}
	return out, nil
}

// convertCUEErrors flattens a CUE error list into validation errors. An
// error is located by its position in filename when it has one, otherwise
// by its value path below root.
func convertCUEErrors(err error, root, filename string) error {
	var errs []error

	for _, e := range cueerrors.Errors(err) {
		path := strings.Join(e.Path(), ".")
		if root != "" {
			path = strings.TrimSuffix(root+"."+path, ".")
		}

		if filename != "" {
			for _, pos := range cueerrors.Positions(e) {
				if pos.Filename() == filename {
					path = fmt.Sprintf("%s:%d:%d", filename, pos.Line(), pos.Column())
					break
				}
			}
		}

		format, args := e.Msg()
		errs = append(errs, &engine.ValidationError{
			Path:    path,
			Message: fmt.Sprintf(format, args...),
		})
	}

	switch len(errs) {
	case 0:
		return &engine.ValidationError{Path: root, Message: err.Error()}
	case 1:
		return errs[0]
	default:
		return errors.Join(errs...)
	}
}

const builtinSchemas = `
// Desired-state document. Values under emailAddresses, endpoints and
// catchAll are endpoint shorthand or references and are checked by the
// normalizer, not here.
#Document: {
	"$schema"?: string
	version?:   string | int

	domains?: [string]:        #Domain
	emailAddresses?: [string]: _
	endpoints?: [string]:      _
}

#Domain: {
	catchAll?: _
}

#Webhook: {
	type:           "webhook"
	url:            string
	timeout?:       number & >=0
	retryAttempts?: number & >=0
	headers?: [string]: string
}

#Slack: {
	type:       "slack"
	webhookUrl: string
	channel?:   string
	username?:  string
}

#Discord: {
	type:       "discord"
	webhookUrl: string
	username?:  string
	avatarUrl?: string
}

#Email: {
	type:  "email"
	email: string
}

#EmailGroup: {
	type: "email_group"
	emails: [string, ...string]
}
`
