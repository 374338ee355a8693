package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mailsync/mailsync/pkg/engine"
)

// Document is a parsed desired-state document. Values are kept as decoded
// (strings, lists, objects) until Resolve normalizes them.
type Document struct {
	// Source is the path the document was read from.
	Source string

	// Format is the encoding the document was read in.
	Format Format

	// Schema is the optional "$schema" value.
	Schema string

	// Version is the optional document version.
	Version string

	// Domains holds the per-domain settings keyed by domain name.
	Domains map[string]DomainDocument

	// EmailAddresses maps an address to an endpoint reference or shorthand.
	EmailAddresses map[string]any

	// Endpoints maps an endpoint name to a canonical object or shorthand.
	Endpoints map[string]any

	schemas *SchemaRegistry
}

// DomainDocument is one entry under domains.
type DomainDocument struct {
	// CatchAll is the raw catchAll value: false, a reference or a shorthand.
	CatchAll any

	// CatchAllSet is false when the document has no catchAll key, leaving
	// the catch-all unmanaged.
	CatchAllSet bool
}

// Resolve normalizes every endpoint, resolves named references and returns
// the canonical desired state. All problems are reported together as joined
// validation errors; no partial state is returned.
func (d *Document) Resolve() (*engine.DesiredState, error) {
	if d.schemas == nil {
		d.schemas = NewSchemaRegistry()
	}

	desired := engine.NewDesiredState()
	var errs []error

	for _, raw := range sortedKeys(d.Endpoints) {
		name := strings.TrimSpace(raw)
		path := "endpoints." + raw
		switch {
		case name == "":
			errs = append(errs, engine.NewValidationError(path, "endpoint name must not be empty"))
			continue
		case isAbsoluteURL(name):
			errs = append(errs, engine.NewValidationError(path, "endpoint name must not be a URL"))
			continue
		}
		if _, dup := desired.Endpoints[name]; dup {
			errs = append(errs, engine.NewValidationError(path, "duplicate endpoint %q", name))
			continue
		}

		cfg, err := d.resolveEndpoint(d.Endpoints[raw], path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		desired.Endpoints[name] = cfg
	}

	for _, raw := range sortedKeys(d.EmailAddresses) {
		path := "emailAddresses." + raw
		address, err := NormalizeAddress(raw)
		if err != nil {
			errs = append(errs, engine.NewValidationError(path, "%v", err))
			continue
		}
		if _, dup := desired.EmailAddresses[address]; dup {
			errs = append(errs, engine.NewValidationError(path, "duplicate email address %q", address))
			continue
		}

		binding, err := d.resolveBinding(d.EmailAddresses[raw], path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		desired.EmailAddresses[address] = binding
	}

	for _, raw := range sortedKeys(d.Domains) {
		path := "domains." + raw
		name := engine.DomainKey(raw)
		if validate.Var(name, "fqdn") != nil {
			errs = append(errs, engine.NewValidationError(path, "%q is not a domain name", raw))
			continue
		}
		if _, dup := desired.Domains[name]; dup {
			errs = append(errs, engine.NewValidationError(path, "duplicate domain %q", name))
			continue
		}

		catchAll, err := d.resolveCatchAll(d.Domains[raw], path+".catchAll")
		if err != nil {
			errs = append(errs, err)
			continue
		}
		desired.Domains[name] = engine.DomainConfig{CatchAll: catchAll}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := desired.Validate(); err != nil {
		return nil, err
	}
	return desired, nil
}

func (d *Document) resolveCatchAll(dom DomainDocument, path string) (engine.CatchAll, error) {
	if !dom.CatchAllSet {
		return engine.CatchAll{Mode: engine.CatchAllUnmanaged}, nil
	}

	if enabled, ok := dom.CatchAll.(bool); ok {
		if enabled {
			return engine.CatchAll{}, &InvalidEndpointConfigError{
				Context:  path,
				Received: describeValue(enabled),
				Reason:   "use false to disable, or an endpoint to enable",
			}
		}
		return engine.CatchAll{Mode: engine.CatchAllDisabled}, nil
	}

	binding, err := d.resolveBinding(dom.CatchAll, path)
	if err != nil {
		return engine.CatchAll{}, err
	}
	return engine.CatchAll{Mode: engine.CatchAllEnabled, Binding: binding}, nil
}

// resolveBinding turns an address or catch-all value into a binding. A
// string that is not an absolute URL names an endpoint from the document;
// anything else is normalized inline.
func (d *Document) resolveBinding(v any, path string) (engine.Binding, error) {
	s, err := ParseShorthand(v, path)
	if err != nil {
		return engine.Binding{}, err
	}

	if s.IsReference() {
		name := strings.TrimSpace(s.Text())
		if !d.hasEndpoint(name) {
			return engine.Binding{}, engine.NewValidationError(path, "unknown endpoint reference %q", s.Text())
		}
		return engine.NamedBinding(name), nil
	}

	cfg, err := NormalizeEndpoint(s, path)
	if err != nil {
		return engine.Binding{}, err
	}
	return engine.InlineBinding(cfg), nil
}

func (d *Document) hasEndpoint(name string) bool {
	if name == "" {
		return false
	}
	for raw := range d.Endpoints {
		if strings.TrimSpace(raw) == name {
			return true
		}
	}
	return false
}

// resolveEndpoint accepts either a canonical endpoint object (one with a
// "type" field) or a shorthand.
func (d *Document) resolveEndpoint(v any, path string) (engine.EndpointConfig, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return Normalize(v, path)
	}
	if _, canonical := obj["type"]; !canonical {
		return Normalize(v, path)
	}
	return d.decodeCanonical(obj, path)
}

func (d *Document) decodeCanonical(obj map[string]any, path string) (engine.EndpointConfig, error) {
	typ, _ := obj["type"].(string)
	if err := engine.EndpointType(typ).Validate(); err != nil {
		return engine.EndpointConfig{}, engine.NewValidationError(path+".type", "%v", err)
	}

	if err := d.schemas.ValidateAgainstSchema(EndpointSchema(engine.EndpointType(typ)), path, obj); err != nil {
		return engine.EndpointConfig{}, err
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return engine.EndpointConfig{}, &engine.ValidationError{Path: path, Message: "cannot encode endpoint", Err: err}
	}
	var cfg engine.EndpointConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return engine.EndpointConfig{}, &engine.ValidationError{Path: path, Message: "cannot decode endpoint", Err: err}
	}
	cfg = cfg.Canonical()

	var errs []error
	for _, u := range []struct{ field, value string }{
		{"url", cfg.URL},
		{"webhookUrl", cfg.WebhookURL},
		{"avatarUrl", cfg.AvatarURL},
	} {
		if u.value != "" && !isAbsoluteURL(u.value) {
			errs = append(errs, engine.NewValidationError(path+"."+u.field, "%q is not an absolute URL", u.value))
		}
	}
	for _, address := range append([]string{cfg.Email}, cfg.Emails...) {
		if address != "" && !isEmail(address) {
			errs = append(errs, engine.NewValidationError(path, "%q is not an email address", address))
		}
	}
	if len(errs) > 0 {
		return engine.EndpointConfig{}, errors.Join(errs...)
	}
	return cfg, nil
}

// NormalizeAddress trims an email address and lower-cases its domain part.
// The local part is kept as written.
func NormalizeAddress(raw string) (string, error) {
	address := strings.TrimSpace(raw)
	if !isEmail(address) {
		return "", fmt.Errorf("%q is not an email address", raw)
	}
	return engine.AddressKey(address), nil
}

// Counts returns the number of domains, email addresses and endpoints in the document.
func (d *Document) Counts() (domains, addresses, endpoints int) {
	return len(d.Domains), len(d.EmailAddresses), len(d.Endpoints)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
