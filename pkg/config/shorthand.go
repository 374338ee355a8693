package config

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mailsync/mailsync/pkg/engine"
)

// validate checks URL and email address syntax. It is safe for concurrent use.
var validate = validator.New()

// ShorthandKind identifies which shorthand notation a Shorthand holds.
type ShorthandKind int

const (
	// ShorthandInvalid is the zero value; it never normalizes.
	ShorthandInvalid ShorthandKind = iota
	// ShorthandString is a bare string: a webhook URL, or a named reference
	// when resolved at the document level.
	ShorthandString
	// ShorthandEmailList is an array of addresses forming an email group.
	ShorthandEmailList
	// ShorthandForward is {forward: address}.
	ShorthandForward
	// ShorthandSlack is {slack: url} or {slack: {url, channel?, username?}}.
	ShorthandSlack
	// ShorthandDiscord is {discord: url} or {discord: {url, username?, avatarUrl?}}.
	ShorthandDiscord
)

// String returns the name of the kind.
func (k ShorthandKind) String() string {
	switch k {
	case ShorthandString:
		return "string"
	case ShorthandEmailList:
		return "email-list"
	case ShorthandForward:
		return "forward"
	case ShorthandSlack:
		return "slack"
	case ShorthandDiscord:
		return "discord"
	default:
		return "invalid"
	}
}

// Shorthand is one compact endpoint notation from a document. Build it with
// ParseShorthand or with one of the constructors; the fields are only
// meaningful for the matching kind.
type Shorthand struct {
	kind ShorthandKind

	text   string
	emails []string

	channel   string
	username  string
	avatarURL string
}

// SlackOptions are the optional display fields of a Slack shorthand.
type SlackOptions struct {
	Channel  string
	Username string
}

// DiscordOptions are the optional display fields of a Discord shorthand.
type DiscordOptions struct {
	Username  string
	AvatarURL string
}

// StringShorthand wraps a bare string.
func StringShorthand(s string) Shorthand {
	return Shorthand{kind: ShorthandString, text: s}
}

// EmailListShorthand wraps an array of addresses. The slice is copied.
func EmailListShorthand(emails ...string) Shorthand {
	return Shorthand{kind: ShorthandEmailList, emails: slices.Clone(emails)}
}

// ForwardShorthand wraps {forward: address}.
func ForwardShorthand(address string) Shorthand {
	return Shorthand{kind: ShorthandForward, text: address}
}

// SlackShorthand wraps a Slack webhook with optional display fields.
func SlackShorthand(url string, opts SlackOptions) Shorthand {
	return Shorthand{kind: ShorthandSlack, text: url, channel: opts.Channel, username: opts.Username}
}

// DiscordShorthand wraps a Discord webhook with optional display fields.
func DiscordShorthand(url string, opts DiscordOptions) Shorthand {
	return Shorthand{kind: ShorthandDiscord, text: url, username: opts.Username, avatarURL: opts.AvatarURL}
}

// Kind returns the notation held by s.
func (s Shorthand) Kind() ShorthandKind {
	return s.kind
}

// Text returns the string of a ShorthandString, the address of a
// ShorthandForward, or the webhook URL of a Slack or Discord shorthand.
func (s Shorthand) Text() string {
	return s.text
}

// IsReference reports whether s is a bare string that is not an absolute
// URL, i.e. a candidate name of a predefined endpoint.
func (s Shorthand) IsReference() bool {
	return s.kind == ShorthandString && !isAbsoluteURL(s.text)
}

// describe renders s the way it was written, for error messages.
func (s Shorthand) describe() string {
	switch s.kind {
	case ShorthandString:
		return fmt.Sprintf("string %q", s.text)
	case ShorthandEmailList:
		return fmt.Sprintf("array of %d strings", len(s.emails))
	case ShorthandForward:
		return "object with keys [forward]"
	case ShorthandSlack:
		return "object with keys [slack]"
	case ShorthandDiscord:
		return "object with keys [discord]"
	default:
		return "invalid shorthand"
	}
}

// InvalidEndpointConfigError reports a value that is not a well-formed
// endpoint shorthand. It matches engine.ErrValidation.
type InvalidEndpointConfigError struct {
	// Context names where the value was found, usually the endpoint name,
	// the email address, or the domain.
	Context string

	// Received describes the shape that was found.
	Received string

	// Reason optionally narrows down what was wrong with the shape.
	Reason string
}

// Error implements the error interface.
func (e *InvalidEndpointConfigError) Error() string {
	msg := fmt.Sprintf("invalid endpoint config for %q: received %s", e.Context, e.Received)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

// Is matches engine.ErrValidation.
func (e *InvalidEndpointConfigError) Is(target error) bool {
	return target == engine.ErrValidation
}

func invalidEndpoint(contextName, received, reason string) *InvalidEndpointConfigError {
	return &InvalidEndpointConfigError{Context: contextName, Received: received, Reason: reason}
}

// ParseShorthand classifies a decoded document value (from YAML, JSON or
// CUE) into a Shorthand. Objects must have exactly one key; anything else,
// including null and booleans, fails with InvalidEndpointConfigError.
func ParseShorthand(v any, contextName string) (Shorthand, error) {
	switch x := v.(type) {
	case string:
		return StringShorthand(x), nil
	case []string:
		return EmailListShorthand(x...), nil
	case []any:
		emails := make([]string, 0, len(x))
		for i, item := range x {
			s, ok := item.(string)
			if !ok {
				return Shorthand{}, invalidEndpoint(contextName, describeValue(v),
					fmt.Sprintf("item %d is %s", i, describeValue(item)))
			}
			emails = append(emails, s)
		}
		return EmailListShorthand(emails...), nil
	case map[string]any:
		return parseObjectShorthand(x, contextName)
	default:
		return Shorthand{}, invalidEndpoint(contextName, describeValue(v), "")
	}
}

func parseObjectShorthand(obj map[string]any, contextName string) (Shorthand, error) {
	if len(obj) != 1 {
		return Shorthand{}, invalidEndpoint(contextName, describeValue(obj), "expected exactly one of forward, slack, discord")
	}

	for key, val := range obj {
		switch key {
		case "forward":
			address, ok := val.(string)
			if !ok {
				return Shorthand{}, invalidEndpoint(contextName, describeValue(obj), "forward must be a string")
			}
			return ForwardShorthand(address), nil
		case "slack":
			fields, err := webhookFields(val, []string{"channel", "username"})
			if err != nil {
				return Shorthand{}, invalidEndpoint(contextName, describeValue(obj), "slack: "+err.Error())
			}
			return SlackShorthand(fields["url"], SlackOptions{
				Channel:  fields["channel"],
				Username: fields["username"],
			}), nil
		case "discord":
			fields, err := webhookFields(val, []string{"username", "avatarUrl"})
			if err != nil {
				return Shorthand{}, invalidEndpoint(contextName, describeValue(obj), "discord: "+err.Error())
			}
			return DiscordShorthand(fields["url"], DiscordOptions{
				Username:  fields["username"],
				AvatarURL: fields["avatarUrl"],
			}), nil
		}
	}

	return Shorthand{}, invalidEndpoint(contextName, describeValue(obj), "")
}

// webhookFields reads a Slack or Discord value: either a URL string or an
// object with a required url and the given optional string fields.
func webhookFields(v any, optional []string) (map[string]string, error) {
	switch x := v.(type) {
	case string:
		return map[string]string{"url": x}, nil
	case map[string]any:
		fields := make(map[string]string, len(x))
		for key, val := range x {
			if key != "url" && !slices.Contains(optional, key) {
				return nil, fmt.Errorf("unknown field %q", key)
			}
			s, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("field %q must be a string", key)
			}
			fields[key] = s
		}
		if _, ok := fields["url"]; !ok {
			return nil, fmt.Errorf("url is required")
		}
		return fields, nil
	default:
		return nil, fmt.Errorf("expected a URL string or an object, got %s", describeValue(v))
	}
}

// NormalizeEndpoint converts a shorthand into its canonical endpoint
// configuration. It is pure and total: every shorthand either yields exactly
// one EndpointConfig or fails with InvalidEndpointConfigError. A string that
// is not an absolute URL fails here; named references are resolved by the
// caller before normalization.
func NormalizeEndpoint(s Shorthand, contextName string) (engine.EndpointConfig, error) {
	switch s.kind {
	case ShorthandString:
		if !isAbsoluteURL(s.text) {
			return engine.EndpointConfig{}, invalidEndpoint(contextName, s.describe(), "not an absolute URL")
		}
		return engine.Webhook(s.text), nil

	case ShorthandEmailList:
		if len(s.emails) == 0 {
			return engine.EndpointConfig{}, invalidEndpoint(contextName, s.describe(), "email group needs at least one address")
		}
		for _, address := range s.emails {
			if !isEmail(address) {
				return engine.EndpointConfig{}, invalidEndpoint(contextName, s.describe(),
					fmt.Sprintf("%q is not an email address", address))
			}
		}
		return engine.EmailGroup(s.emails...), nil

	case ShorthandForward:
		if !isEmail(s.text) {
			return engine.EndpointConfig{}, invalidEndpoint(contextName, s.describe(),
				fmt.Sprintf("%q is not an email address", s.text))
		}
		return engine.EmailForward(s.text), nil

	case ShorthandSlack:
		if !isAbsoluteURL(s.text) {
			return engine.EndpointConfig{}, invalidEndpoint(contextName, s.describe(), "slack url is not an absolute URL")
		}
		cfg := engine.Slack(s.text)
		cfg.Channel = s.channel
		cfg.Username = s.username
		return cfg, nil

	case ShorthandDiscord:
		if !isAbsoluteURL(s.text) {
			return engine.EndpointConfig{}, invalidEndpoint(contextName, s.describe(), "discord url is not an absolute URL")
		}
		cfg := engine.Discord(s.text)
		cfg.Username = s.username
		cfg.AvatarURL = s.avatarURL
		return cfg, nil

	default:
		return engine.EndpointConfig{}, invalidEndpoint(contextName, s.describe(), "")
	}
}

// Normalize parses a decoded document value and normalizes it in one step.
func Normalize(v any, contextName string) (engine.EndpointConfig, error) {
	s, err := ParseShorthand(v, contextName)
	if err != nil {
		return engine.EndpointConfig{}, err
	}
	return NormalizeEndpoint(s, contextName)
}

// isAbsoluteURL accepts http and https URLs with a host. Other schemes
// such as mailto: or a mistyped "slack:alerts" are endpoint references.
func isAbsoluteURL(s string) bool {
	return s != "" && validate.Var(s, "http_url") == nil
}

func isEmail(s string) bool {
	return s != "" && validate.Var(s, "email") == nil
}

// describeValue renders the shape of a decoded value for error messages.
func describeValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("string %q", x)
	case bool:
		return fmt.Sprintf("boolean %t", x)
	case int, int64, uint64, float64:
		return fmt.Sprintf("number %v", x)
	case []string:
		return fmt.Sprintf("array of %d strings", len(x))
	case []any:
		return fmt.Sprintf("array of %d items", len(x))
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "object with keys [" + strings.Join(keys, " ") + "]"
	default:
		return fmt.Sprintf("%T", v)
	}
}
