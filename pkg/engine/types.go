package engine

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"
)

// EndpointType discriminates canonical endpoint configurations.
type EndpointType string

const (
	// EndpointWebhook delivers mail as an HTTP POST to a URL.
	EndpointWebhook EndpointType = "webhook"

	// EndpointSlack posts a notification to a Slack incoming webhook.
	EndpointSlack EndpointType = "slack"

	// EndpointDiscord posts a notification to a Discord webhook.
	EndpointDiscord EndpointType = "discord"

	// EndpointEmail forwards mail to a single address.
	EndpointEmail EndpointType = "email"

	// EndpointEmailGroup forwards mail to several addresses.
	EndpointEmailGroup EndpointType = "email_group"
)

// Validate checks if the endpoint type is valid.
func (t EndpointType) Validate() error {
	switch t {
	case EndpointWebhook, EndpointSlack, EndpointDiscord, EndpointEmail, EndpointEmailGroup:
		return nil
	default:
		return fmt.Errorf("invalid endpoint type: %q", t)
	}
}

// EndpointConfig is the canonical, fully-typed endpoint configuration.
// Only the fields meaningful to Type are populated.
type EndpointConfig struct {
	// Type selects the delivery mechanism.
	Type EndpointType `json:"type"`

	// URL is the webhook target.
	URL string `json:"url,omitempty"`

	// Timeout is the webhook request timeout in seconds. Zero leaves the remote default.
	Timeout int `json:"timeout,omitempty"`

	// RetryAttempts is the webhook delivery retry count. Zero leaves the remote default.
	RetryAttempts int `json:"retryAttempts,omitempty"`

	// Headers are extra HTTP headers sent with webhook deliveries.
	Headers map[string]string `json:"headers,omitempty"`

	// WebhookURL is the Slack or Discord incoming webhook.
	WebhookURL string `json:"webhookUrl,omitempty"`

	// Channel overrides the Slack channel.
	Channel string `json:"channel,omitempty"`

	// Username overrides the Slack or Discord display name.
	Username string `json:"username,omitempty"`

	// AvatarURL overrides the Discord avatar.
	AvatarURL string `json:"avatarUrl,omitempty"`

	// Email is the forward target.
	Email string `json:"email,omitempty"`

	// Emails are the group members. Order is kept but equality is set based.
	Emails []string `json:"emails,omitempty"`
}

// Webhook returns a webhook endpoint for url.
func Webhook(url string) EndpointConfig {
	return EndpointConfig{Type: EndpointWebhook, URL: url}
}

// Slack returns a Slack endpoint for webhookURL.
func Slack(webhookURL string) EndpointConfig {
	return EndpointConfig{Type: EndpointSlack, WebhookURL: webhookURL}
}

// Discord returns a Discord endpoint for webhookURL.
func Discord(webhookURL string) EndpointConfig {
	return EndpointConfig{Type: EndpointDiscord, WebhookURL: webhookURL}
}

// EmailForward returns a single-address forward endpoint.
func EmailForward(email string) EndpointConfig {
	return EndpointConfig{Type: EndpointEmail, Email: email}
}

// EmailGroup returns a group endpoint. The slice is copied.
func EmailGroup(emails ...string) EndpointConfig {
	return EndpointConfig{Type: EndpointEmailGroup, Emails: slices.Clone(emails)}
}

// Canonical returns a copy holding only the fields meaningful to the type.
func (c EndpointConfig) Canonical() EndpointConfig {
	out := EndpointConfig{Type: c.Type}
	switch c.Type {
	case EndpointWebhook:
		out.URL = c.URL
		out.Timeout = c.Timeout
		out.RetryAttempts = c.RetryAttempts
		if len(c.Headers) > 0 {
			out.Headers = maps.Clone(c.Headers)
		}
	case EndpointSlack:
		out.WebhookURL = c.WebhookURL
		out.Channel = c.Channel
		out.Username = c.Username
	case EndpointDiscord:
		out.WebhookURL = c.WebhookURL
		out.Username = c.Username
		out.AvatarURL = c.AvatarURL
	case EndpointEmail:
		out.Email = c.Email
	case EndpointEmailGroup:
		out.Emails = slices.Clone(c.Emails)
	}
	return out
}

// Validate checks that the fields required by the type are present.
func (c EndpointConfig) Validate() error {
	if err := c.Type.Validate(); err != nil {
		return err
	}
	switch c.Type {
	case EndpointWebhook:
		if c.URL == "" {
			return errors.New("webhook endpoint requires url")
		}
		if c.Timeout < 0 || c.RetryAttempts < 0 {
			return errors.New("webhook timeout and retryAttempts must not be negative")
		}
	case EndpointSlack, EndpointDiscord:
		if c.WebhookURL == "" {
			return fmt.Errorf("%s endpoint requires webhookUrl", c.Type)
		}
	case EndpointEmail:
		if c.Email == "" {
			return errors.New("email endpoint requires email")
		}
	case EndpointEmailGroup:
		if len(c.Emails) == 0 {
			return errors.New("email_group endpoint requires at least one address")
		}
	}
	return nil
}

// DiffFields returns the names of the fields in which c (desired) differs
// from current, in a stable order. A type change reports only "type".
// Remote-only metadata is never part of an EndpointConfig and so never compared.
func (c EndpointConfig) DiffFields(current EndpointConfig) []string {
	if c.Type != current.Type {
		return []string{"type"}
	}

	var fields []string
	add := func(name string, differs bool) {
		if differs {
			fields = append(fields, name)
		}
	}

	switch c.Type {
	case EndpointWebhook:
		add("url", c.URL != current.URL)
		add("timeout", c.Timeout != 0 && c.Timeout != current.Timeout)
		add("retryAttempts", c.RetryAttempts != 0 && c.RetryAttempts != current.RetryAttempts)
		add("headers", len(c.Headers) > 0 && !maps.Equal(c.Headers, current.Headers))
	case EndpointSlack:
		add("webhookUrl", c.WebhookURL != current.WebhookURL)
		add("channel", c.Channel != current.Channel)
		add("username", c.Username != current.Username)
	case EndpointDiscord:
		add("webhookUrl", c.WebhookURL != current.WebhookURL)
		add("username", c.Username != current.Username)
		add("avatarUrl", c.AvatarURL != current.AvatarURL)
	case EndpointEmail:
		add("email", !strings.EqualFold(c.Email, current.Email))
	case EndpointEmailGroup:
		add("emails", !slices.Equal(addressSet(c.Emails), addressSet(current.Emails)))
	}
	return fields
}

// Equal reports whether c and other are semantically the same endpoint.
func (c EndpointConfig) Equal(other EndpointConfig) bool {
	return len(c.DiffFields(other)) == 0
}

// Target returns a short human description of where the endpoint delivers.
func (c EndpointConfig) Target() string {
	switch c.Type {
	case EndpointWebhook:
		return c.URL
	case EndpointSlack, EndpointDiscord:
		return c.WebhookURL
	case EndpointEmail:
		return c.Email
	case EndpointEmailGroup:
		return strings.Join(c.Emails, ", ")
	default:
		return ""
	}
}

// addressSet returns the sorted, lower-cased, de-duplicated addresses.
func addressSet(emails []string) []string {
	set := make([]string, 0, len(emails))
	for _, e := range emails {
		set = append(set, strings.ToLower(strings.TrimSpace(e)))
	}
	sort.Strings(set)
	return slices.Compact(set)
}

// Binding says where mail for an address or catch-all is delivered.
// Exactly one of Endpoint and Inline is set for a delivering binding.
// A binding with neither set is store-only: mail is kept but not delivered.
type Binding struct {
	// Endpoint names an entry in the endpoints map.
	Endpoint string `json:"endpoint,omitempty"`

	// Inline is an endpoint configuration private to this binding.
	Inline *EndpointConfig `json:"inline,omitempty"`
}

// NamedBinding binds to a named endpoint.
func NamedBinding(name string) Binding {
	return Binding{Endpoint: name}
}

// InlineBinding binds to a private endpoint configuration.
func InlineBinding(cfg EndpointConfig) Binding {
	canonical := cfg.Canonical()
	return Binding{Inline: &canonical}
}

// IsStoreOnly reports whether the binding delivers nowhere.
func (b Binding) IsStoreOnly() bool {
	return b.Endpoint == "" && b.Inline == nil
}

// Kind returns "endpoint", "inline" or "store-only".
func (b Binding) Kind() string {
	switch {
	case b.Endpoint != "":
		return "endpoint"
	case b.Inline != nil:
		return "inline"
	default:
		return "store-only"
	}
}

// DiffFields returns the differing field names between b (desired) and current.
func (b Binding) DiffFields(current Binding) []string {
	if b.Kind() != current.Kind() {
		return []string{"binding"}
	}
	switch {
	case b.Endpoint != "":
		if b.Endpoint != current.Endpoint {
			return []string{"endpoint"}
		}
		return nil
	case b.Inline != nil:
		return b.Inline.DiffFields(*current.Inline)
	default:
		return nil
	}
}

// String renders the binding for reports.
func (b Binding) String() string {
	switch {
	case b.Endpoint != "":
		return "endpoint " + b.Endpoint
	case b.Inline != nil:
		return fmt.Sprintf("%s %s", b.Inline.Type, b.Inline.Target())
	default:
		return "store-only"
	}
}

// CatchAllMode describes how a domain's catch-all is managed.
type CatchAllMode string

const (
	// CatchAllUnmanaged leaves the remote catch-all untouched.
	CatchAllUnmanaged CatchAllMode = "unmanaged"

	// CatchAllDisabled requires that no catch-all is configured.
	CatchAllDisabled CatchAllMode = "disabled"

	// CatchAllEnabled requires the catch-all to match Binding.
	CatchAllEnabled CatchAllMode = "enabled"
)

// CatchAll is the desired catch-all setting of a domain.
type CatchAll struct {
	Mode    CatchAllMode `json:"mode"`
	Binding Binding      `json:"binding,omitzero"`
}

// DomainConfig is the desired configuration of one domain.
type DomainConfig struct {
	CatchAll CatchAll `json:"catchAll"`
}

// DesiredState is the normalized desired-state document.
type DesiredState struct {
	// Domains is keyed by lower-cased domain name.
	Domains map[string]DomainConfig `json:"domains"`

	// EmailAddresses is keyed by address.
	EmailAddresses map[string]Binding `json:"emailAddresses"`

	// Endpoints is keyed by endpoint name.
	Endpoints map[string]EndpointConfig `json:"endpoints"`
}

// NewDesiredState returns an empty desired state.
func NewDesiredState() *DesiredState {
	return &DesiredState{
		Domains:        make(map[string]DomainConfig),
		EmailAddresses: make(map[string]Binding),
		Endpoints:      make(map[string]EndpointConfig),
	}
}

// Validate checks endpoint configurations and that every named binding
// resolves to a key of Endpoints. All problems are returned joined.
func (d *DesiredState) Validate() error {
	var errs []error
	for _, name := range sortedKeys(d.Endpoints) {
		if err := d.Endpoints[name].Validate(); err != nil {
			errs = append(errs, &ValidationError{Path: "endpoints." + name, Message: err.Error()})
		}
	}
	check := func(path string, b Binding) {
		if b.Endpoint != "" {
			if _, ok := d.Endpoints[b.Endpoint]; !ok {
				errs = append(errs, NewValidationError(path, "unknown endpoint reference %q", b.Endpoint))
			}
		}
	}
	for _, domain := range sortedKeys(d.Domains) {
		cfg := d.Domains[domain]
		if cfg.CatchAll.Mode == CatchAllEnabled {
			check("domains."+domain+".catchAll", cfg.CatchAll.Binding)
		}
	}
	for _, addr := range sortedKeys(d.EmailAddresses) {
		check("emailAddresses."+addr, d.EmailAddresses[addr])
	}
	return errors.Join(errs...)
}

// CurrentEndpoint is an endpoint as reported by the remote.
type CurrentEndpoint struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Config    EndpointConfig `json:"config"`
	Active    bool           `json:"active"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// CurrentDomain is a domain as reported by the remote.
type CurrentDomain struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// CatchAll is nil when the domain has no catch-all configured.
	CatchAll *Binding `json:"catchAll,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CurrentEmailAddress is an email address as reported by the remote.
type CurrentEmailAddress struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	Binding   Binding   `json:"binding"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DomainKey returns the map key of a domain: trimmed and lower-cased.
func DomainKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// AddressKey returns the map key of an email address. The domain part is
// lower-cased and the local part is kept as written, so desired and
// current addresses that differ only in domain case share a key.
func AddressKey(address string) string {
	address = strings.TrimSpace(address)
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return address
	}
	return address[:at] + "@" + strings.ToLower(address[at+1:])
}

// CurrentState is the live remote state, keyed like DesiredState.
type CurrentState struct {
	Domains        map[string]CurrentDomain       `json:"domains"`
	EmailAddresses map[string]CurrentEmailAddress `json:"emailAddresses"`
	Endpoints      map[string]CurrentEndpoint     `json:"endpoints"`
	FetchedAt      time.Time                      `json:"fetchedAt"`
}

// NewCurrentState returns an empty current state.
func NewCurrentState() *CurrentState {
	return &CurrentState{
		Domains:        make(map[string]CurrentDomain),
		EmailAddresses: make(map[string]CurrentEmailAddress),
		Endpoints:      make(map[string]CurrentEndpoint),
	}
}

// Snapshot is one side of a Change. Endpoint changes carry Endpoint,
// domain and address changes carry Binding.
type Snapshot struct {
	// ID is the remote identifier. Empty for desired snapshots.
	ID string `json:"id,omitempty"`

	Endpoint *EndpointConfig `json:"endpoint,omitempty"`
	Binding  *Binding        `json:"binding,omitempty"`
}

// Change is one required operation on one resource key.
type Change struct {
	Type     ChangeType   `json:"type"`
	Resource ResourceKind `json:"resource"`
	Key      string       `json:"key"`
	Current  *Snapshot    `json:"current,omitempty"`
	Desired  *Snapshot    `json:"desired,omitempty"`

	// Reason lists the differing field names of an update.
	Reason []string `json:"reason,omitempty"`
}

// ID returns the resource-qualified key, e.g. "endpoint/ops".
func (c Change) ID() string {
	return string(c.Resource) + "/" + c.Key
}

// RemoteID returns the remote identifier of the current side, if any.
func (c Change) RemoteID() string {
	if c.Current == nil {
		return ""
	}
	return c.Current.ID
}

// DiffSummary counts the changes of a DiffResult by type.
type DiffSummary struct {
	Create int `json:"create"`
	Update int `json:"update"`
	Delete int `json:"delete"`
}

// Total returns the number of changes.
func (s DiffSummary) Total() int {
	return s.Create + s.Update + s.Delete
}

// DiffResult is the ordered list of changes computed by Diff.
type DiffResult struct {
	Changes    []Change    `json:"changes"`
	HasChanges bool        `json:"hasChanges"`
	Summary    DiffSummary `json:"summary"`
}

// ByResource returns the changes for one resource kind, in order.
func (r *DiffResult) ByResource(kind ResourceKind) []Change {
	var out []Change
	for _, c := range r.Changes {
		if c.Resource == kind {
			out = append(out, c)
		}
	}
	return out
}

// ApplyOptions controls an apply run.
type ApplyOptions struct {
	// DryRun marks every change skipped without calling the remote.
	DryRun bool

	// Force records that the caller bypassed its confirmation gate.
	Force bool
}

// ChangeResult is the final outcome of one change.
type ChangeResult struct {
	Change   Change        `json:"change"`
	Outcome  Outcome       `json:"outcome"`
	Attempts int           `json:"attempts"`
	Error    *EngineError  `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`

	// SkipReason explains a skipped outcome.
	SkipReason string `json:"skipReason,omitempty"`
}

// ApplySummary counts outcomes of an apply run.
type ApplySummary struct {
	Applied int `json:"applied"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// ApplyReport aggregates one ChangeResult per Change, in diff order.
type ApplyReport struct {
	RunID       string         `json:"runId"`
	DryRun      bool           `json:"dryRun"`
	Status      RunStatus      `json:"status"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt time.Time      `json:"completedAt"`
	Results     []ChangeResult `json:"results"`
	Summary     ApplySummary   `json:"summary"`
}

// HasFailures reports whether any change failed.
func (r *ApplyReport) HasFailures() bool {
	return r.Summary.Failed > 0
}

// Failures returns the failed results in order.
func (r *ApplyReport) Failures() []ChangeResult {
	var out []ChangeResult
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			out = append(out, res)
		}
	}
	return out
}

// Duration returns the wall time of the run.
func (r *ApplyReport) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
