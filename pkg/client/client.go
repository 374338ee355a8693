package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/mailsync/mailsync/pkg/api"
	"github.com/mailsync/mailsync/pkg/engine"
)

const (
	// DefaultTimeout bounds a single HTTP request.
	DefaultTimeout = 30 * time.Second

	// maxErrorBody bounds how much of an error response is read.
	maxErrorBody = 4 << 10

	userAgent = "mailsync"
)

// RequestRecorder counts HTTP requests by method and status code. A code
// of zero means the request failed before a response arrived.
type RequestRecorder interface {
	RecordRequest(method string, code int)
}

// Client implements engine.StateClient over the remote resource API.
// It is safe for concurrent use.
type Client struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
	logger  zerolog.Logger
	tracer  trace.Tracer
	metrics RequestRecorder
	now     func() time.Time

	mu        sync.Mutex
	idsByName map[string]string
	namesByID map[string]string
}

var _ engine.StateClient = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger sets the request logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithTracer sets the tracer for state fetches.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) { c.tracer = tracer }
}

// WithMetrics sets the request recorder.
func WithMetrics(m RequestRecorder) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a client for the API at baseURL authenticating with apiKey.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", baseURL)
	}
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}

	c := &Client{
		baseURL:   u,
		apiKey:    apiKey,
		http:      &http.Client{Timeout: DefaultTimeout},
		logger:    zerolog.Nop(),
		tracer:    noop.NewTracerProvider().Tracer("mailsync/client"),
		now:       time.Now,
		idsByName: make(map[string]string),
		namesByID: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Host returns the host of the base URL, used to scope run locks.
func (c *Client) Host() string {
	return c.baseURL.Host
}

// FetchCurrentState reads endpoints, domains and email addresses concurrently.
func (c *Client) FetchCurrentState(ctx context.Context) (*engine.CurrentState, error) {
	ctx, span := c.tracer.Start(ctx, "state.fetch")
	defer span.End()

	var (
		endpoints []api.Endpoint
		domains   []api.Domain
		addresses []api.EmailAddress
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var resp api.ListResponse[api.Endpoint]
		if err := c.do(gctx, http.MethodGet, api.EndpointsPath, nil, &resp); err != nil {
			return err
		}
		endpoints = resp.Data
		return nil
	})
	g.Go(func() error {
		var resp api.ListResponse[api.Domain]
		if err := c.do(gctx, http.MethodGet, api.DomainsPath, nil, &resp); err != nil {
			return err
		}
		domains = resp.Data
		return nil
	})
	g.Go(func() error {
		var resp api.ListResponse[api.EmailAddress]
		if err := c.do(gctx, http.MethodGet, api.EmailAddressesPath, nil, &resp); err != nil {
			return err
		}
		addresses = resp.Data
		return nil
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to fetch current state: %w", err)
	}

	c.cacheEndpoints(endpoints)

	state := engine.NewCurrentState()
	state.FetchedAt = c.now().UTC()
	for _, ep := range endpoints {
		state.Endpoints[ep.Name] = engine.CurrentEndpoint{
			ID:        ep.ID,
			Name:      ep.Name,
			Config:    ep.Config.Canonical(),
			Active:    ep.Active,
			CreatedAt: ep.CreatedAt,
			UpdatedAt: ep.UpdatedAt,
		}
	}
	for _, dom := range domains {
		cur := engine.CurrentDomain{
			ID:        dom.ID,
			Name:      dom.Domain,
			CreatedAt: dom.CreatedAt,
			UpdatedAt: dom.UpdatedAt,
		}
		if dom.CatchAll != nil {
			b := c.toBinding(*dom.CatchAll)
			cur.CatchAll = &b
		}
		state.Domains[engine.DomainKey(dom.Domain)] = cur
	}
	for _, addr := range addresses {
		state.EmailAddresses[engine.AddressKey(addr.Address)] = engine.CurrentEmailAddress{
			ID:        addr.ID,
			Address:   addr.Address,
			Binding:   c.toBinding(addr.Route),
			Active:    addr.Active,
			CreatedAt: addr.CreatedAt,
			UpdatedAt: addr.UpdatedAt,
		}
	}

	span.SetAttributes(
		attribute.Int("endpoints", len(state.Endpoints)),
		attribute.Int("domains", len(state.Domains)),
		attribute.Int("email_addresses", len(state.EmailAddresses)),
	)
	span.SetStatus(codes.Ok, "")
	return state, nil
}

// CreateEndpoint creates an endpoint and remembers its ID for routing.
func (c *Client) CreateEndpoint(ctx context.Context, name string, cfg engine.EndpointConfig) (string, error) {
	var ep api.Endpoint
	req := api.EndpointRequest{Name: name, Config: cfg.Canonical()}
	if err := c.do(ctx, http.MethodPost, api.EndpointsPath, req, &ep); err != nil {
		return "", err
	}
	c.rememberEndpoint(ep.ID, ep.Name)
	return ep.ID, nil
}

// UpdateEndpoint replaces an endpoint.
func (c *Client) UpdateEndpoint(ctx context.Context, id, name string, cfg engine.EndpointConfig) error {
	var ep api.Endpoint
	req := api.EndpointRequest{Name: name, Config: cfg.Canonical()}
	if err := c.do(ctx, http.MethodPut, api.EndpointPath(url.PathEscape(id)), req, &ep); err != nil {
		return err
	}
	c.rememberEndpoint(ep.ID, ep.Name)
	return nil
}

// DeleteEndpoint deletes an endpoint.
func (c *Client) DeleteEndpoint(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, api.EndpointPath(url.PathEscape(id)), nil, nil); err != nil {
		return err
	}
	c.forgetEndpoint(id)
	return nil
}

// CreateDomainCatchAll configures the catch-all of domain.
func (c *Client) CreateDomainCatchAll(ctx context.Context, domain string, b engine.Binding) error {
	route, err := c.toRoute(ctx, b)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, api.CatchAllPath(url.PathEscape(domain)), api.CatchAllRequest{Route: route}, nil)
}

// UpdateDomainCatchAll replaces the catch-all of domain.
func (c *Client) UpdateDomainCatchAll(ctx context.Context, domain string, b engine.Binding) error {
	route, err := c.toRoute(ctx, b)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, api.CatchAllPath(url.PathEscape(domain)), api.CatchAllRequest{Route: route}, nil)
}

// DeleteDomainCatchAll removes the catch-all of domain.
func (c *Client) DeleteDomainCatchAll(ctx context.Context, domain string) error {
	return c.do(ctx, http.MethodDelete, api.CatchAllPath(url.PathEscape(domain)), nil, nil)
}

// CreateEmailAddress creates an address.
func (c *Client) CreateEmailAddress(ctx context.Context, address string, b engine.Binding) (string, error) {
	route, err := c.toRoute(ctx, b)
	if err != nil {
		return "", err
	}
	var addr api.EmailAddress
	req := api.EmailAddressRequest{Address: address, Route: route}
	if err := c.do(ctx, http.MethodPost, api.EmailAddressesPath, req, &addr); err != nil {
		return "", err
	}
	return addr.ID, nil
}

// UpdateEmailAddress replaces the route of an address.
func (c *Client) UpdateEmailAddress(ctx context.Context, id string, b engine.Binding) error {
	route, err := c.toRoute(ctx, b)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, api.EmailAddressPath(url.PathEscape(id)), api.EmailAddressRequest{Route: route}, nil)
}

// DeleteEmailAddress deletes an address.
func (c *Client) DeleteEmailAddress(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, api.EmailAddressPath(url.PathEscape(id)), nil, nil)
}

// toBinding translates a remote route into a binding keyed by endpoint name.
// An ID the client cannot name is kept as is so that it differs from any
// desired name.
func (c *Client) toBinding(r api.Route) engine.Binding {
	switch {
	case r.EndpointID != "":
		c.mu.Lock()
		name, ok := c.namesByID[r.EndpointID]
		c.mu.Unlock()
		if !ok {
			name = r.EndpointID
		}
		return engine.NamedBinding(name)
	case r.Inline != nil:
		return engine.InlineBinding(*r.Inline)
	default:
		return engine.Binding{}
	}
}

// toRoute translates a binding into a remote route, listing endpoints once
// if the name is not known yet.
func (c *Client) toRoute(ctx context.Context, b engine.Binding) (api.Route, error) {
	switch {
	case b.Endpoint != "":
		id, err := c.endpointID(ctx, b.Endpoint)
		if err != nil {
			return api.Route{}, err
		}
		return api.Route{EndpointID: id}, nil
	case b.Inline != nil:
		cfg := b.Inline.Canonical()
		return api.Route{Inline: &cfg}, nil
	default:
		return api.Route{}, nil
	}
}

func (c *Client) endpointID(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	id, ok := c.idsByName[name]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	var resp api.ListResponse[api.Endpoint]
	if err := c.do(ctx, http.MethodGet, api.EndpointsPath, nil, &resp); err != nil {
		return "", err
	}
	c.cacheEndpoints(resp.Data)

	c.mu.Lock()
	id, ok = c.idsByName[name]
	c.mu.Unlock()
	if !ok {
		return "", engine.NewRemoteRejected(fmt.Sprintf("endpoint %q does not exist on the remote", name), nil)
	}
	return id, nil
}

func (c *Client) cacheEndpoints(endpoints []api.Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.idsByName = make(map[string]string, len(endpoints))
	c.namesByID = make(map[string]string, len(endpoints))
	for _, ep := range endpoints {
		c.idsByName[ep.Name] = ep.ID
		c.namesByID[ep.ID] = ep.Name
	}
}

func (c *Client) rememberEndpoint(id, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.namesByID[id]; ok && old != name {
		delete(c.idsByName, old)
	}
	c.idsByName[name] = id
	c.namesByID[id] = name
}

func (c *Client) forgetEndpoint(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if name, ok := c.namesByID[id]; ok {
		delete(c.idsByName, name)
	}
	delete(c.namesByID, id)
}

// do sends one request and decodes a JSON response into out, if non-nil.
// Failures are returned as classified engine errors.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return engine.NewPermanentError("failed to encode request", err).WithCode(engine.ErrCodeInternal)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return engine.NewPermanentError("failed to build request", err).WithCode(engine.ErrCodeInternal)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.record(method, 0)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return engine.NewNetworkError(fmt.Sprintf("%s %s failed", method, path), err)
	}
	defer resp.Body.Close()

	c.record(method, resp.StatusCode)
	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("api request")

	if resp.StatusCode >= 400 {
		return classify(resp, method, path)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return engine.NewNetworkError(fmt.Sprintf("%s %s: malformed response", method, path), err)
	}
	return nil
}

func (c *Client) record(method string, code int) {
	if c.metrics != nil {
		c.metrics.RecordRequest(method, code)
	}
}

// classify maps an error response onto the engine error taxonomy.
func classify(resp *http.Response, method, path string) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	reason := http.StatusText(resp.StatusCode)
	var body api.ErrorResponse
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		reason = body.Error
	}

	var e *engine.EngineError
	switch code := resp.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		e = engine.NewAuthError(reason, nil)
	case code == http.StatusTooManyRequests:
		e = engine.NewRateLimitedError(reason, nil).WithRetryAfter(parseRetryAfter(resp.Header.Get("Retry-After")))
	case code >= 500:
		e = engine.NewNetworkError(fmt.Sprintf("remote unavailable (%d): %s", code, reason), nil)
	default:
		e = engine.NewRemoteRejected(reason, nil)
	}
	return e.WithOperation(method + " " + path).WithStatus(resp.StatusCode)
}

// parseRetryAfter reads a Retry-After header in seconds. HTTP dates and
// malformed values yield zero.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
