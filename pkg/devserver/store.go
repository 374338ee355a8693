package devserver

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mailsync/mailsync/pkg/api"
)

var (
	errNotFound = errors.New("not found")
	errConflict = errors.New("conflict")
	errInvalid  = errors.New("invalid request")
)

// Store is the in-memory state behind the dev server. It is safe for
// concurrent use.
type Store struct {
	mu        sync.Mutex
	endpoints map[string]*api.Endpoint
	domains   map[string]*api.Domain
	addresses map[string]*api.EmailAddress
	now       func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		endpoints: make(map[string]*api.Endpoint),
		domains:   make(map[string]*api.Domain),
		addresses: make(map[string]*api.EmailAddress),
		now:       time.Now,
	}
}

func newID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// Endpoints lists endpoints ordered by name.
func (s *Store) Endpoints() []api.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]api.Endpoint, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		out = append(out, *ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CreateEndpoint adds an endpoint. Names are unique.
func (s *Store) CreateEndpoint(req api.EndpointRequest) (api.Endpoint, error) {
	if err := validateEndpoint(req); err != nil {
		return api.Endpoint{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.endpointByName(req.Name) != nil {
		return api.Endpoint{}, fmt.Errorf("%w: endpoint %q already exists", errConflict, req.Name)
	}

	now := s.now().UTC()
	ep := &api.Endpoint{
		ID:        newID("ep"),
		Name:      req.Name,
		Config:    req.Config.Canonical(),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.endpoints[ep.ID] = ep
	return *ep, nil
}

// UpdateEndpoint replaces the name and configuration of endpoint id.
func (s *Store) UpdateEndpoint(id string, req api.EndpointRequest) (api.Endpoint, error) {
	if err := validateEndpoint(req); err != nil {
		return api.Endpoint{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.endpoints[id]
	if !ok {
		return api.Endpoint{}, fmt.Errorf("%w: endpoint %s", errNotFound, id)
	}
	if other := s.endpointByName(req.Name); other != nil && other.ID != id {
		return api.Endpoint{}, fmt.Errorf("%w: endpoint %q already exists", errConflict, req.Name)
	}

	ep.Name = req.Name
	ep.Config = req.Config.Canonical()
	ep.UpdatedAt = s.now().UTC()
	return *ep, nil
}

// DeleteEndpoint removes endpoint id. Routes that referenced it become
// store-only.
func (s *Store) DeleteEndpoint(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.endpoints[id]; !ok {
		return fmt.Errorf("%w: endpoint %s", errNotFound, id)
	}
	delete(s.endpoints, id)

	now := s.now().UTC()
	for _, addr := range s.addresses {
		if addr.Route.EndpointID == id {
			addr.Route = api.Route{}
			addr.UpdatedAt = now
		}
	}
	for _, dom := range s.domains {
		if dom.CatchAll != nil && dom.CatchAll.EndpointID == id {
			dom.CatchAll = &api.Route{}
			dom.UpdatedAt = now
		}
	}
	return nil
}

// Domains lists domains ordered by name.
func (s *Store) Domains() []api.Domain {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]api.Domain, 0, len(s.domains))
	for _, dom := range s.domains {
		cp := *dom
		if dom.CatchAll != nil {
			route := copyRoute(*dom.CatchAll)
			cp.CatchAll = &route
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// CreateCatchAll sets the catch-all of domain, adding the domain if needed.
func (s *Store) CreateCatchAll(domain string, route api.Route) (api.Domain, error) {
	domain = strings.ToLower(domain)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateRoute(route); err != nil {
		return api.Domain{}, err
	}

	now := s.now().UTC()
	dom, ok := s.domains[domain]
	if !ok {
		dom = &api.Domain{ID: newID("dom"), Domain: domain, CreatedAt: now}
		s.domains[domain] = dom
	}
	if dom.CatchAll != nil {
		return api.Domain{}, fmt.Errorf("%w: domain %s already has a catch-all", errConflict, domain)
	}

	route = copyRoute(route)
	dom.CatchAll = &route
	dom.UpdatedAt = now
	return *dom, nil
}

// UpdateCatchAll replaces an existing catch-all.
func (s *Store) UpdateCatchAll(domain string, route api.Route) (api.Domain, error) {
	domain = strings.ToLower(domain)

	s.mu.Lock()
	defer s.mu.Unlock()

	dom, ok := s.domains[domain]
	if !ok || dom.CatchAll == nil {
		return api.Domain{}, fmt.Errorf("%w: domain %s has no catch-all", errNotFound, domain)
	}
	if err := s.validateRoute(route); err != nil {
		return api.Domain{}, err
	}

	route = copyRoute(route)
	dom.CatchAll = &route
	dom.UpdatedAt = s.now().UTC()
	return *dom, nil
}

// DeleteCatchAll removes the catch-all of domain. The domain itself stays.
func (s *Store) DeleteCatchAll(domain string) error {
	domain = strings.ToLower(domain)

	s.mu.Lock()
	defer s.mu.Unlock()

	dom, ok := s.domains[domain]
	if !ok || dom.CatchAll == nil {
		return fmt.Errorf("%w: domain %s has no catch-all", errNotFound, domain)
	}
	dom.CatchAll = nil
	dom.UpdatedAt = s.now().UTC()
	return nil
}

// EmailAddresses lists addresses ordered by address.
func (s *Store) EmailAddresses() []api.EmailAddress {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]api.EmailAddress, 0, len(s.addresses))
	for _, addr := range s.addresses {
		cp := *addr
		cp.Route = copyRoute(addr.Route)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// CreateEmailAddress adds an address. Addresses are unique ignoring case.
func (s *Store) CreateEmailAddress(req api.EmailAddressRequest) (api.EmailAddress, error) {
	if req.Address == "" || !strings.Contains(req.Address, "@") {
		return api.EmailAddress{}, fmt.Errorf("%w: %q is not an email address", errInvalid, req.Address)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateRoute(req.Route); err != nil {
		return api.EmailAddress{}, err
	}
	for _, addr := range s.addresses {
		if strings.EqualFold(addr.Address, req.Address) {
			return api.EmailAddress{}, fmt.Errorf("%w: address %s already exists", errConflict, req.Address)
		}
	}

	now := s.now().UTC()
	addr := &api.EmailAddress{
		ID:        newID("addr"),
		Address:   req.Address,
		Route:     copyRoute(req.Route),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.addresses[addr.ID] = addr

	domain := strings.ToLower(req.Address[strings.LastIndex(req.Address, "@")+1:])
	if _, ok := s.domains[domain]; !ok {
		s.domains[domain] = &api.Domain{ID: newID("dom"), Domain: domain, CreatedAt: now, UpdatedAt: now}
	}
	return *addr, nil
}

// UpdateEmailAddress replaces the route of address id.
func (s *Store) UpdateEmailAddress(id string, route api.Route) (api.EmailAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr, ok := s.addresses[id]
	if !ok {
		return api.EmailAddress{}, fmt.Errorf("%w: email address %s", errNotFound, id)
	}
	if err := s.validateRoute(route); err != nil {
		return api.EmailAddress{}, err
	}

	addr.Route = copyRoute(route)
	addr.UpdatedAt = s.now().UTC()
	return *addr, nil
}

// DeleteEmailAddress removes address id.
func (s *Store) DeleteEmailAddress(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.addresses[id]; !ok {
		return fmt.Errorf("%w: email address %s", errNotFound, id)
	}
	delete(s.addresses, id)
	return nil
}

// endpointByName must be called with s.mu held.
func (s *Store) endpointByName(name string) *api.Endpoint {
	for _, ep := range s.endpoints {
		if ep.Name == name {
			return ep
		}
	}
	return nil
}

// validateRoute must be called with s.mu held.
func (s *Store) validateRoute(route api.Route) error {
	if route.EndpointID != "" && route.Inline != nil {
		return fmt.Errorf("%w: route sets both endpointId and inline", errInvalid)
	}
	if route.EndpointID != "" {
		if _, ok := s.endpoints[route.EndpointID]; !ok {
			return fmt.Errorf("%w: endpoint %s does not exist", errInvalid, route.EndpointID)
		}
	}
	if route.Inline != nil {
		if err := route.Inline.Validate(); err != nil {
			return fmt.Errorf("%w: %v", errInvalid, err)
		}
	}
	return nil
}

func validateEndpoint(req api.EndpointRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return fmt.Errorf("%w: endpoint name is required", errInvalid)
	}
	if err := req.Config.Validate(); err != nil {
		return fmt.Errorf("%w: %v", errInvalid, err)
	}
	return nil
}

func copyRoute(r api.Route) api.Route {
	if r.Inline != nil {
		cfg := r.Inline.Canonical()
		r.Inline = &cfg
	}
	return r
}
