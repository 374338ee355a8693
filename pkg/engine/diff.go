package engine

// Diff compares canonical desired state with fetched current state and
// returns the changes needed to converge, ordered endpoints, domains, then
// email addresses, each category sorted by key. It performs no I/O and never
// modifies its arguments. Either argument may be nil, meaning empty.
//
// Diff assumes desired has already been validated; named references are
// compared by endpoint name.
func Diff(desired *DesiredState, current *CurrentState) *DiffResult {
	if desired == nil {
		desired = NewDesiredState()
	}
	if current == nil {
		current = NewCurrentState()
	}

	result := &DiffResult{Changes: make([]Change, 0)}
	result.add(diffEndpoints(desired.Endpoints, current.Endpoints)...)
	result.add(diffDomains(desired.Domains, current.Domains)...)
	result.add(diffEmailAddresses(desired.EmailAddresses, current.EmailAddresses)...)
	result.HasChanges = len(result.Changes) > 0
	return result
}

func (r *DiffResult) add(changes ...Change) {
	for _, c := range changes {
		switch c.Type {
		case ChangeCreate:
			r.Summary.Create++
		case ChangeUpdate:
			r.Summary.Update++
		case ChangeDelete:
			r.Summary.Delete++
		default:
			continue
		}
		r.Changes = append(r.Changes, c)
	}
}

func diffEndpoints(desired map[string]EndpointConfig, current map[string]CurrentEndpoint) []Change {
	var changes []Change
	for _, key := range unionKeys(desired, current) {
		want, inDesired := desired[key]
		have, inCurrent := current[key]

		switch {
		case inDesired && !inCurrent:
			changes = append(changes, Change{
				Type:     ChangeCreate,
				Resource: ResourceEndpoint,
				Key:      key,
				Desired:  endpointSnapshot("", want),
			})
		case !inDesired && inCurrent:
			changes = append(changes, Change{
				Type:     ChangeDelete,
				Resource: ResourceEndpoint,
				Key:      key,
				Current:  endpointSnapshot(have.ID, have.Config),
			})
		default:
			reason := want.DiffFields(have.Config)
			if len(reason) == 0 {
				continue
			}
			changes = append(changes, Change{
				Type:     ChangeUpdate,
				Resource: ResourceEndpoint,
				Key:      key,
				Current:  endpointSnapshot(have.ID, have.Config),
				Desired:  endpointSnapshot("", want),
				Reason:   reason,
			})
		}
	}
	return changes
}

// diffDomains compares catch-all bindings. A domain whose desired catch-all
// is unmanaged never changes. A disabled catch-all and a remote domain
// without one are both absent.
func diffDomains(desired map[string]DomainConfig, current map[string]CurrentDomain) []Change {
	var changes []Change
	for _, key := range unionKeys(desired, current) {
		cfg, inDesired := desired[key]
		if inDesired && cfg.CatchAll.Mode == CatchAllUnmanaged {
			continue
		}

		var want *Binding
		if inDesired && cfg.CatchAll.Mode == CatchAllEnabled {
			b := cfg.CatchAll.Binding
			want = &b
		}
		var have *Binding
		var id string
		if dom, ok := current[key]; ok {
			have, id = dom.CatchAll, dom.ID
		}

		switch {
		case want == nil && have == nil:
			continue
		case have == nil:
			changes = append(changes, Change{
				Type:     ChangeCreate,
				Resource: ResourceDomain,
				Key:      key,
				Desired:  bindingSnapshot("", *want),
			})
		case want == nil:
			changes = append(changes, Change{
				Type:     ChangeDelete,
				Resource: ResourceDomain,
				Key:      key,
				Current:  bindingSnapshot(id, *have),
			})
		default:
			reason := want.DiffFields(*have)
			if len(reason) == 0 {
				continue
			}
			changes = append(changes, Change{
				Type:     ChangeUpdate,
				Resource: ResourceDomain,
				Key:      key,
				Current:  bindingSnapshot(id, *have),
				Desired:  bindingSnapshot("", *want),
				Reason:   reason,
			})
		}
	}
	return changes
}

func diffEmailAddresses(desired map[string]Binding, current map[string]CurrentEmailAddress) []Change {
	var changes []Change
	for _, key := range unionKeys(desired, current) {
		want, inDesired := desired[key]
		have, inCurrent := current[key]

		switch {
		case inDesired && !inCurrent:
			changes = append(changes, Change{
				Type:     ChangeCreate,
				Resource: ResourceEmailAddress,
				Key:      key,
				Desired:  bindingSnapshot("", want),
			})
		case !inDesired && inCurrent:
			changes = append(changes, Change{
				Type:     ChangeDelete,
				Resource: ResourceEmailAddress,
				Key:      key,
				Current:  bindingSnapshot(have.ID, have.Binding),
			})
		default:
			reason := want.DiffFields(have.Binding)
			if len(reason) == 0 {
				continue
			}
			changes = append(changes, Change{
				Type:     ChangeUpdate,
				Resource: ResourceEmailAddress,
				Key:      key,
				Current:  bindingSnapshot(have.ID, have.Binding),
				Desired:  bindingSnapshot("", want),
				Reason:   reason,
			})
		}
	}
	return changes
}

func endpointSnapshot(id string, cfg EndpointConfig) *Snapshot {
	c := cfg.Canonical()
	return &Snapshot{ID: id, Endpoint: &c}
}

func bindingSnapshot(id string, b Binding) *Snapshot {
	out := Binding{Endpoint: b.Endpoint}
	if b.Inline != nil {
		c := b.Inline.Canonical()
		out.Inline = &c
	}
	return &Snapshot{ID: id, Binding: &out}
}

// unionKeys returns the sorted union of the keys of a and b.
func unionKeys[A, B any](a map[string]A, b map[string]B) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	return sortedKeys(seen)
}
