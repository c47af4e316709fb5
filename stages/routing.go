package stages

import (
	"fmt"
	"sort"
	"strings"

	"feathermail/pipeline"
	"feathermail/stage"
)

func init() {
	pipeline.Default.Register("by_domain", newByDomain)
}

type routeSpec struct {
	Kind string         `mapstructure:"kind"`
	Opts map[string]any `mapstructure:"opts"`
}

type byDomainOpts struct {
	Routes map[string]routeSpec `mapstructure:"routes"`
}

// ByDomain groups the envelope's recipients by domain at the data phase
// and hands each group's subset to its own configured delivery adapter,
// falling back to routes["default"] for domains without a specific route.
type ByDomain struct {
	formatsReason
	routes map[string]stage.Adapter
}

func newByDomain(opts map[string]any) (stage.Adapter, error) {
	var o byDomainOpts
	if err := decodeOpts(opts, &o); err != nil {
		return nil, fmt.Errorf("stages: by_domain: %w", err)
	}

	routes := make(map[string]stage.Adapter, len(o.Routes))
	for domain, spec := range o.Routes {
		a, err := pipeline.Default.Build(spec.Kind, spec.Opts)
		if err != nil {
			return nil, fmt.Errorf("stages: by_domain: route %q: %w", domain, err)
		}
		routes[strings.ToLower(domain)] = a
	}
	return &ByDomain{routes: routes}, nil
}

func (a *ByDomain) Init(ctx stage.SessionContext) (any, error) {
	states := make(map[string]any, len(a.routes))
	for domain, adapter := range a.routes {
		st, err := adapter.Init(ctx)
		if err != nil {
			return nil, fmt.Errorf("stages: by_domain: init route %q: %w", domain, err)
		}
		states[domain] = st
	}
	return states, nil
}

func (a *ByDomain) Data(raw []byte, meta stage.Meta, state any) stage.Result {
	states, _ := state.(map[string]any)
	if states == nil {
		states = make(map[string]any)
	}

	groups := make(map[string][]string)
	for _, to := range meta.To() {
		d := strings.ToLower(domainOf(to))
		groups[d] = append(groups[d], to)
	}

	domains := make([]string, 0, len(groups))
	for d := range groups {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	for _, domain := range domains {
		route, ok := a.routes[domain]
		if !ok {
			route, ok = a.routes["default"]
		}
		if !ok {
			return stage.Halt(reason{
				phase: "data",
				line:  fmt.Sprintf("550 5.1.2 No route configured for domain %s", domain),
			}, states)
		}

		dh, ok := route.(stage.DataHook)
		if !ok {
			continue
		}

		subsetMeta := meta.Clone()
		subsetMeta[stage.KeyTo] = groups[domain]

		result := dh.Data(raw, subsetMeta, states[domain])
		states[domain] = result.State()
		if result.Halted() {
			return stage.Halt(result.Reason(), states)
		}
	}

	return stage.Continue(meta, states)
}

func (a *ByDomain) FormatReason(r stage.Reason) (string, bool) {
	if line, ok := a.formatsReason.FormatReason(r); ok {
		return line, ok
	}
	for _, route := range a.routes {
		if rf, ok := route.(stage.ReasonFormatter); ok {
			if line, ok := rf.FormatReason(r); ok {
				return line, ok
			}
		}
	}
	return "", false
}
