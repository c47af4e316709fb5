// Package pipeline implements the closed adapter registry and the typed,
// ordered pipeline specification parsed from configuration.
package pipeline

import (
	"fmt"
	"sync"

	"feathermail/stage"
)

// Registry maps adapter-kind strings to the Factory that builds them. The
// registry is closed: unknown kinds fail configuration validation rather
// than falling back to any form of dynamic dispatch.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]stage.Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]stage.Factory)}
}

// Register associates kind with factory. It panics if kind is already
// registered, since the registry is meant to be populated once at init
// time by each stage package.
func (r *Registry) Register(kind string, factory stage.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[kind]; exists {
		panic(fmt.Sprintf("pipeline: adapter kind %q already registered", kind))
	}
	r.factories[kind] = factory
}

// Build looks up kind's factory and invokes it with opts.
func (r *Registry) Build(kind string, opts map[string]any) (stage.Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("pipeline: unknown adapter kind %q", kind)
	}
	return factory(opts)
}

// Known reports whether kind has a registered factory.
func (r *Registry) Known(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[kind]
	return ok
}

// Default is the process-wide registry that the stages and delivery
// packages register their adapter kinds into via init().
var Default = NewRegistry()

// Entry is one configured pipeline element: an adapter kind plus its
// typed options, in the order it will be traversed during every phase.
type Entry struct {
	Kind string
	Opts map[string]any
}

// Spec is the ordered, immutable list of configured pipeline entries
// currently in effect. A Spec is never mutated after ParseSpec returns
// it; hot reload replaces the pointer, it never edits the value.
type Spec struct {
	Entries []Entry
}

// rawEntry mirrors the YAML shape of one pipeline entry: {kind, opts}.
type rawEntry struct {
	Kind string         `yaml:"kind"`
	Opts map[string]any `yaml:"opts"`
}

// ParseSpec decodes an ordered YAML list of {kind, opts} entries into a
// Spec and validates every kind against registry.
func ParseSpec(data []byte, registry *Registry) (*Spec, error) {
	var raw []rawEntry
	if err := yamlUnmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("pipeline: parsing spec: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for i, r := range raw {
		if r.Kind == "" {
			return nil, fmt.Errorf("pipeline: entry %d missing kind", i)
		}
		if !registry.Known(r.Kind) {
			return nil, fmt.Errorf("pipeline: entry %d: unknown adapter kind %q", i, r.Kind)
		}
		entries = append(entries, Entry{Kind: r.Kind, Opts: r.Opts})
	}
	return &Spec{Entries: entries}, nil
}

// BuildAdapters constructs one Adapter per entry in s, in order, using
// registry. It is called once per accepted connection (the session clones
// fresh adapters per spec.md: stage private state is created by init
// before the greeting is sent, for that session only).
func (s *Spec) BuildAdapters(registry *Registry) ([]stage.Adapter, error) {
	adapters := make([]stage.Adapter, 0, len(s.Entries))
	for _, e := range s.Entries {
		a, err := registry.Build(e.Kind, e.Opts)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}
