package pipeline

import (
	"testing"

	"feathermail/stage"
)

type noopAdapter struct{}

func (noopAdapter) Init(stage.SessionContext) (any, error) { return nil, nil }

func TestRegistryBuildUnknownKind(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Build("nope", nil); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestRegistryRegisterAndBuild(t *testing.T) {
	r := NewRegistry()
	r.Register("noop", func(opts map[string]any) (stage.Adapter, error) {
		return noopAdapter{}, nil
	})
	if !r.Known("noop") {
		t.Fatal("expected noop to be known")
	}
	a, err := r.Build("noop", nil)
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if _, ok := a.(noopAdapter); !ok {
		t.Fatal("unexpected adapter type")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Register("noop", func(opts map[string]any) (stage.Adapter, error) { return noopAdapter{}, nil })
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	r.Register("noop", func(opts map[string]any) (stage.Adapter, error) { return noopAdapter{}, nil })
}

func TestParseSpec(t *testing.T) {
	r := NewRegistry()
	r.Register("noop", func(opts map[string]any) (stage.Adapter, error) { return noopAdapter{}, nil })

	yamlDoc := []byte(`
- kind: noop
  opts:
    a: 1
- kind: noop
  opts: {}
`)
	spec, err := ParseSpec(yamlDoc, r)
	if err != nil {
		t.Fatalf("ParseSpec error: %v", err)
	}
	if len(spec.Entries) != 2 {
		t.Fatalf("len(Entries) = %d, want 2", len(spec.Entries))
	}
	if spec.Entries[0].Kind != "noop" {
		t.Fatalf("Entries[0].Kind = %q", spec.Entries[0].Kind)
	}

	adapters, err := spec.BuildAdapters(r)
	if err != nil {
		t.Fatalf("BuildAdapters error: %v", err)
	}
	if len(adapters) != 2 {
		t.Fatalf("len(adapters) = %d, want 2", len(adapters))
	}
}

func TestParseSpecUnknownKindFails(t *testing.T) {
	r := NewRegistry()
	yamlDoc := []byte(`
- kind: doesnotexist
  opts: {}
`)
	if _, err := ParseSpec(yamlDoc, r); err == nil {
		t.Fatal("expected error for unknown kind in spec")
	}
}
