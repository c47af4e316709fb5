package stages

import (
	"testing"

	"feathermail/pipeline"
	"feathermail/stage"
)

type recordingDelivery struct {
	delivered [][]string
}

func (d *recordingDelivery) Init(stage.SessionContext) (any, error) { return nil, nil }

func (d *recordingDelivery) Data(raw []byte, meta stage.Meta, state any) stage.Result {
	d.delivered = append(d.delivered, append([]string(nil), meta.To()...))
	return stage.Continue(meta, state)
}

type failingDelivery struct{}

func (failingDelivery) Init(stage.SessionContext) (any, error) { return nil, nil }

func (failingDelivery) Data(raw []byte, meta stage.Meta, state any) stage.Result {
	return stage.Halt(reason{phase: "data", line: "450 4.3.0 storage unavailable"}, state)
}

func registerTestDeliveryKinds(t *testing.T) (*recordingDelivery, *recordingDelivery) {
	t.Helper()
	defaultDelivery := &recordingDelivery{}
	exampleDelivery := &recordingDelivery{}

	registerOnce(t, "test_default_delivery", func(map[string]any) (stage.Adapter, error) {
		return defaultDelivery, nil
	})
	registerOnce(t, "test_example_delivery", func(map[string]any) (stage.Adapter, error) {
		return exampleDelivery, nil
	})
	registerOnce(t, "test_failing_delivery", func(map[string]any) (stage.Adapter, error) {
		return failingDelivery{}, nil
	})
	return defaultDelivery, exampleDelivery
}

var registeredTestKinds = map[string]bool{}

func registerOnce(t *testing.T, kind string, factory stage.Factory) {
	t.Helper()
	if registeredTestKinds[kind] {
		return
	}
	registeredTestKinds[kind] = true
	pipeline.Default.Register(kind, factory)
}

func TestByDomainRoutesByRecipientDomain(t *testing.T) {
	defaultDelivery, exampleDelivery := registerTestDeliveryKinds(t)

	a, err := newByDomain(map[string]any{
		"routes": map[string]any{
			"default": map[string]any{"kind": "test_default_delivery"},
			"example.com": map[string]any{
				"kind": "test_example_delivery",
			},
		},
	})
	if err != nil {
		t.Fatalf("newByDomain: %v", err)
	}
	bd := a.(*ByDomain)
	state, err := bd.Init(stage.SessionContext{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	meta := stage.Meta{stage.KeyTo: []string{"bob@example.com", "carol@elsewhere.com"}}
	result := bd.Data([]byte("body"), meta, state)
	if result.Halted() {
		t.Fatalf("expected success, halted with %v", result.Reason())
	}

	if len(exampleDelivery.delivered) != 1 || exampleDelivery.delivered[0][0] != "bob@example.com" {
		t.Fatalf("expected example.com route to receive bob, got %#v", exampleDelivery.delivered)
	}
	if len(defaultDelivery.delivered) != 1 || defaultDelivery.delivered[0][0] != "carol@elsewhere.com" {
		t.Fatalf("expected default route to receive carol, got %#v", defaultDelivery.delivered)
	}
}

func TestByDomainPropagatesHalt(t *testing.T) {
	registerTestDeliveryKinds(t)

	a, err := newByDomain(map[string]any{
		"routes": map[string]any{
			"default": map[string]any{"kind": "test_failing_delivery"},
		},
	})
	if err != nil {
		t.Fatalf("newByDomain: %v", err)
	}
	bd := a.(*ByDomain)
	state, _ := bd.Init(stage.SessionContext{})

	meta := stage.Meta{stage.KeyTo: []string{"bob@anywhere.test"}}
	result := bd.Data([]byte("body"), meta, state)
	if !result.Halted() {
		t.Fatal("expected halt to propagate from failing delivery route")
	}
}
