package delivery

import (
	"testing"

	"feathermail/stage"
	"feathermail/transform"
)

func TestBuildTransformersEmpty(t *testing.T) {
	ts, err := buildTransformers(nil)
	if err != nil {
		t.Fatalf("buildTransformers: %v", err)
	}
	if ts != nil {
		t.Fatalf("expected nil chain, got %v", ts)
	}
}

func TestBuildTransformersUnknownKind(t *testing.T) {
	_, err := buildTransformers([]any{
		map[string]any{"kind": "not_a_real_kind", "opts": map[string]any{}},
	})
	if err == nil {
		t.Fatal("expected an error for an unknown transformer kind")
	}
}

func TestBuildTransformersAliasResolverRuns(t *testing.T) {
	ts, err := buildTransformers([]any{
		map[string]any{
			"kind": "alias_resolver",
			"opts": map[string]any{
				"aliases": map[string]any{
					"sales@example.com": []any{"alice@example.com", "bob@example.com"},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("buildTransformers: %v", err)
	}
	if len(ts) != 1 {
		t.Fatalf("expected 1 transformer, got %d", len(ts))
	}

	meta := stage.Meta{}.WithTo("sales@example.com")
	_, rewrittenMeta, err := transform.Run(ts, []byte("body"), meta)
	if err != nil {
		t.Fatalf("transform.Run: %v", err)
	}
	to := rewrittenMeta.To()
	if len(to) != 2 {
		t.Fatalf("expected alias expansion to 2 recipients, got %v", to)
	}
}
