package transform

import (
	"testing"
	"time"

	"feathermail/stage"
)

func TestAliasResolverExpansion(t *testing.T) {
	r := NewAliasResolver(map[string][]string{
		"team@example.com": {"alice@example.com", "bob@example.com"},
	}, 5)

	meta := stage.Meta{stage.KeyTo: []string{"team@example.com"}}
	out, err := r.TransformMeta(meta)
	if err != nil {
		t.Fatalf("TransformMeta error: %v", err)
	}
	to := out.To()
	if len(to) != 2 || to[0] != "alice@example.com" || to[1] != "bob@example.com" {
		t.Fatalf("expanded To = %v", to)
	}
}

func TestAliasResolverCycle(t *testing.T) {
	r := NewAliasResolver(map[string][]string{
		"a@example.com": {"b@example.com"},
		"b@example.com": {"a@example.com"},
	}, 5)
	meta := stage.Meta{stage.KeyTo: []string{"a@example.com"}}
	if _, err := r.TransformMeta(meta); err == nil {
		t.Fatal("expected cycle detection error")
	}
}

func TestSRSRoundTrip(t *testing.T) {
	rewriter := NewSRSRewriter("secret", "relay.example.com")
	meta := stage.Meta{stage.KeyFrom: "alice@example.org"}
	rewritten, err := rewriter.TransformMeta(meta)
	if err != nil {
		t.Fatalf("rewrite error: %v", err)
	}
	from := rewritten.From()
	if from == "" {
		t.Fatal("expected rewritten from")
	}

	bounce := NewSRSBounceHandler("secret", 30)
	bounceMeta := stage.Meta{stage.KeyTo: []string{srsLocalFromFrom(from)}}
	decoded, err := bounce.TransformMeta(bounceMeta)
	if err != nil {
		t.Fatalf("bounce transform error: %v", err)
	}
	to := decoded.To()
	if len(to) != 1 || to[0] != "alice@example.org" {
		t.Fatalf("decoded To = %v, want [alice@example.org]", to)
	}
}

// srsLocalFromFrom reparents the SRS0 local-part of a rewritten from
// address onto the relay domain, as a bounce target would arrive.
func srsLocalFromFrom(from string) string {
	local, _, _ := splitAddress(from)
	return local + "@relay.example.com"
}

func TestSRSBounceRejectsBadHash(t *testing.T) {
	bounce := NewSRSBounceHandler("secret", 30)
	// A current timestamp keeps the age check from rejecting the address
	// first, so only the HMAC check can leave it unmodified.
	meta := stage.Meta{stage.KeyTo: []string{"SRS0=ffff=" + srsTimestamp(time.Now()) + "=example.org=alice@relay.example.com"}}
	out, err := bounce.TransformMeta(meta)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.To()[0] != meta.To()[0] {
		t.Fatal("expected unmodified recipient when HMAC does not validate")
	}
}

func TestDefaultMailbox(t *testing.T) {
	d := NewDefaultMailbox("catchall")
	meta := stage.Meta{}
	out, err := d.TransformMeta(meta)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Mailbox() != "catchall" {
		t.Fatalf("Mailbox() = %q, want catchall", out.Mailbox())
	}

	already := stage.Meta{stage.KeyMailbox: "existing"}
	out2, _ := d.TransformMeta(already)
	if out2.Mailbox() != "existing" {
		t.Fatal("expected existing mailbox to be preserved")
	}
}

func TestMatchRcptTo(t *testing.T) {
	m, err := NewMatchRcptTo(map[string]string{`^sales@`: "sales-box"}, []string{`^sales@`})
	if err != nil {
		t.Fatalf("NewMatchRcptTo error: %v", err)
	}
	meta := stage.Meta{stage.KeyTo: []string{"sales@example.com"}}
	out, err := m.TransformMeta(meta)
	if err != nil {
		t.Fatalf("TransformMeta error: %v", err)
	}
	if out.Mailbox() != "sales-box" {
		t.Fatalf("Mailbox() = %q, want sales-box", out.Mailbox())
	}
}

func TestRunOrdering(t *testing.T) {
	alias := NewAliasResolver(map[string][]string{"list@example.com": {"alice@example.com"}}, 5)
	def := NewDefaultMailbox("inbox")
	raw, meta, err := Run([]Transformer{alias, def}, []byte("body"), stage.Meta{stage.KeyTo: []string{"list@example.com"}})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if string(raw) != "body" {
		t.Fatalf("raw = %q", raw)
	}
	if meta.Mailbox() != "inbox" {
		t.Fatalf("Mailbox() = %q, want inbox", meta.Mailbox())
	}
	if len(meta.To()) != 1 || meta.To()[0] != "alice@example.com" {
		t.Fatalf("To() = %v", meta.To())
	}
}
