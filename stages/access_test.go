package stages

import (
	"testing"

	"feathermail/stage"
)

func metaWithPeer(ip string) stage.Meta {
	return stage.Meta{stage.KeyPeerIP: ip}
}

func TestSimpleAccessMatchesPattern(t *testing.T) {
	a, err := newSimpleAccess(map[string]any{"patterns": []any{`^bob@`}})
	if err != nil {
		t.Fatalf("newSimpleAccess: %v", err)
	}
	sa := a.(*SimpleAccess)

	if sa.Rcpt("bob@example.com", stage.Meta{}, nil).Halted() {
		t.Fatal("expected accept for matching recipient")
	}
	if !sa.Rcpt("carol@example.com", stage.Meta{}, nil).Halted() {
		t.Fatal("expected halt for non-matching recipient")
	}
}

func TestRelayControlAllowsLocalDomain(t *testing.T) {
	a, err := newRelayControl(map[string]any{"local_domains": []any{"example.com"}})
	if err != nil {
		t.Fatalf("newRelayControl: %v", err)
	}
	rc := a.(*RelayControl)

	result := rc.Rcpt("bob@example.com", metaWithPeer("203.0.113.7"), nil)
	if result.Halted() {
		t.Fatal("expected accept for local domain")
	}
}

func TestRelayControlDeniesUnknownRelay(t *testing.T) {
	a, _ := newRelayControl(map[string]any{"local_domains": []any{"example.com"}})
	rc := a.(*RelayControl)

	result := rc.Rcpt("bob@elsewhere.com", metaWithPeer("203.0.113.7"), nil)
	if !result.Halted() {
		t.Fatal("expected halt for non-local, untrusted, unauthenticated relay")
	}
}

func TestRelayControlAllowsAuthenticatedUser(t *testing.T) {
	a, _ := newRelayControl(map[string]any{"local_domains": []any{"example.com"}})
	rc := a.(*RelayControl)

	meta := metaWithPeer("203.0.113.7")
	meta[stage.KeyUser] = "alice@example.com"

	if rc.Rcpt("bob@elsewhere.com", meta, nil).Halted() {
		t.Fatal("expected accept once session carries an authenticated user")
	}
}

func TestIPFilterBlocksConfiguredRange(t *testing.T) {
	a, err := newIPFilter(map[string]any{"blocked_ips": []any{"203.0.113.0/24"}})
	if err != nil {
		t.Fatalf("newIPFilter: %v", err)
	}
	f := a.(*IPFilter)

	result := f.Helo("x", metaWithPeer("203.0.113.7"), nil)
	if !result.Halted() {
		t.Fatal("expected halt for blocked range")
	}
	line, ok := f.FormatReason(result.Reason())
	if !ok || line != "554 5.7.1 Access denied from your IP address" {
		t.Fatalf("unexpected reply: %q", line)
	}

	if f.Helo("x", metaWithPeer("198.51.100.1"), nil).Halted() {
		t.Fatal("expected accept outside blocked range")
	}
}

func TestSenderDomainValidatorAllowsAuthenticated(t *testing.T) {
	a, err := newSenderDomainValidator(map[string]any{
		"allowed_domains":         []any{"example.com"},
		"require_auth_for_relay": true,
	})
	if err != nil {
		t.Fatalf("newSenderDomainValidator: %v", err)
	}
	v := a.(*SenderDomainValidator)

	meta := stage.Meta{stage.KeyAuthenticated: true}
	if v.Mail("anyone@outside.test", meta, nil).Halted() {
		t.Fatal("expected accept for authenticated sender")
	}
}

func TestSenderDomainValidatorDeniesUnlisted(t *testing.T) {
	a, _ := newSenderDomainValidator(map[string]any{"allowed_domains": []any{"example.com"}})
	v := a.(*SenderDomainValidator)

	if !v.Mail("anyone@outside.test", stage.Meta{}, nil).Halted() {
		t.Fatal("expected halt for unlisted sender domain")
	}
}

func TestBackscatterGuardStaticList(t *testing.T) {
	a, err := newBackscatterGuard(map[string]any{"static_list": []any{"bob@example.com"}})
	if err != nil {
		t.Fatalf("newBackscatterGuard: %v", err)
	}
	g := a.(*BackscatterGuard)

	if g.Rcpt("bob@example.com", stage.Meta{}, nil).Halted() {
		t.Fatal("expected accept for listed recipient")
	}
	if !g.Rcpt("nobody@example.com", stage.Meta{}, nil).Halted() {
		t.Fatal("expected halt for unlisted recipient")
	}
}

func TestDomainOf(t *testing.T) {
	if domainOf("bob@example.com") != "example.com" {
		t.Fatal("expected domain extraction")
	}
	if domainOf("malformed") != "" {
		t.Fatal("expected empty domain for malformed address")
	}
}
