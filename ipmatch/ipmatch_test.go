package ipmatch

import (
	"net"
	"testing"
)

func TestParseRuleKeywords(t *testing.T) {
	cases := []struct {
		rule  string
		addr  string
		match bool
	}{
		{"localhost", "127.0.0.1", true},
		{"localhost", "::1", true},
		{"localhost", "10.0.0.1", false},
		{"private", "10.1.2.3", true},
		{"private", "172.16.0.1", true},
		{"private", "192.168.1.1", true},
		{"private", "8.8.8.8", false},
		{"private", "fc00::1", true},
		{"any", "8.8.8.8", true},
		{"any", "::1", true},
	}

	for _, c := range cases {
		rule, err := ParseRule(c.rule)
		if err != nil {
			t.Fatalf("ParseRule(%q) error: %v", c.rule, err)
		}
		got := rule.Matches(mustParseIP(t, c.addr))
		if got != c.match {
			t.Errorf("rule %q matching %q = %v, want %v", c.rule, c.addr, got, c.match)
		}
	}
}

func TestParseRuleCIDR(t *testing.T) {
	rule, err := ParseRule("203.0.113.0/24")
	if err != nil {
		t.Fatalf("ParseRule error: %v", err)
	}
	if !rule.Matches(mustParseIP(t, "203.0.113.7")) {
		t.Error("expected 203.0.113.7 to match 203.0.113.0/24")
	}
	if rule.Matches(mustParseIP(t, "203.0.114.7")) {
		t.Error("did not expect 203.0.114.7 to match 203.0.113.0/24")
	}
}

func TestParseRuleExact(t *testing.T) {
	rule, err := ParseRule("198.51.100.1")
	if err != nil {
		t.Fatalf("ParseRule error: %v", err)
	}
	if !rule.Matches(mustParseIP(t, "198.51.100.1")) {
		t.Error("expected exact match")
	}
	if rule.Matches(mustParseIP(t, "198.51.100.2")) {
		t.Error("did not expect a different address to match")
	}
}

func TestMixedFamiliesNeverMatch(t *testing.T) {
	rule, err := ParseRule("0.0.0.0/0")
	if err != nil {
		t.Fatalf("ParseRule error: %v", err)
	}
	if rule.Matches(mustParseIP(t, "::1")) {
		t.Error("IPv4 rule must not match IPv6 address")
	}
}

func TestParseRuleInvalid(t *testing.T) {
	for _, s := range []string{"", "not-an-ip", "1.2.3.4/99", "1.2.3.4/"} {
		if _, err := ParseRule(s); err == nil {
			t.Errorf("ParseRule(%q) expected error", s)
		}
	}
}

func TestMatchesAny(t *testing.T) {
	rules, errs := ParseRules([]string{"localhost", "10.0.0.0/8"})
	if len(errs) != 0 {
		t.Fatalf("unexpected parse errors: %v", errs)
	}
	if !MatchesAny(mustParseIP(t, "10.1.1.1"), rules) {
		t.Error("expected 10.1.1.1 to match rule set")
	}
	if MatchesAny(mustParseIP(t, "8.8.8.8"), rules) {
		t.Error("did not expect 8.8.8.8 to match rule set")
	}
}

func mustParseIP(t *testing.T, s string) net.IP {
	t.Helper()
	ip := net.ParseIP(s)
	if ip == nil {
		t.Fatalf("invalid test address %q", s)
	}
	return ip
}
