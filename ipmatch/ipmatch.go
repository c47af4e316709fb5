// Package ipmatch parses and matches IP addresses against rules expressed as
// exact addresses, CIDR ranges, or the keywords localhost/private/any.
package ipmatch

import (
	"fmt"
	"net"
	"strings"
)

// Rule is a parsed IP matching rule. A Rule may be a disjunction of several
// underlying networks (e.g. the "private" keyword covers multiple ranges),
// so it is represented as a list of normalised CIDR networks.
type Rule struct {
	raw      string
	networks []*net.IPNet
	any      bool
}

// String returns the original rule text.
func (r Rule) String() string {
	return r.raw
}

var (
	localhostV4 = mustCIDR("127.0.0.0/8")
	localhostV6 = mustCIDR("::1/128")

	privateNets = []*net.IPNet{
		mustCIDR("10.0.0.0/8"),
		mustCIDR("172.16.0.0/12"),
		mustCIDR("192.168.0.0/16"),
		mustCIDR("fc00::/7"),
	}
)

func mustCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(fmt.Sprintf("ipmatch: invalid built-in CIDR %q: %v", s, err))
	}
	return n
}

// ParseRule parses a rule specification. Accepted forms:
//
//	"localhost"  -> 127.0.0.0/8 and ::1
//	"private"    -> RFC1918 + unique-local ranges
//	"any"        -> matches every address
//	"ADDR"       -> a single exact address
//	"ADDR/PREFIX" -> a CIDR range
//
// Invalid rules return an error; callers must not apply a rule that failed
// to parse.
func ParseRule(s string) (Rule, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Rule{}, fmt.Errorf("ipmatch: empty rule")
	}

	switch strings.ToLower(s) {
	case "any":
		return Rule{raw: s, any: true}, nil
	case "localhost":
		return Rule{raw: s, networks: []*net.IPNet{localhostV4, localhostV6}}, nil
	case "private":
		return Rule{raw: s, networks: append([]*net.IPNet(nil), privateNets...)}, nil
	}

	if strings.Contains(s, "/") {
		_, network, err := net.ParseCIDR(s)
		if err != nil {
			return Rule{}, fmt.Errorf("ipmatch: invalid CIDR %q: %w", s, err)
		}
		return Rule{raw: s, networks: []*net.IPNet{network}}, nil
	}

	ip := net.ParseIP(s)
	if ip == nil {
		return Rule{}, fmt.Errorf("ipmatch: invalid address %q", s)
	}
	bits := 32
	if ip.To4() == nil {
		bits = 128
	}
	network := &net.IPNet{IP: ip.Mask(net.CIDRMask(bits, bits)), Mask: net.CIDRMask(bits, bits)}
	return Rule{raw: s, networks: []*net.IPNet{network}}, nil
}

// Matches reports whether addr falls within the rule. Mixed address
// families never match each other.
func (r Rule) Matches(addr net.IP) bool {
	if addr == nil {
		return false
	}
	if r.any {
		return true
	}
	for _, n := range r.networks {
		if sameFamily(n.IP, addr) && n.Contains(addr) {
			return true
		}
	}
	return false
}

func sameFamily(a, b net.IP) bool {
	return (a.To4() == nil) == (b.To4() == nil)
}

// MatchesAny reports whether addr matches any of the given rules.
func MatchesAny(addr net.IP, rules []Rule) bool {
	for _, r := range rules {
		if r.Matches(addr) {
			return true
		}
	}
	return false
}

// ParseRules parses a list of rule specifications, dropping (and reporting
// via the returned errs slice) any that fail to parse. Callers that cannot
// tolerate partial failure should check len(errs) == 0.
func ParseRules(specs []string) (rules []Rule, errs []error) {
	for _, s := range specs {
		r, err := ParseRule(s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rules = append(rules, r)
	}
	return rules, errs
}
