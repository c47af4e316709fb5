package stages

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"

	"feathermail/ipmatch"
	"feathermail/pipeline"
	"feathermail/stage"
)

func init() {
	pipeline.Default.Register("simple_access", newSimpleAccess)
	pipeline.Default.Register("relay_control", newRelayControl)
	pipeline.Default.Register("ip_filter", newIPFilter)
	pipeline.Default.Register("sender_domain_validator", newSenderDomainValidator)
	pipeline.Default.Register("backscatter_guard", newBackscatterGuard)
}

// SimpleAccess accepts a recipient only if it matches one of a configured
// set of regular expressions.
type SimpleAccess struct {
	formatsReason
	patterns []*regexp.Regexp
}

type simpleAccessOpts struct {
	Patterns []string `mapstructure:"patterns"`
}

func newSimpleAccess(opts map[string]any) (stage.Adapter, error) {
	var o simpleAccessOpts
	if err := decodeOpts(opts, &o); err != nil {
		return nil, fmt.Errorf("stages: simple_access: %w", err)
	}
	patterns, err := compilePatterns(o.Patterns)
	if err != nil {
		return nil, fmt.Errorf("stages: simple_access: %w", err)
	}
	return &SimpleAccess{patterns: patterns}, nil
}

func (a *SimpleAccess) Init(stage.SessionContext) (any, error) { return nil, nil }

func (a *SimpleAccess) Rcpt(to string, meta stage.Meta, state any) stage.Result {
	for _, p := range a.patterns {
		if p.MatchString(to) {
			return stage.Continue(meta, state)
		}
	}
	return stage.Halt(reason{
		phase: "rcpt",
		line:  fmt.Sprintf("550 5.1.1 Recipient not allowed: %s", to),
	}, state)
}

// RelayControl accepts a recipient when its domain is local, the peer is
// trusted, or the session is already authenticated; otherwise it halts as
// relay denial.
type RelayControl struct {
	formatsReason
	localDomains map[string]bool
	trustedIPs   []ipmatch.Rule
}

type relayControlOpts struct {
	LocalDomains []string `mapstructure:"local_domains"`
	TrustedIPs   []string `mapstructure:"trusted_ips"`
}

func newRelayControl(opts map[string]any) (stage.Adapter, error) {
	var o relayControlOpts
	if err := decodeOpts(opts, &o); err != nil {
		return nil, fmt.Errorf("stages: relay_control: %w", err)
	}
	domains := make(map[string]bool, len(o.LocalDomains))
	for _, d := range o.LocalDomains {
		domains[strings.ToLower(d)] = true
	}
	rules, errs := ipmatch.ParseRules(o.TrustedIPs)
	if len(errs) > 0 {
		return nil, fmt.Errorf("stages: relay_control: invalid trusted_ips: %v", errs)
	}
	return &RelayControl{localDomains: domains, trustedIPs: rules}, nil
}

func (a *RelayControl) Init(stage.SessionContext) (any, error) { return nil, nil }

func (a *RelayControl) Rcpt(to string, meta stage.Meta, state any) stage.Result {
	if a.localDomains[strings.ToLower(domainOf(to))] {
		return stage.Continue(meta, state)
	}
	if ipmatch.MatchesAny(meta.PeerIP(), a.trustedIPs) {
		return stage.Continue(meta, state)
	}
	if meta.User() != "" {
		return stage.Continue(meta, state)
	}
	return stage.Halt(reason{
		phase: "rcpt",
		line:  fmt.Sprintf("550 5.7.1 Relaying denied for %s", to),
	}, state)
}

// IPFilter halts at the helo phase when the peer IP matches a blocked
// rule.
type IPFilter struct {
	formatsReason
	blocked []ipmatch.Rule
}

type ipFilterOpts struct {
	BlockedIPs []string `mapstructure:"blocked_ips"`
}

func newIPFilter(opts map[string]any) (stage.Adapter, error) {
	var o ipFilterOpts
	if err := decodeOpts(opts, &o); err != nil {
		return nil, fmt.Errorf("stages: ip_filter: %w", err)
	}
	rules, errs := ipmatch.ParseRules(o.BlockedIPs)
	if len(errs) > 0 {
		return nil, fmt.Errorf("stages: ip_filter: invalid blocked_ips: %v", errs)
	}
	return &IPFilter{blocked: rules}, nil
}

func (a *IPFilter) Init(stage.SessionContext) (any, error) { return nil, nil }

func (a *IPFilter) Helo(domain string, meta stage.Meta, state any) stage.Result {
	if ipmatch.MatchesAny(meta.PeerIP(), a.blocked) {
		return stage.Halt(reason{
			phase: "helo",
			line:  "554 5.7.1 Access denied from your IP address",
		}, state)
	}
	return stage.Continue(meta, state)
}

// SenderDomainValidator restricts MAIL FROM to authenticated sessions
// and/or an allow-listed set of sender domains.
type SenderDomainValidator struct {
	formatsReason
	allowedDomains      map[string]bool
	requireAuthForRelay bool
}

type senderDomainValidatorOpts struct {
	AllowedDomains      []string `mapstructure:"allowed_domains"`
	RequireAuthForRelay bool     `mapstructure:"require_auth_for_relay"`
}

func newSenderDomainValidator(opts map[string]any) (stage.Adapter, error) {
	var o senderDomainValidatorOpts
	if err := decodeOpts(opts, &o); err != nil {
		return nil, fmt.Errorf("stages: sender_domain_validator: %w", err)
	}
	domains := make(map[string]bool, len(o.AllowedDomains))
	for _, d := range o.AllowedDomains {
		domains[strings.ToLower(d)] = true
	}
	return &SenderDomainValidator{allowedDomains: domains, requireAuthForRelay: o.RequireAuthForRelay}, nil
}

func (a *SenderDomainValidator) Init(stage.SessionContext) (any, error) { return nil, nil }

func (a *SenderDomainValidator) Mail(from string, meta stage.Meta, state any) stage.Result {
	if a.requireAuthForRelay && meta.Authenticated() {
		return stage.Continue(meta, state)
	}
	if a.allowedDomains[strings.ToLower(domainOf(from))] {
		return stage.Continue(meta, state)
	}
	return stage.Halt(reason{
		phase: "mail",
		line:  fmt.Sprintf("550 5.7.1 Sender domain not authorized for relay: %s", from),
	}, state)
}

// backscatterGuard is a pluggable yes/no check consulted by BackscatterGuard
// for a single recipient.
type backscatterGuard interface {
	allows(to string) bool
}

type staticListGuard struct{ set map[string]bool }

func (g staticListGuard) allows(to string) bool { return g.set[strings.ToLower(to)] }

type regexListGuard struct{ patterns []*regexp.Regexp }

func (g regexListGuard) allows(to string) bool {
	for _, p := range g.patterns {
		if p.MatchString(to) {
			return true
		}
	}
	return false
}

type maildirExistenceGuard struct{ baseDir string }

func (g maildirExistenceGuard) allows(to string) bool {
	_, err := os.Stat(g.baseDir + "/" + smtpLocalPart(to))
	return err == nil
}

type aliasFileGuard struct{ aliases map[string]bool }

func (g aliasFileGuard) allows(to string) bool { return g.aliases[strings.ToLower(to)] }

func smtpLocalPart(addr string) string {
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		return addr[:i]
	}
	return addr
}

// BackscatterGuard accepts a recipient if any configured guard recognizes
// it as a real local mailbox, rejecting unknown-user backscatter targets.
type BackscatterGuard struct {
	formatsReason
	guards []backscatterGuard
}

type backscatterGuardOpts struct {
	StaticList  []string `mapstructure:"static_list"`
	RegexList   []string `mapstructure:"regex_list"`
	MaildirBase string   `mapstructure:"maildir_base"`
	AliasFile   string   `mapstructure:"alias_file"`
}

func newBackscatterGuard(opts map[string]any) (stage.Adapter, error) {
	var o backscatterGuardOpts
	if err := decodeOpts(opts, &o); err != nil {
		return nil, fmt.Errorf("stages: backscatter_guard: %w", err)
	}

	var guards []backscatterGuard

	if len(o.StaticList) > 0 {
		set := make(map[string]bool, len(o.StaticList))
		for _, a := range o.StaticList {
			set[strings.ToLower(a)] = true
		}
		guards = append(guards, staticListGuard{set: set})
	}

	if len(o.RegexList) > 0 {
		patterns, err := compilePatterns(o.RegexList)
		if err != nil {
			return nil, fmt.Errorf("stages: backscatter_guard: %w", err)
		}
		guards = append(guards, regexListGuard{patterns: patterns})
	}

	if o.MaildirBase != "" {
		guards = append(guards, maildirExistenceGuard{baseDir: o.MaildirBase})
	}

	if o.AliasFile != "" {
		aliases, err := loadAliasAddresses(o.AliasFile)
		if err != nil {
			return nil, fmt.Errorf("stages: backscatter_guard: %w", err)
		}
		guards = append(guards, aliasFileGuard{aliases: aliases})
	}

	return &BackscatterGuard{guards: guards}, nil
}

func (a *BackscatterGuard) Init(stage.SessionContext) (any, error) { return nil, nil }

func (a *BackscatterGuard) Rcpt(to string, meta stage.Meta, state any) stage.Result {
	for _, g := range a.guards {
		if g.allows(to) {
			return stage.Continue(meta, state)
		}
	}
	return stage.Halt(reason{
		phase: "rcpt",
		line:  fmt.Sprintf("550 5.1.1 User unknown: %s", to),
	}, state)
}

func compilePatterns(specs []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(specs))
	for _, s := range specs {
		p, err := regexp.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", s, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// loadAliasAddresses reads the left-hand addresses out of a sendmail-style
// aliases file, for presence checks only (no target expansion).
func loadAliasAddresses(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening alias file: %w", err)
	}
	defer f.Close()

	aliases := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		aliases[strings.ToLower(strings.TrimSpace(line[:colon]))] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading alias file: %w", err)
	}
	return aliases, nil
}
