package transform

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"feathermail/stage"
)

const srsEpochDays = 1024

// srsTimestamp returns the two-character base-36 encoding of the number of
// days since the Unix epoch, modulo srsEpochDays.
func srsTimestamp(now time.Time) string {
	days := now.Unix() / 86400 % srsEpochDays
	s := strconv.FormatInt(days, 36)
	for len(s) < 2 {
		s = "0" + s
	}
	return s
}

// srsHash computes the SRS validation tag: the first 2 bytes of
// HMAC-SHA256(secret, ts||domain||local), hex-encoded.
func srsHash(secret, ts, domain, local string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte(domain))
	mac.Write([]byte(local))
	sum := mac.Sum(nil)
	return hex.EncodeToString(sum[:2])
}

// SRSRewriter rewrites meta.from to an SRS0 address on srsDomain, so that
// downstream SPF checks authorize srsDomain rather than the original
// sender's domain. It rewrites every message that has a sender; it does
// not check whether the recipients are local (AliasResolverWithSRS does).
type SRSRewriter struct {
	Secret    string
	SRSDomain string
}

// NewSRSRewriter constructs an SRSRewriter.
func NewSRSRewriter(secret, srsDomain string) *SRSRewriter {
	return &SRSRewriter{Secret: secret, SRSDomain: srsDomain}
}

// TransformMeta rewrites meta.from into SRS0=<hash>=<ts>=<orig_domain>=<orig_local>@<srs_domain>.
func (s *SRSRewriter) TransformMeta(meta stage.Meta) (stage.Meta, error) {
	from := meta.From()
	if from == "" {
		return meta, nil
	}
	local, domain, ok := splitAddress(from)
	if !ok {
		return meta, nil
	}

	ts := srsTimestamp(time.Now())
	hash := srsHash(s.Secret, ts, domain, local)
	rewritten := fmt.Sprintf("SRS0=%s=%s=%s=%s@%s", hash, ts, domain, local, s.SRSDomain)

	out := meta.Clone()
	out[stage.KeyFrom] = rewritten
	return out, nil
}

// AliasResolverWithSRS combines alias expansion with SRS rewriting of the
// sender whenever any resulting recipient is external (not a member of
// localDomains).
type AliasResolverWithSRS struct {
	Aliases      map[string][]string
	MaxDepth     int
	Secret       string
	SRSDomain    string
	LocalDomains map[string]bool
}

// NewAliasResolverWithSRS constructs a combined alias+SRS transformer.
func NewAliasResolverWithSRS(aliases map[string][]string, maxDepth int, secret, srsDomain string, localDomains []string) *AliasResolverWithSRS {
	if maxDepth <= 0 {
		maxDepth = defaultAliasDepth
	}
	set := make(map[string]bool, len(localDomains))
	for _, d := range localDomains {
		set[strings.ToLower(d)] = true
	}
	return &AliasResolverWithSRS{
		Aliases:      aliases,
		MaxDepth:     maxDepth,
		Secret:       secret,
		SRSDomain:    srsDomain,
		LocalDomains: set,
	}
}

// TransformMeta expands aliases, then rewrites meta.from via SRS if any
// resulting recipient is external.
func (a *AliasResolverWithSRS) TransformMeta(meta stage.Meta) (stage.Meta, error) {
	expanded, err := expandAliasesInMeta(meta, a.Aliases, a.MaxDepth)
	if err != nil {
		return nil, err
	}

	external := false
	for _, addr := range expanded.To() {
		_, domain, ok := splitAddress(addr)
		if ok && !a.LocalDomains[strings.ToLower(domain)] {
			external = true
			break
		}
	}
	if !external {
		return expanded, nil
	}

	rewriter := &SRSRewriter{Secret: a.Secret, SRSDomain: a.SRSDomain}
	return rewriter.TransformMeta(expanded)
}

// SRSBounceHandler decodes an SRS0 local-part back to the original
// recipient, validating the embedded timestamp and HMAC.
type SRSBounceHandler struct {
	Secret     string
	MaxAgeDays int
}

// NewSRSBounceHandler constructs a bounce handler.
func NewSRSBounceHandler(secret string, maxAgeDays int) *SRSBounceHandler {
	return &SRSBounceHandler{Secret: secret, MaxAgeDays: maxAgeDays}
}

// TransformMeta rewrites each SRS0-encoded recipient in meta.To back to
// its original address, when the embedded timestamp and HMAC validate.
func (s *SRSBounceHandler) TransformMeta(meta stage.Meta) (stage.Meta, error) {
	to := meta.To()
	if len(to) == 0 {
		return meta, nil
	}

	changed := false
	rewritten := make([]string, len(to))
	for i, addr := range to {
		decoded, ok := s.decode(addr)
		if ok {
			rewritten[i] = decoded
			changed = true
		} else {
			rewritten[i] = addr
		}
	}
	if !changed {
		return meta, nil
	}

	out := meta.Clone()
	out[stage.KeyTo] = rewritten
	return out, nil
}

// decode parses local@domain as SRS0=H=T=D=L and, if the HMAC and age
// validate, returns L@D.
func (s *SRSBounceHandler) decode(addr string) (string, bool) {
	local, _, ok := splitAddress(addr)
	if !ok {
		return "", false
	}
	if !strings.HasPrefix(local, "SRS0=") {
		return "", false
	}
	parts := strings.SplitN(local[len("SRS0="):], "=", 4)
	if len(parts) != 4 {
		return "", false
	}
	hash, ts, domain, origLocal := parts[0], parts[1], parts[2], parts[3]

	if !s.validAge(ts) {
		return "", false
	}
	if srsHash(s.Secret, ts, domain, origLocal) != hash {
		return "", false
	}
	return origLocal + "@" + domain, true
}

// validAge reports whether ts (a base-36, mod-1024 day count) is within
// MaxAgeDays of the current day, accounting for wraparound modulo 1024.
func (s *SRSBounceHandler) validAge(ts string) bool {
	tsVal, err := strconv.ParseInt(ts, 36, 64)
	if err != nil || tsVal < 0 || tsVal >= srsEpochDays {
		return false
	}
	nowDays := time.Now().Unix() / 86400 % srsEpochDays
	diff := nowDays - tsVal
	if diff < 0 {
		diff += srsEpochDays
	}
	return diff <= int64(s.MaxAgeDays)
}

// splitAddress splits addr on the last '@' into (local, domain). It
// returns ok=false if addr has no '@'.
func splitAddress(addr string) (local, domain string, ok bool) {
	at := strings.LastIndex(addr, "@")
	if at == -1 {
		return "", "", false
	}
	return addr[:at], addr[at+1:], true
}
