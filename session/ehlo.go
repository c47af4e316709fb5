package session

import (
	"fmt"

	"feathermail/stage"
)

// capabilities computes the deterministic EHLO capability set for the
// session's current tls_active value and the server's configured
// tls_mode. Stages never influence this list except by contributing to
// meta.extensions (a []string, appended after the built-in entries)
// during the helo phase, which reference stages do not exercise.
func (s *Session) capabilities() []string {
	caps := []string{
		fmt.Sprintf("SIZE %d", s.opts.MaxMessageSize),
		"PIPELINING",
		"8BITMIME",
		"ENHANCEDSTATUSCODES",
	}

	tlsActive := s.meta.TLSActive()
	if tlsActive || s.opts.TLSMode == "always" {
		caps = append(caps, "AUTH PLAIN LOGIN")
	}
	if s.opts.TLSMode == "if_available" && !tlsActive {
		caps = append(caps, "STARTTLS")
	}
	if ext, ok := s.meta[stage.KeyExtensions].([]string); ok {
		caps = append(caps, ext...)
	}
	return caps
}

func (s *Session) handleHeloOrEhlo(domain string, extended bool) {
	s.meta = s.meta.Clone()
	s.meta[stage.KeyHelo] = domain

	ok, reason, haltedAt := s.dispatchHelo(domain)
	if !ok {
		_ = s.reply(formatReason(haltedAt, reason))
		return
	}

	if !extended {
		_ = s.reply(fmt.Sprintf("250 %s", s.opts.Hostname))
		return
	}

	lines := append([]string{s.opts.Hostname}, s.capabilities()...)
	_ = s.replyMultiline("250", lines)
}
