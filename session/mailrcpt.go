package session

import (
	"strings"

	"feathermail/smtp"
	"feathermail/stage"
)

var knownMailParams = map[string]bool{"SIZE": true, "BODY": true}
var knownRcptParams = map[string]bool{"NOTIFY": true, "ORCPT": true}

// validateExtensionParams rejects MAIL/RCPT parameters the engine doesn't
// recognise with the spec's 555 reply, per "unknown MAIL/RCPT parameter
// extensions".
func validateExtensionParams(args []string, known map[string]bool) bool {
	for _, arg := range args[1:] {
		key, _, found := strings.Cut(arg, "=")
		if !found {
			key = arg
		}
		if !known[strings.ToUpper(key)] {
			return false
		}
	}
	return true
}

func (s *Session) handleMail(args []string) {
	if !validateExtensionParams(args, knownMailParams) {
		_ = s.reply("555 5.5.4 Unsupported MAIL parameter")
		return
	}

	from := smtp.ExtractMailboxFromArg(args[0])

	// Built-in engine policy: the auth wall is enforced ahead of
	// dispatch and stages never observe it.
	if !s.meta.Authenticated() && s.meta.User() == "" {
		_ = s.reply("530 5.7.0 Authentication required")
		return
	}

	s.meta = s.meta.Clone()
	s.meta[stage.KeyFrom] = from
	s.meta[stage.KeyTo] = []string(nil)

	ok, reason, haltedAt := s.dispatchMail(from)
	if !ok {
		_ = s.reply(formatReason(haltedAt, reason))
		return
	}
	s.state = StateInTransaction
	_ = s.reply("250 2.1.0 OK")
}

func (s *Session) handleRcpt(args []string) {
	if !validateExtensionParams(args, knownRcptParams) {
		_ = s.reply("555 5.5.4 Unsupported RCPT parameter")
		return
	}

	to := smtp.ExtractMailboxFromArg(args[0])

	ok, reason, haltedAt := s.dispatchRcpt(to)
	if !ok {
		_ = s.reply(formatReason(haltedAt, reason))
		return
	}
	s.meta = s.meta.WithTo(to)
	_ = s.reply("250 2.1.5 OK")
}
