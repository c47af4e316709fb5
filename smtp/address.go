package smtp

import (
	"net/mail"
	"strings"
)

// ExtractMailboxFromArg pulls a mailbox address out of a MAIL/RCPT argument
// that may carry a FROM:/TO: prefix, angle brackets, or a display name.
// Returns the bare mailbox; when no address-shaped token is found it
// returns the argument with the prefix and angle brackets stripped ("" for
// the null sender "<>").
func ExtractMailboxFromArg(arg string) string {
	upper := strings.ToUpper(arg)
	switch {
	case strings.HasPrefix(upper, "FROM:"):
		arg = arg[len("FROM:"):]
	case strings.HasPrefix(upper, "TO:"):
		arg = arg[len("TO:"):]
	}
	arg = strings.TrimSpace(arg)

	if addr := parseAddress(arg); addr != "" {
		return addr
	}
	return strings.Trim(arg, "<>")
}

// parseAddress extracts a single mailbox from a free-form argument such as
// "Display Name <user@example.com>" or a bare "user@example.com", preserving
// case. Returns "" if no address-shaped token is found.
func parseAddress(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if a, err := mail.ParseAddress(raw); err == nil {
		return a.Address
	}

	for _, tok := range strings.Fields(raw) {
		trimmed := strings.Trim(tok, `<>,'"`)
		if !strings.Contains(trimmed, "@") {
			continue
		}
		if a, err := mail.ParseAddress(trimmed); err == nil {
			return a.Address
		}
		return trimmed
	}
	return ""
}
