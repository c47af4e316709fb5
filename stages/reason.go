// Package stages implements the built-in access-control, rate-limiting,
// routing, and logging pipeline adapters: the stock stage.Adapter kinds
// registered into the pipeline.Registry by init().
package stages

import "feathermail/stage"

// reason is a halt reason shared by every adapter in this package: it
// carries the phase it fired in plus the fully rendered reply line, so a
// single FormatReason implementation serves all of them.
type reason struct {
	phase string
	line  string
}

func (r reason) Phase() string { return r.phase }

// formatsReason is embedded by every adapter in this package that can
// halt (all but MailLogger) to satisfy
// stage.ReasonFormatter by rendering back any reason this package produced.
type formatsReason struct{}

func (formatsReason) FormatReason(r stage.Reason) (string, bool) {
	if rr, ok := r.(reason); ok {
		return rr.line, true
	}
	return "", false
}

func domainOf(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == '@' {
			return addr[i+1:]
		}
	}
	return ""
}
