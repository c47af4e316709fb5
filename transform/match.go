package transform

import (
	"bytes"
	"net/mail"
	"regexp"

	"feathermail/stage"
)

// MatchSender sets meta.mailbox to a configured tag when meta.from
// matches one of the configured regular expressions. The first matching
// rule wins.
type MatchSender struct {
	rules []matchRule
}

type matchRule struct {
	pattern *regexp.Regexp
	mailbox string
}

// NewMatchSender builds a MatchSender from an ordered set of (pattern,
// mailbox) rules.
func NewMatchSender(rules map[string]string, order []string) (*MatchSender, error) {
	compiled, err := compileRules(rules, order)
	if err != nil {
		return nil, err
	}
	return &MatchSender{rules: compiled}, nil
}

// TransformMeta sets meta.mailbox if a rule matches meta.from and
// meta.mailbox is not already set by an earlier transformer.
func (m *MatchSender) TransformMeta(meta stage.Meta) (stage.Meta, error) {
	if meta.Mailbox() != "" {
		return meta, nil
	}
	for _, r := range m.rules {
		if r.pattern.MatchString(meta.From()) {
			out := meta.Clone()
			out[stage.KeyMailbox] = r.mailbox
			return out, nil
		}
	}
	return meta, nil
}

// MatchRcptTo sets meta.mailbox based on the first recipient matching a
// configured regular expression.
type MatchRcptTo struct {
	rules []matchRule
}

// NewMatchRcptTo builds a MatchRcptTo from an ordered set of (pattern,
// mailbox) rules.
func NewMatchRcptTo(rules map[string]string, order []string) (*MatchRcptTo, error) {
	compiled, err := compileRules(rules, order)
	if err != nil {
		return nil, err
	}
	return &MatchRcptTo{rules: compiled}, nil
}

// TransformMeta sets meta.mailbox if a rule matches any entry in meta.to.
func (m *MatchRcptTo) TransformMeta(meta stage.Meta) (stage.Meta, error) {
	if meta.Mailbox() != "" {
		return meta, nil
	}
	for _, r := range m.rules {
		for _, to := range meta.To() {
			if r.pattern.MatchString(to) {
				out := meta.Clone()
				out[stage.KeyMailbox] = r.mailbox
				return out, nil
			}
		}
	}
	return meta, nil
}

// MatchHeader sets meta.mailbox based on the value of one configured
// header: the first rule whose regular expression matches it wins.
type MatchHeader struct {
	header string
	rules  []matchRule
}

// NewMatchHeader builds a MatchHeader over the named header.
func NewMatchHeader(header string, rules map[string]string, order []string) (*MatchHeader, error) {
	compiled, err := compileRules(rules, order)
	if err != nil {
		return nil, err
	}
	return &MatchHeader{header: header, rules: compiled}, nil
}

// TransformData parses raw's headers and sets meta.mailbox if a rule
// matches the configured header's value. raw is returned unmodified.
func (m *MatchHeader) TransformData(raw []byte, meta stage.Meta) ([]byte, stage.Meta, error) {
	if meta.Mailbox() != "" {
		return raw, meta, nil
	}
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return raw, meta, nil
	}
	value := msg.Header.Get(m.header)
	for _, r := range m.rules {
		if r.pattern.MatchString(value) {
			out := meta.Clone()
			out[stage.KeyMailbox] = r.mailbox
			return raw, out, nil
		}
	}
	return raw, meta, nil
}

// MatchBody sets meta.mailbox based on the first configured regular
// expression that matches the message body.
type MatchBody struct {
	rules []matchRule
}

// NewMatchBody builds a MatchBody transformer.
func NewMatchBody(rules map[string]string, order []string) (*MatchBody, error) {
	compiled, err := compileRules(rules, order)
	if err != nil {
		return nil, err
	}
	return &MatchBody{rules: compiled}, nil
}

// TransformData sets meta.mailbox if a rule matches raw's body. raw is
// returned unmodified.
func (m *MatchBody) TransformData(raw []byte, meta stage.Meta) ([]byte, stage.Meta, error) {
	if meta.Mailbox() != "" {
		return raw, meta, nil
	}
	body := raw
	if msg, err := mail.ReadMessage(bytes.NewReader(raw)); err == nil {
		buf := new(bytes.Buffer)
		if _, cerr := buf.ReadFrom(msg.Body); cerr == nil {
			body = buf.Bytes()
		}
	}
	for _, r := range m.rules {
		if r.pattern.Match(body) {
			out := meta.Clone()
			out[stage.KeyMailbox] = r.mailbox
			return raw, out, nil
		}
	}
	return raw, meta, nil
}

// DefaultMailbox sets meta.mailbox to a fixed value when no earlier
// transformer has already set one.
type DefaultMailbox struct {
	Mailbox string
}

// NewDefaultMailbox constructs a DefaultMailbox transformer.
func NewDefaultMailbox(mailbox string) *DefaultMailbox {
	return &DefaultMailbox{Mailbox: mailbox}
}

// TransformMeta sets meta.mailbox to Mailbox if absent.
func (d *DefaultMailbox) TransformMeta(meta stage.Meta) (stage.Meta, error) {
	if meta.Mailbox() != "" {
		return meta, nil
	}
	out := meta.Clone()
	out[stage.KeyMailbox] = d.Mailbox
	return out, nil
}

func compileRules(rules map[string]string, order []string) ([]matchRule, error) {
	out := make([]matchRule, 0, len(order))
	for _, pattern := range order {
		mailbox, ok := rules[pattern]
		if !ok {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		out = append(out, matchRule{pattern: re, mailbox: mailbox})
	}
	return out, nil
}
