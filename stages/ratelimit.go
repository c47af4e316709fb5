package stages

import (
	"fmt"
	"sync"
	"time"

	"feathermail/ipmatch"
	"feathermail/pipeline"
	"feathermail/stage"
	"feathermail/ttlstore"
)

func init() {
	pipeline.Default.Register("message_rate_limit", newMessageRateLimit)
	pipeline.Default.Register("user_rate_limit", newUserRateLimit)
	pipeline.Default.Register("recipient_limit", newRecipientLimit)
}

// rateLimitStore is the process-wide counter store backing every rate
// limit adapter; it outlives any single connection's adapter instances,
// which is what makes the limits meaningful across sessions.
var rateLimitStore = ttlstore.New(0)

func humanizeWindow(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", int64(d/time.Hour))
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", int64(d/time.Minute))
	default:
		return fmt.Sprintf("%ds", int64(d/time.Second))
	}
}

// MessageRateLimit caps the number of messages a peer IP may submit within
// a window, counted by a TTL'd counter whose expiry is refreshed on every
// MAIL FROM, so the count resets only after a full window without one.
type MessageRateLimit struct {
	formatsReason
	maxMessages int
	window      time.Duration
	exempt      []ipmatch.Rule
}

type messageRateLimitOpts struct {
	MaxMessages    int      `mapstructure:"max_messages"`
	TimeWindowSecs int      `mapstructure:"time_window"`
	ExemptIPs      []string `mapstructure:"exempt_ips"`
}

func newMessageRateLimit(opts map[string]any) (stage.Adapter, error) {
	var o messageRateLimitOpts
	if err := decodeOpts(opts, &o); err != nil {
		return nil, fmt.Errorf("stages: message_rate_limit: %w", err)
	}
	rules, errs := ipmatch.ParseRules(o.ExemptIPs)
	if len(errs) > 0 {
		return nil, fmt.Errorf("stages: message_rate_limit: invalid exempt_ips: %v", errs)
	}
	return &MessageRateLimit{
		maxMessages: o.MaxMessages,
		window:      time.Duration(o.TimeWindowSecs) * time.Second,
		exempt:      rules,
	}, nil
}

func (a *MessageRateLimit) Init(stage.SessionContext) (any, error) { return nil, nil }

func (a *MessageRateLimit) Mail(from string, meta stage.Meta, state any) stage.Result {
	peer := meta.PeerIP()
	if ipmatch.MatchesAny(peer, a.exempt) {
		return stage.Continue(meta, state)
	}

	key := "ratelimit:ip:" + peer.String()
	count, err := rateLimitStore.Increment(key, 1, a.window)
	if err != nil {
		// Storage failure: fail open rather than block legitimate mail.
		return stage.Continue(meta, state)
	}
	if int(count) > a.maxMessages {
		return stage.Halt(reason{
			phase: "mail",
			line: fmt.Sprintf("450 4.7.1 Rate limit exceeded: too many messages from your IP (max: %d per %s)",
				a.maxMessages, humanizeWindow(a.window)),
		}, state)
	}
	return stage.Continue(meta, state)
}

// UserRateLimit caps the number of messages an authenticated user may
// submit within a window.
type UserRateLimit struct {
	formatsReason
	maxMessages int
	window      time.Duration
	exempt      map[string]bool
}

type userRateLimitOpts struct {
	MaxMessages    int      `mapstructure:"max_messages"`
	TimeWindowSecs int      `mapstructure:"time_window"`
	ExemptUsers    []string `mapstructure:"exempt_users"`
}

func newUserRateLimit(opts map[string]any) (stage.Adapter, error) {
	var o userRateLimitOpts
	if err := decodeOpts(opts, &o); err != nil {
		return nil, fmt.Errorf("stages: user_rate_limit: %w", err)
	}
	exempt := make(map[string]bool, len(o.ExemptUsers))
	for _, u := range o.ExemptUsers {
		exempt[u] = true
	}
	return &UserRateLimit{
		maxMessages: o.MaxMessages,
		window:      time.Duration(o.TimeWindowSecs) * time.Second,
		exempt:      exempt,
	}, nil
}

func (a *UserRateLimit) Init(stage.SessionContext) (any, error) { return nil, nil }

func (a *UserRateLimit) Mail(from string, meta stage.Meta, state any) stage.Result {
	user := meta.User()
	if user == "" || a.exempt[user] {
		return stage.Continue(meta, state)
	}

	key := "ratelimit:user:" + user
	count, err := rateLimitStore.Increment(key, 1, a.window)
	if err != nil {
		return stage.Continue(meta, state)
	}
	if int(count) > a.maxMessages {
		return stage.Halt(reason{
			phase: "mail",
			line: fmt.Sprintf("450 4.7.1 Rate limit exceeded: too many messages from user '%s' (max: %d per %s)",
				user, a.maxMessages, humanizeWindow(a.window)),
		}, state)
	}
	return stage.Continue(meta, state)
}

// RecipientLimit caps the number of RCPT TO commands in a session, using
// a per-session counter held in the stage's own state rather than the
// shared store; RSET and a new MAIL FROM do not reset the counter.
type RecipientLimit struct {
	formatsReason
	maxRecipients       int
	maxUnauthRecipients int
}

type recipientLimitOpts struct {
	MaxRecipients       int `mapstructure:"max_recipients"`
	MaxUnauthRecipients int `mapstructure:"max_unauthenticated_recipients"`
}

func newRecipientLimit(opts map[string]any) (stage.Adapter, error) {
	var o recipientLimitOpts
	if err := decodeOpts(opts, &o); err != nil {
		return nil, fmt.Errorf("stages: recipient_limit: %w", err)
	}
	maxUnauth := o.MaxUnauthRecipients
	if maxUnauth <= 0 {
		maxUnauth = o.MaxRecipients
	}
	return &RecipientLimit{maxRecipients: o.MaxRecipients, maxUnauthRecipients: maxUnauth}, nil
}

type recipientLimitState struct {
	mu    sync.Mutex
	count int
}

func (a *RecipientLimit) Init(stage.SessionContext) (any, error) {
	return &recipientLimitState{}, nil
}

func (a *RecipientLimit) Rcpt(to string, meta stage.Meta, state any) stage.Result {
	st, _ := state.(*recipientLimitState)
	if st == nil {
		st = &recipientLimitState{}
	}

	limit := a.maxRecipients
	if !meta.Authenticated() {
		limit = a.maxUnauthRecipients
	}

	st.mu.Lock()
	st.count++
	count := st.count
	st.mu.Unlock()

	if count > limit {
		return stage.Halt(reason{
			phase: "rcpt",
			line:  fmt.Sprintf("452 4.5.3 Too many recipients (max: %d)", limit),
		}, st)
	}
	return stage.Continue(meta, st)
}
