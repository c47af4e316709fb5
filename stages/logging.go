package stages

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"feathermail/logging"
	"feathermail/pipeline"
	"feathermail/stage"
)

func init() {
	pipeline.Default.Register("mail_logger", newMailLogger)
}

type mailLoggerOpts struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	Sanitize bool   `mapstructure:"sanitize"`
}

// MailLogger is a pure pass-through stage: it never halts a phase or
// mutates meta, it only emits one structured log line per phase event per
// session, tagged with a short per-session id and a monotonic millisecond
// offset from session start.
type MailLogger struct {
	backend  logging.Logger
	sanitize bool
}

func newMailLogger(opts map[string]any) (stage.Adapter, error) {
	var o mailLoggerOpts
	if err := decodeOpts(opts, &o); err != nil {
		return nil, fmt.Errorf("stages: mail_logger: %w", err)
	}

	cfg := logging.DefaultConfig()
	if o.Level != "" {
		cfg.Level = logging.ParseLogLevel(o.Level)
	}
	if o.Format != "" {
		cfg.Format = o.Format
	}
	if o.Output != "" {
		cfg.Output = o.Output
	}

	backend, err := logging.NewLogger(&cfg)
	if err != nil {
		return nil, fmt.Errorf("stages: mail_logger: building backend: %w", err)
	}
	return &MailLogger{backend: backend, sanitize: o.Sanitize}, nil
}

type mailLoggerState struct {
	sessionID string
	start     time.Time
}

func generateMailLoggerSessionID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}
	return hex.EncodeToString(b)
}

func (a *MailLogger) Init(stage.SessionContext) (any, error) {
	return &mailLoggerState{sessionID: generateMailLoggerSessionID(), start: time.Now()}, nil
}

func (a *MailLogger) elapsedMs(st *mailLoggerState) int64 {
	return time.Since(st.start).Milliseconds()
}

func (a *MailLogger) logEvent(st *mailLoggerState, phase string, fields ...logging.Field) {
	all := append([]logging.Field{
		logging.F("session_id", st.sessionID),
		logging.F("phase", phase),
		logging.F("elapsed_ms", a.elapsedMs(st)),
	}, fields...)
	a.backend.Info("pipeline event", all...)
}

func (a *MailLogger) resolveState(state any) *mailLoggerState {
	if st, ok := state.(*mailLoggerState); ok && st != nil {
		return st
	}
	return &mailLoggerState{sessionID: generateMailLoggerSessionID(), start: time.Now()}
}

func (a *MailLogger) Helo(domain string, meta stage.Meta, state any) stage.Result {
	st := a.resolveState(state)
	a.logEvent(st, "helo", logging.F("domain", domain))
	return stage.Continue(meta, st)
}

func (a *MailLogger) Auth(username, credential string, meta stage.Meta, state any) stage.Result {
	st := a.resolveState(state)
	cred := credential
	if a.sanitize {
		cred = "***"
	}
	a.logEvent(st, "auth", logging.F("user", username), logging.F("credential", cred))
	return stage.Continue(meta, st)
}

func (a *MailLogger) Mail(from string, meta stage.Meta, state any) stage.Result {
	st := a.resolveState(state)
	a.logEvent(st, "mail", logging.F("from", from))
	return stage.Continue(meta, st)
}

func (a *MailLogger) Rcpt(to string, meta stage.Meta, state any) stage.Result {
	st := a.resolveState(state)
	a.logEvent(st, "rcpt", logging.F("to", to))
	return stage.Continue(meta, st)
}

func (a *MailLogger) Data(raw []byte, meta stage.Meta, state any) stage.Result {
	st := a.resolveState(state)
	a.logEvent(st, "data", logging.F("bytes", len(raw)))
	return stage.Continue(meta, st)
}

func (a *MailLogger) Terminate(reason stage.TerminationReason, meta stage.Meta, state any) {
	st := a.resolveState(state)
	a.logEvent(st, "terminate", logging.F("reason", string(reason)))
}
