package stage

// SessionContext is the read-only, init-time view of a session a stage's
// Init hook may consult: peer IP, tls_active and server hostname. It
// carries no session options; a stage's options reach it through its
// Factory.
type SessionContext struct {
	PeerIP    string
	TLSActive bool
	Hostname  string
}

// TerminationReason classifies why a session ended, passed to every
// stage's Terminate hook.
type TerminationReason string

const (
	ReasonNormal           TerminationReason = "normal"
	ReasonClientDisconnect TerminationReason = "client_disconnect"
	ReasonProtocolError    TerminationReason = "protocol_error"
	ReasonFatal            TerminationReason = "fatal"
)

// Reason is a halt reason chosen by a stage. It is an opaque value to
// everything except the stage that produced it and, optionally, that
// stage's FormatReason implementation. The engine's default rendering of
// an unformatted Reason is "550 <debug-printed reason>" via fmt's %v verb,
// so concrete Reason types are expected to implement a readable String().
type Reason interface {
	// Phase identifies which phase hook produced this reason, for logging.
	Phase() string
}

// Result is returned by every phase hook. Exactly one of the two
// constructors below should be used to build one.
type Result struct {
	halted bool
	meta   Meta
	state  any
	reason Reason
}

// Continue reports success: meta' and state' carry forward into the next
// stage's invocation for this phase.
func Continue(meta Meta, state any) Result {
	return Result{halted: false, meta: meta, state: state}
}

// Halt reports that the phase should stop at this stage: reason is the
// halt reason, state' is the stage's own updated private state (stages
// after the halting one are not invoked and keep their prior state
// unchanged).
func Halt(reason Reason, state any) Result {
	return Result{halted: true, reason: reason, state: state}
}

// Halted reports whether this Result represents a Halt.
func (r Result) Halted() bool { return r.halted }

// Meta returns the carried meta. Only meaningful when !Halted().
func (r Result) Meta() Meta { return r.meta }

// State returns the stage's updated private state.
func (r Result) State() any { return r.state }

// Reason returns the halt reason. Only meaningful when Halted().
func (r Result) Reason() Reason { return r.reason }

// Adapter is the base interface every pipeline stage implements. Init
// builds the stage's private state from its typed options and the
// session context; it is called once per session, before the greeting is
// sent. A concrete Adapter additionally implements zero or more of the
// narrow hook interfaces below (HelloHook, AuthHook, MailHook, RcptHook,
// DataHook, Terminator, ReasonFormatter); the engine checks for each via a
// type assertion and treats an unimplemented hook as pass-through for that
// phase, per the spec's "optional callback becomes a method returning
// pass-through by default" redesign.
type Adapter interface {
	// Init constructs this stage's private state for a new session.
	Init(ctx SessionContext) (state any, err error)
}

// HelloHook participates in the helo phase (HELO/EHLO).
type HelloHook interface {
	Helo(domain string, meta Meta, state any) Result
}

// AuthHook participates in the auth phase (AUTH).
type AuthHook interface {
	Auth(username, credential string, meta Meta, state any) Result
}

// MailHook participates in the mail phase (MAIL FROM).
type MailHook interface {
	Mail(from string, meta Meta, state any) Result
}

// RcptHook participates in the rcpt phase (RCPT TO), once per recipient.
type RcptHook interface {
	Rcpt(to string, meta Meta, state any) Result
}

// DataHook participates in the data phase (end of DATA).
type DataHook interface {
	Data(raw []byte, meta Meta, state any) Result
}

// Terminator is invoked once per session on termination, in pipeline
// order, with the final meta and the stage's last known state. Return
// values are ignored by the engine.
type Terminator interface {
	Terminate(reason TerminationReason, meta Meta, state any)
}

// ReasonFormatter lets a stage render one of its own Reason values as a
// full SMTP reply line ("CODE ENH.STATUS.CODE text"). When a stage halts
// with a Reason this interface doesn't recognize, or the stage doesn't
// implement ReasonFormatter at all, the engine substitutes a default
// "550 <debug-printed reason>" reply.
type ReasonFormatter interface {
	FormatReason(reason Reason) (line string, ok bool)
}

// Factory builds a fresh Adapter instance from typed options. Each
// adapter kind registers exactly one Factory with a pipeline.Registry.
type Factory func(opts map[string]any) (Adapter, error)
