// Package session implements the per-connection SMTP protocol engine: the
// state machine, EHLO capability computation, STARTTLS handshake, DATA
// accumulation, and the pipeline phase-dispatch loop that drives every
// configured stage.Adapter through a connection's lifetime.
package session

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strings"
	"time"

	"feathermail/logging"
	"feathermail/smtp"
	"feathermail/stage"
)

// Options are the immutable, server-wide settings that shape every
// session's protocol behaviour.
type Options struct {
	// Hostname is the value advertised in the greeting and in HELO/EHLO
	// responses (server_hostname in the spec's greeting line).
	Hostname string
	// ServerName is the second token of the greeting line, typically a
	// product/server identity string.
	ServerName string
	// TLSMode is one of "always", "if_available", "never".
	TLSMode string
	// CertFile/KeyFile are used for STARTTLS; if empty, a self-signed
	// certificate is generated at handshake time.
	CertFile string
	KeyFile  string
	// MaxMessageSize caps DATA payloads in bytes and is advertised via
	// the SIZE capability.
	MaxMessageSize int
	// IdleTimeout bounds how long the engine will wait for the next
	// command line before treating the connection as dead.
	IdleTimeout time.Duration
}

// DefaultIdleTimeout is the suggested per-session idle bound.
const DefaultIdleTimeout = 5 * time.Minute

type stageEntry struct {
	adapter stage.Adapter
	state   any
}

// Session is one accepted connection's protocol engine. It is not safe
// for concurrent use; the server gives each connection its own goroutine
// and its own Session.
type Session struct {
	conn   net.Conn
	reader *bufio.Reader
	tp     *textproto.Reader
	writer *bufio.Writer

	opts   Options
	logger *logging.SMTPLogger

	state  State
	meta   stage.Meta
	stages []stageEntry

	sessionCount int

	dataBuf []byte
}

// New constructs a Session over conn. adapters is the pipeline snapshot
// captured by the listener at accept time; Init is called on each one
// immediately to produce this session's private per-stage state.
func New(conn net.Conn, adapters []stage.Adapter, opts Options, baseLogger logging.Logger, sessionCount int) (*Session, error) {
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}

	peerIP := ""
	if host, _, err := net.SplitHostPort(conn.RemoteAddr().String()); err == nil {
		peerIP = host
	}

	var logger *logging.SMTPLogger
	if baseLogger != nil {
		logger = logging.NewSMTPLogger(baseLogger, conn, opts.Hostname)
	}

	s := &Session{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		writer:       bufio.NewWriter(conn),
		opts:         opts,
		logger:       logger,
		state:        StateConnected,
		sessionCount: sessionCount,
		meta: stage.Meta{
			stage.KeyPeerIP: peerIP,
		},
	}
	s.tp = textproto.NewReader(s.reader)

	ctx := stage.SessionContext{PeerIP: peerIP, TLSActive: false, Hostname: opts.Hostname}
	s.stages = make([]stageEntry, len(adapters))
	for i, a := range adapters {
		st, err := a.Init(ctx)
		if err != nil {
			return nil, fmt.Errorf("session: stage init: %w", err)
		}
		s.stages[i] = stageEntry{adapter: a, state: st}
	}
	return s, nil
}

// Handle runs the command loop to completion, closing the connection
// before returning. It never returns an error; failures are logged and
// reflected in the termination reason passed to each stage's Terminate.
func (s *Session) Handle() {
	reason := stage.ReasonNormal
	defer func() {
		s.terminate(reason)
		_ = s.conn.Close()
	}()

	if s.logger != nil {
		port := 0
		if addr, ok := s.conn.LocalAddr().(*net.TCPAddr); ok {
			port = addr.Port
		}
		s.logger.LogConnection(port, s.opts.TLSMode == "always")
	}

	if err := s.greet(); err != nil {
		reason = stage.ReasonClientDisconnect
		return
	}
	s.state = StateGreeted

	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout)); err != nil {
			reason = stage.ReasonFatal
			return
		}

		line, err := s.tp.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				reason = stage.ReasonClientDisconnect
			} else {
				reason = stage.ReasonProtocolError
			}
			return
		}

		cmd, perr := smtp.ParseCommand(line)
		if perr != nil || !cmd.IsValid() {
			_ = s.reply("500 5.5.2 Command unrecognized")
			continue
		}
		if err := cmd.ValidateArgs(); err != nil {
			_ = s.reply("501 5.5.4 " + strings.TrimPrefix(err.Error(), "501 "))
			continue
		}
		if !isAllowedInState(cmd.Name, s.state) {
			_ = s.reply("503 5.5.1 Bad sequence of commands")
			continue
		}

		if s.logger != nil {
			s.logger.LogCommand(cmd.Name, cmd.Args, s.state.String())
		}

		s.dispatchCommand(cmd)

		if s.state == StateClosing {
			reason = stage.ReasonNormal
			return
		}
	}
}

func (s *Session) greet() error {
	line := fmt.Sprintf("220 %s %s ready %d", s.opts.Hostname, s.opts.ServerName, s.sessionCount)
	return s.reply(line)
}

func (s *Session) dispatchCommand(cmd *smtp.Command) {
	switch cmd.Name {
	case smtp.CmdHELO:
		s.handleHeloOrEhlo(cmd.Args[0], false)
	case smtp.CmdEHLO:
		s.handleHeloOrEhlo(cmd.Args[0], true)
	case smtp.CmdAUTH:
		s.handleAuth(cmd.Args)
	case smtp.CmdSTARTTLS:
		s.handleStartTLS()
	case smtp.CmdMAIL:
		s.handleMail(cmd.Args)
	case smtp.CmdRCPT:
		s.handleRcpt(cmd.Args)
	case smtp.CmdDATA:
		s.handleData()
	case smtp.CmdRSET:
		s.handleRset()
	case smtp.CmdNOOP:
		_ = s.reply("250 2.0.0 OK")
	case smtp.CmdVRFY:
		_ = s.reply("252 2.1.5 Not supported")
	case smtp.CmdQUIT:
		s.handleQuit()
	default:
		_ = s.reply("500 5.5.2 Command unrecognized")
	}
}

func (s *Session) handleQuit() {
	_ = s.reply("221 2.0.0 Bye")
	s.state = StateClosing
}

func (s *Session) handleRset() {
	s.resetTransaction()
	_ = s.reply("250 2.0.0 OK")
}

func (s *Session) terminate(reason stage.TerminationReason) {
	for _, e := range s.stages {
		if t, ok := e.adapter.(stage.Terminator); ok {
			t.Terminate(reason, s.meta, e.state)
		}
	}
	if s.logger != nil {
		s.logger.LogConnectionClosed(0)
	}
}

// reply writes a single-line response terminated by CRLF and flushes it.
func (s *Session) reply(line string) error {
	if s.logger != nil {
		s.logger.LogResponse(line, "")
	}
	if _, err := s.writer.WriteString(line + "\r\n"); err != nil {
		return err
	}
	return s.writer.Flush()
}

// replyMultiline writes an EHLO-style multi-line response: every line but
// the last uses "250-", the last uses "250 ".
func (s *Session) replyMultiline(code string, lines []string) error {
	for i, l := range lines {
		sep := "-"
		if i == len(lines)-1 {
			sep = " "
		}
		if _, err := s.writer.WriteString(code + sep + l + "\r\n"); err != nil {
			return err
		}
	}
	return s.writer.Flush()
}

// formatReason renders a stage halt as a full reply line, deferring to
// the halting adapter's own ReasonFormatter when available.
func formatReason(a stage.Adapter, reason stage.Reason) string {
	if rf, ok := a.(stage.ReasonFormatter); ok {
		if line, ok := rf.FormatReason(reason); ok {
			return line
		}
	}
	return fmt.Sprintf("550 %v", reason)
}
