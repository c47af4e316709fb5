package session

import (
	"bytes"
	"errors"
	"time"

	"feathermail/stage"
)

// formatHaltError turns a stage halt into an error value for the storage
// logging path, which wants an error rather than a reply line.
func formatHaltError(a stage.Adapter, reason stage.Reason) error {
	return errors.New(formatReason(a, reason))
}

func (s *Session) handleData() {
	if err := s.reply("354 End data with <CR><LF>.<CR><LF>"); err != nil {
		s.state = StateClosing
		return
	}
	s.state = StateData

	// ReadDotBytes handles the canonical "<CR><LF>.<CR><LF>" terminator
	// and leading-dot unstuffing in one pass. It also turns every CRLF
	// into a bare LF, so the CRLF line endings are restored afterwards.
	raw, err := s.tp.ReadDotBytes()
	if err != nil {
		s.state = StateClosing
		return
	}
	raw = bytes.ReplaceAll(raw, []byte("\n"), []byte("\r\n"))

	if len(raw) > s.opts.MaxMessageSize {
		_ = s.reply("552 5.3.4 Message size exceeds fixed limit")
		s.resetTransaction()
		return
	}

	from, to := s.meta.From(), s.meta.To()
	if s.logger != nil {
		s.logger.LogMessageStart(from, to)
	}
	start := time.Now()

	ok, reason, haltedAt := s.dispatchData(raw)
	if !ok {
		if s.logger != nil {
			s.logger.LogMessageStorageError(from, to, len(raw), "pipeline", formatHaltError(haltedAt, reason))
		}
		_ = s.reply(formatReason(haltedAt, reason))
		s.resetTransaction()
		return
	}

	if s.logger != nil {
		s.logger.LogMessageStored(from, to, len(raw), "pipeline", time.Since(start))
	}
	_ = s.reply("250 2.0.0 OK: message accepted")
	s.resetTransaction()
}

// resetTransaction clears the envelope (from/to/mailbox) while keeping
// authentication and TLS state, matching the end-of-DATA and RSET
// transitions back to GREETED/AUTHED.
func (s *Session) resetTransaction() {
	kept := stage.Meta{
		stage.KeyPeerIP:        s.meta.PeerIP().String(),
		stage.KeyHelo:          s.meta.Helo(),
		stage.KeyTLSActive:     s.meta.TLSActive(),
		stage.KeyAuthenticated: s.meta.Authenticated(),
		stage.KeyUser:          s.meta.User(),
	}
	s.meta = kept
	if s.meta.Authenticated() {
		s.state = StateAuthed
	} else {
		s.state = StateGreeted
	}
}
