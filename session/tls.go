package session

import (
	"crypto/tls"

	"feathermail/stage"
)

// handleStartTLS performs the handshake and, on success, resets
// capability state: helo is cleared and the session drops back to
// GREETED (or AUTHED). A later MAIL FROM is not refused when the client
// skips the new EHLO. A failed
// handshake terminates the connection, matching the spec's "a failed
// handshake terminates the connection".
func (s *Session) handleStartTLS() {
	if s.opts.TLSMode != "if_available" && s.opts.TLSMode != "always" {
		_ = s.reply("454 4.7.0 TLS not available")
		return
	}
	if s.meta.TLSActive() {
		_ = s.reply("454 4.7.0 TLS already active")
		return
	}

	cert, err := s.loadOrGenerateCertificate()
	if err != nil {
		_ = s.reply("454 4.7.0 TLS not available due to temporary reason")
		return
	}

	if err := s.reply("220 Ready to start TLS"); err != nil {
		s.state = StateClosing
		return
	}

	tlsConn := tls.Server(s.conn, &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12})
	if err := tlsConn.Handshake(); err != nil {
		if s.logger != nil {
			s.logger.LogTLSHandshake(false, "", "", err)
		}
		s.state = StateClosing
		return
	}
	if s.logger != nil {
		cs := tlsConn.ConnectionState()
		s.logger.LogTLSHandshake(true, tlsVersionName(cs.Version), tlsCipherName(cs.CipherSuite), nil)
	}

	s.conn = tlsConn
	s.reader.Reset(tlsConn)
	s.writer.Reset(tlsConn)

	// Capability state resets: clear helo and drop back to GREETED (or
	// AUTHED) with tls_active now true.
	s.meta = stage.Meta{
		stage.KeyPeerIP:        s.meta.PeerIP().String(),
		stage.KeyTLSActive:     true,
		stage.KeyAuthenticated: s.meta.Authenticated(),
		stage.KeyUser:          s.meta.User(),
	}
	if s.meta.Authenticated() {
		s.state = StateAuthed
	} else {
		s.state = StateGreeted
	}
}

func (s *Session) loadOrGenerateCertificate() (tls.Certificate, error) {
	if s.opts.CertFile != "" && s.opts.KeyFile != "" {
		return tls.LoadX509KeyPair(s.opts.CertFile, s.opts.KeyFile)
	}
	return generateSelfSignedCert(s.opts.Hostname)
}

func tlsVersionName(v uint16) string {
	switch v {
	case tls.VersionTLS12:
		return "TLS1.2"
	case tls.VersionTLS13:
		return "TLS1.3"
	default:
		return "unknown"
	}
}

func tlsCipherName(id uint16) string {
	return tls.CipherSuiteName(id)
}
