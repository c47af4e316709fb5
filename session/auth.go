package session

import (
	"encoding/base64"
	"strings"
)

// handleAuth drives the AUTH PLAIN / AUTH LOGIN SASL exchange over the
// session's own buffered reader (never a fresh one over the raw
// connection, which would drop anything already buffered) and then
// dispatches the auth phase with the extracted username/password.
func (s *Session) handleAuth(args []string) {
	mechanism := strings.ToUpper(args[0])

	var username, password string
	var err error

	switch mechanism {
	case "PLAIN":
		username, password, err = s.authPlain(args)
	case "LOGIN":
		username, password, err = s.authLogin(args)
	default:
		_ = s.reply("504 5.5.4 Unrecognized authentication mechanism")
		return
	}
	if err != nil {
		_ = s.reply("501 5.5.4 Authentication failed: malformed response")
		return
	}

	ok, reason, haltedAt := s.dispatchAuth(username, password)
	if s.logger != nil {
		s.logger.LogAuthentication(mechanism, username, ok)
	}
	if !ok {
		_ = s.reply(formatReason(haltedAt, reason))
		return
	}
	if s.meta.Authenticated() {
		s.state = StateAuthed
	}
	_ = s.reply("235 2.7.0 Authentication successful")
}

func (s *Session) authPlain(args []string) (username, password string, err error) {
	var initial string
	if len(args) >= 2 {
		initial = args[1]
	} else {
		if err := s.reply("334 "); err != nil {
			return "", "", err
		}
		line, err := s.tp.ReadLine()
		if err != nil {
			return "", "", err
		}
		initial = strings.TrimSpace(line)
	}

	decoded, err := base64.StdEncoding.DecodeString(initial)
	if err != nil {
		return "", "", err
	}
	parts := strings.SplitN(string(decoded), "\x00", 3)
	if len(parts) != 3 {
		return "", "", errMalformedAuth
	}
	return parts[1], parts[2], nil
}

func (s *Session) authLogin(args []string) (username, password string, err error) {
	var userB64 string
	if len(args) >= 2 {
		userB64 = args[1]
	} else {
		if err := s.reply("334 " + base64.StdEncoding.EncodeToString([]byte("Username:"))); err != nil {
			return "", "", err
		}
		line, err := s.tp.ReadLine()
		if err != nil {
			return "", "", err
		}
		userB64 = strings.TrimSpace(line)
	}
	userBytes, err := base64.StdEncoding.DecodeString(userB64)
	if err != nil {
		return "", "", err
	}

	if err := s.reply("334 " + base64.StdEncoding.EncodeToString([]byte("Password:"))); err != nil {
		return "", "", err
	}
	passLine, err := s.tp.ReadLine()
	if err != nil {
		return "", "", err
	}
	passBytes, err := base64.StdEncoding.DecodeString(strings.TrimSpace(passLine))
	if err != nil {
		return "", "", err
	}
	return string(userBytes), string(passBytes), nil
}

var errMalformedAuth = malformedAuthError{}

type malformedAuthError struct{}

func (malformedAuthError) Error() string { return "malformed AUTH PLAIN response" }
