package stages

import (
	"testing"

	"feathermail/stage"
)

func TestMailLoggerNeverHalts(t *testing.T) {
	a, err := newMailLogger(map[string]any{"output": "stdout", "level": "error"})
	if err != nil {
		t.Fatalf("newMailLogger: %v", err)
	}
	ml := a.(*MailLogger)
	state, err := ml.Init(stage.SessionContext{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	meta := stage.Meta{}
	if ml.Helo("x", meta, state).Halted() {
		t.Fatal("MailLogger must never halt")
	}
	if ml.Auth("user", "pass", meta, state).Halted() {
		t.Fatal("MailLogger must never halt")
	}
	if ml.Mail("a@example.com", meta, state).Halted() {
		t.Fatal("MailLogger must never halt")
	}
	if ml.Rcpt("b@example.com", meta, state).Halted() {
		t.Fatal("MailLogger must never halt")
	}
	if ml.Data([]byte("body"), meta, state).Halted() {
		t.Fatal("MailLogger must never halt")
	}
	ml.Terminate(stage.ReasonNormal, meta, state)
}

func TestMailLoggerSessionIDsAreDistinctAcrossSessions(t *testing.T) {
	a, err := newMailLogger(map[string]any{"output": "stdout", "level": "error"})
	if err != nil {
		t.Fatalf("newMailLogger: %v", err)
	}
	ml := a.(*MailLogger)

	s1, _ := ml.Init(stage.SessionContext{})
	s2, _ := ml.Init(stage.SessionContext{})
	id1 := s1.(*mailLoggerState).sessionID
	id2 := s2.(*mailLoggerState).sessionID
	if id1 == id2 {
		t.Fatal("expected distinct session ids across sessions")
	}
	if len(id1) != 8 {
		t.Fatalf("expected 8-hex session id, got %q", id1)
	}
}
