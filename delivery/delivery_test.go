package delivery

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"feathermail/stage"
)

func TestLocalFileDeliversOnePerRecipient(t *testing.T) {
	dir := t.TempDir()
	a, err := newLocalFile(map[string]any{"directory": dir})
	if err != nil {
		t.Fatalf("newLocalFile: %v", err)
	}
	lf := a.(*LocalFile)

	meta := stage.Meta{}.WithTo("bob@example.com").WithTo("carol@example.com")
	raw := []byte("Subject: hi\r\n\r\nbody\r\n")

	result := lf.Data(raw, meta, nil)
	if result.Halted() {
		t.Fatalf("expected delivery to succeed, halted with %v", result.Reason())
	}

	for _, local := range []string{"bob", "carol"} {
		entries, err := os.ReadDir(filepath.Join(dir, local))
		if err != nil {
			t.Fatalf("reading %s dir: %v", local, err)
		}
		if len(entries) != 1 {
			t.Fatalf("expected 1 delivered file for %s, got %d", local, len(entries))
		}
		if !strings.HasSuffix(entries[0].Name(), ".eml") {
			t.Fatalf("expected .eml file, got %s", entries[0].Name())
		}
		content, err := os.ReadFile(filepath.Join(dir, local, entries[0].Name()))
		if err != nil {
			t.Fatalf("reading delivered file: %v", err)
		}
		if string(content) != string(raw) {
			t.Fatalf("content mismatch for %s: %q", local, content)
		}
	}
}

func TestLocalFileRequiresDirectory(t *testing.T) {
	if _, err := newLocalFile(map[string]any{}); err == nil {
		t.Fatal("expected error when directory is missing")
	}
}

func TestLMTPHaltsWithTransientReason(t *testing.T) {
	a, err := newLMTP(map[string]any{"address": "127.0.0.1:24"})
	if err != nil {
		t.Fatalf("newLMTP: %v", err)
	}
	backend := a.(notImplementedBackend)

	result := backend.Data([]byte("body"), stage.Meta{}.WithTo("bob@example.com"), nil)
	if !result.Halted() {
		t.Fatal("expected LMTP stub to halt")
	}
	line, ok := backend.FormatReason(result.Reason())
	if !ok {
		t.Fatal("expected FormatReason to recognize its own reason")
	}
	if !strings.HasPrefix(line, "451 ") {
		t.Fatalf("expected a 451 transient reply, got %q", line)
	}
}

func TestSMTPForwardHaltsWithTransientReason(t *testing.T) {
	a, err := newSMTPForward(map[string]any{"address": "127.0.0.1:25"})
	if err != nil {
		t.Fatalf("newSMTPForward: %v", err)
	}
	backend := a.(notImplementedBackend)

	result := backend.Data([]byte("body"), stage.Meta{}.WithTo("bob@example.com"), nil)
	if !result.Halted() {
		t.Fatal("expected SMTPForward stub to halt")
	}
	if _, ok := backend.FormatReason(result.Reason()); !ok {
		t.Fatal("expected FormatReason to recognize its own reason")
	}
}
