package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewMailboxCreatesBaseDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "mail")
	mb, err := NewMailbox(dir)
	if err != nil {
		t.Fatalf("NewMailbox: %v", err)
	}
	if mb.BaseDir != dir {
		t.Fatalf("BaseDir = %q, want %q", mb.BaseDir, dir)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("expected base dir to exist: %v", err)
	}
}

func TestDeliverWritesUnderLocalPartDirectory(t *testing.T) {
	mb, err := NewMailbox(t.TempDir())
	if err != nil {
		t.Fatalf("NewMailbox: %v", err)
	}

	path, err := mb.Deliver("bob@example.com", []byte("Subject: hi\r\n\r\nhi\r\n"))
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if filepath.Base(filepath.Dir(path)) != "bob" {
		t.Fatalf("expected delivery under a 'bob' directory, got %s", path)
	}
	if !strings.HasSuffix(path, ".eml") {
		t.Fatalf("expected .eml suffix, got %s", path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading delivered file: %v", err)
	}
	if string(content) != "Subject: hi\r\n\r\nhi\r\n" {
		t.Fatalf("content mismatch: %q", content)
	}
}

func TestDeliverTwiceProducesDistinctFiles(t *testing.T) {
	mb, err := NewMailbox(t.TempDir())
	if err != nil {
		t.Fatalf("NewMailbox: %v", err)
	}

	p1, err := mb.Deliver("bob@example.com", []byte("one"))
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	p2, err := mb.Deliver("bob@example.com", []byte("two"))
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if p1 == p2 {
		t.Fatal("expected distinct delivery paths")
	}

	files, err := mb.List("bob@example.com")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 delivered files, got %d", len(files))
	}
}

func TestListEmptyRecipientReturnsNil(t *testing.T) {
	mb, err := NewMailbox(t.TempDir())
	if err != nil {
		t.Fatalf("NewMailbox: %v", err)
	}
	files, err := mb.List("nobody@example.com")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected no files, got %v", files)
	}
}
