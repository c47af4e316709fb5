// Package storage implements local on-disk message delivery: one file per
// recipient, named by delivery time and a random suffix, under a
// per-recipient-local-part directory.
package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DirPermissions is applied to every recipient directory this package
// creates.
const DirPermissions = 0750

// FilePermissions is applied to every delivered message file.
const FilePermissions = 0600

// Mailbox delivers messages under a single base directory, one
// subdirectory per recipient local part.
type Mailbox struct {
	BaseDir string
}

// NewMailbox creates (if absent) and returns a Mailbox rooted at baseDir.
func NewMailbox(baseDir string) (*Mailbox, error) {
	if err := os.MkdirAll(baseDir, DirPermissions); err != nil {
		return nil, fmt.Errorf("storage: creating base directory: %w", err)
	}
	return &Mailbox{BaseDir: baseDir}, nil
}

// Deliver writes raw under BaseDir/<local-part of recipient>/<unix
// ts>-<rand>.eml, creating the recipient directory on first delivery. It
// returns the path written.
func (m *Mailbox) Deliver(recipient string, raw []byte) (string, error) {
	dir := filepath.Join(m.BaseDir, localPart(recipient))
	if err := os.MkdirAll(dir, DirPermissions); err != nil {
		return "", fmt.Errorf("storage: creating recipient directory: %w", err)
	}

	name := fmt.Sprintf("%d-%s.eml", time.Now().Unix(), randomSuffix())
	path := filepath.Join(dir, name)

	if err := writeFileAtomic(path, raw); err != nil {
		return "", fmt.Errorf("storage: writing message: %w", err)
	}
	return path, nil
}

func writeFileAtomic(path string, raw []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(FilePermissions); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func localPart(addr string) string {
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		return addr[:i]
	}
	return addr
}

func randomSuffix() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// List returns every delivered message path for recipient in file-name
// order: by delivery second, and by random suffix within one second.
func (m *Mailbox) List(recipient string) ([]string, error) {
	dir := filepath.Join(m.BaseDir, localPart(recipient))
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: listing %s: %w", dir, err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}
