package server

import (
	"bufio"
	"context"
	"net"
	"net/textproto"
	"os"
	"testing"
	"time"

	"feathermail/config"
	"feathermail/logging"
	"feathermail/pipeline"
	"feathermail/stage"
)

type passthroughAdapter struct{}

func (passthroughAdapter) Init(stage.SessionContext) (any, error) { return nil, nil }

func testRegistry() *pipeline.Registry {
	r := pipeline.NewRegistry()
	r.Register("noop", func(map[string]any) (stage.Adapter, error) {
		return passthroughAdapter{}, nil
	})
	return r
}

func writeSpecFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/pipeline.yaml"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing pipeline file: %v", err)
	}
	return path
}

func TestServerAcceptsAndGreets(t *testing.T) {
	registry := testRegistry()
	path := writeSpecFile(t, "- kind: noop\n  opts: {}\n")
	loader, err := config.NewLoader(path, registry, nil)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	defer loader.Close()

	cfg := &config.ServerConfig{}
	cfg.EnsureDefaults()
	cfg.Address = "127.0.0.1"
	cfg.Port = 0 // not used directly; we dial the listener manually below

	logger := logging.NewStdoutLogger(&logging.LogConfig{Level: logging.ERROR, Format: "text", Output: "stdout"})

	srv := New(cfg, loader, registry, logger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv.listener = ln
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.handle(conn)
		}
	}()
	defer ln.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	tp := textproto.NewReader(bufio.NewReader(conn))
	line, err := tp.ReadLine()
	if err != nil {
		t.Fatalf("reading greeting: %v", err)
	}
	if len(line) < 3 || line[:3] != "220" {
		t.Fatalf("greeting = %q, want 220 prefix", line)
	}
}

func TestShutdownStopsAcceptingWithNoSessions(t *testing.T) {
	registry := testRegistry()
	path := writeSpecFile(t, "- kind: noop\n  opts: {}\n")
	loader, err := config.NewLoader(path, registry, nil)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	defer loader.Close()

	cfg := &config.ServerConfig{}
	cfg.EnsureDefaults()
	logger := logging.NewStdoutLogger(&logging.LogConfig{Level: logging.ERROR, Format: "text", Output: "stdout"})
	srv := New(cfg, loader, registry, logger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv.listener = ln

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
