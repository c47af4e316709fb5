// Package server binds the TCP listener and spawns one session per
// accepted connection, per spec.md's Listener/Server component.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"feathermail/config"
	"feathermail/logging"
	"feathermail/pipeline"
	"feathermail/session"
)

// DefaultShutdownTimeout bounds how long Shutdown waits for in-flight
// sessions to close on their own before giving up.
const DefaultShutdownTimeout = 10 * time.Second

// Server owns the listener and the set of in-flight sessions.
type Server struct {
	cfg      *config.ServerConfig
	loader   *config.Loader
	registry *pipeline.Registry
	logger   logging.Logger

	listener net.Listener
	ready    chan struct{}
	readyOne sync.Once

	sessions   map[*session.Session]struct{}
	sessionsMu sync.Mutex
	sessionsWG sync.WaitGroup

	sessionCount int64
	shuttingDown int32
}

// New constructs a Server. loader supplies the pipeline snapshot taken at
// each accept; registry builds each accepted connection's adapters from
// that snapshot.
func New(cfg *config.ServerConfig, loader *config.Loader, registry *pipeline.Registry, logger logging.Logger) *Server {
	return &Server{
		cfg:      cfg,
		loader:   loader,
		registry: registry,
		logger:   logger,
		sessions: make(map[*session.Session]struct{}),
		ready:    make(chan struct{}),
	}
}

// ListenAndServe binds the configured address/port and accepts
// connections until the listener is closed by Shutdown.
func (s *Server) ListenAndServe() error {
	addr := net.JoinHostPort(s.cfg.Address, fmt.Sprintf("%d", s.cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.readyOne.Do(func() { close(s.ready) })

	s.logger.Info("feathermail listening",
		logging.F("addr", addr), logging.F("domain", s.cfg.Domain))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.shuttingDown) == 1 {
				return nil
			}
			s.logger.Warn("accept failed", logging.F("err", err.Error()))
			continue
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	// Snapshot the pipeline spec (and therefore the adapter list) at
	// accept time. A hot reload that lands mid-session never affects a
	// session already running.
	spec := s.loader.Spec()
	adapters, err := spec.BuildAdapters(s.registry)
	if err != nil {
		s.logger.Error("building pipeline adapters for accepted connection", err)
		_ = conn.Close()
		return
	}

	count := atomic.AddInt64(&s.sessionCount, 1)

	opts := session.Options{
		Hostname:       s.cfg.Domain,
		ServerName:     s.cfg.Name,
		TLSMode:        s.cfg.SessionOptions.TLS,
		CertFile:       s.cfg.SessionOptions.CertFile,
		KeyFile:        s.cfg.SessionOptions.KeyFile,
		MaxMessageSize: s.cfg.SessionOptions.MaxMessageSize,
	}

	sess, err := session.New(conn, adapters, opts, s.logger, int(count))
	if err != nil {
		s.logger.Error("initialising session", err)
		_ = conn.Close()
		return
	}

	s.registerSession(sess)
	defer s.unregisterSession(sess)

	sess.Handle()
}

func (s *Server) registerSession(sess *session.Session) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	s.sessions[sess] = struct{}{}
	s.sessionsWG.Add(1)
}

func (s *Server) unregisterSession(sess *session.Session) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	delete(s.sessions, sess)
	s.sessionsWG.Done()
}

func (s *Server) activeSessionCount() int {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	return len(s.sessions)
}

// Addr blocks until ListenAndServe has bound its listener, then returns
// its address. Useful for tests and for logging the resolved port when
// cfg.Port is 0.
func (s *Server) Addr() net.Addr {
	<-s.ready
	return s.listener.Addr()
}

// Shutdown stops accepting new connections and waits for in-flight
// sessions to finish up to ctx's deadline. Sessions are not force-closed;
// the spec leaves abrupt-close semantics to the surrounding deployment,
// so Shutdown only stops new work and waits.
func (s *Server) Shutdown(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.shuttingDown, 0, 1) {
		return nil
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}

	if s.activeSessionCount() == 0 {
		return nil
	}

	done := make(chan struct{})
	go func() {
		s.sessionsWG.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
