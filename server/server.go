// File: server/server.go
// Package server runs the minimal accept path: read the HTTP/1.1 request,
// upgrade it, and drive the resulting session to completion.
// License: Apache-2.0
//
// Listener accounting, routing and TLS termination belong to the embedding
// application; this package only bridges accepted connections into
// sessions.

package server

import (
	"bufio"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/corewire/websock/api"
	"github.com/corewire/websock/pool"
	"github.com/corewire/websock/session"
	"github.com/corewire/websock/transport"
)

// handshakeTimeout bounds how long a fresh connection may take to present
// its upgrade request.
const handshakeTimeout = 10 * time.Second

// Config describes one server instance.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// Handler receives every connection's callbacks. Per-connection state
	// is threaded through results, so a single shared instance is fine.
	Handler api.Handler

	// HandlerOptions is passed opaquely to Handler.Init.
	HandlerOptions map[string]any

	// Logger for accept-path and session records. Nil disables logging.
	Logger *zap.Logger

	// UseEpoll selects the epoll transport backend where available;
	// connections with bytes pipelined behind the handshake fall back to
	// the portable pump.
	UseEpoll bool
}

// DefaultConfig returns a config listening on :8080 with logging disabled.
func DefaultConfig() *Config {
	return &Config{Addr: ":8080"}
}

// Server accepts connections and runs one session per upgrade.
type Server struct {
	cfg    *Config
	log    *zap.Logger
	pool   *pool.BytePool
	poller *transport.Poller

	ln net.Listener

	mu       sync.Mutex
	sessions map[string]sessionEntry

	closeOnce sync.Once
	closed    chan struct{}
}

// New builds a server; Serve starts accepting.
func New(cfg *Config) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Handler == nil {
		return nil, errors.New("server: config needs a handler")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		cfg:      cfg,
		log:      log,
		pool:     pool.NewBytePool(pool.DefaultChunkSize),
		sessions: make(map[string]sessionEntry),
		closed:   make(chan struct{}),
	}
	if cfg.UseEpoll {
		p, err := transport.NewPoller(s.pool)
		if err != nil {
			if !errors.Is(err, api.ErrNotSupported) {
				return nil, err
			}
			log.Warn("epoll backend unavailable, using portable transport")
		} else {
			s.poller = p
		}
	}
	return s, nil
}

// Addr reports the bound listen address, or nil before Serve has bound it.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve listens on the configured address and accepts until Close.
func (s *Server) Serve() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.log.Info("listening", zap.String("addr", ln.Addr().String()))

	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return nil
			default:
			}
			return err
		}
		go s.serveConn(nc)
	}
}

// serveConn reads the upgrade request off the raw connection and hands the
// byte channel to a session.
func (s *Server) serveConn(nc net.Conn) {
	_ = nc.SetReadDeadline(time.Now().Add(handshakeTimeout))
	br := bufio.NewReader(nc)
	req, err := http.ReadRequest(br)
	if err != nil {
		s.log.Debug("request parse failed", zap.Error(err))
		_ = nc.Close()
		return
	}
	_ = nc.SetReadDeadline(time.Time{})

	t, err := s.transportFor(nc, br)
	if err != nil {
		s.log.Debug("transport setup failed", zap.Error(err))
		_ = nc.Close()
		return
	}

	sess, err := session.Upgrade(t, req, s.cfg.Handler, session.Options{
		Logger:         s.log,
		Pool:           s.pool,
		HandlerOptions: s.cfg.HandlerOptions,
	})
	if err != nil {
		s.log.Debug("upgrade refused", zap.String("target", req.RequestURI), zap.Error(err))
		return
	}

	s.mu.Lock()
	s.sessions[sess.ID()] = sessionEntry{sess: sess, t: t}
	s.mu.Unlock()

	sess.Run()

	s.mu.Lock()
	delete(s.sessions, sess.ID())
	s.mu.Unlock()
}

// transportFor picks the epoll backend when possible. Bytes the client
// pipelined behind the handshake sit in the bufio reader and are invisible
// to the raw fd, so those connections use the portable pump instead.
func (s *Server) transportFor(nc net.Conn, br *bufio.Reader) (api.Transport, error) {
	if s.poller != nil && br.Buffered() == 0 {
		return s.poller.Adopt(nc)
	}
	if br.Buffered() > 0 {
		return transport.NewConn(prefixedConn{Conn: nc, r: io.MultiReader(br, nc)}, s.pool), nil
	}
	return transport.NewConn(nc, s.pool), nil
}

// prefixedConn replays bytes already pulled into the handshake reader
// before continuing with the socket.
type prefixedConn struct {
	net.Conn
	r io.Reader
}

func (p prefixedConn) Read(b []byte) (int, error) {
	return p.r.Read(b)
}

// sessionEntry keeps the transport next to its session so Close can tear
// down live connections.
type sessionEntry struct {
	sess *session.Session
	t    api.Transport
}

// Broadcast delivers info to every live session's mailbox.
func (s *Server) Broadcast(info any) {
	s.mu.Lock()
	entries := make([]sessionEntry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.Unlock()
	for _, e := range entries {
		_ = e.sess.Deliver(info)
	}
}

// Close stops accepting and tears down every live connection; their
// sessions observe the close and terminate. Errors are aggregated.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		ln := s.ln
		entries := make([]sessionEntry, 0, len(s.sessions))
		for _, e := range s.sessions {
			entries = append(entries, e)
		}
		s.mu.Unlock()

		if ln != nil {
			err = multierr.Append(err, ln.Close())
		}
		for _, e := range entries {
			err = multierr.Append(err, e.t.Close())
		}
		if s.poller != nil {
			err = multierr.Append(err, s.poller.Close())
		}
	})
	return err
}
