// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pktlink

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Server accepts links and serves inbound requests with per-tag handlers.
// Every accepted connection is a full Conn, so handlers can also call back
// into the peer through Request.Conn.
type Server struct {
	reg  *Registry
	opts []Option
	log  zerolog.Logger

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	conns    map[*Conn]struct{}
	listener net.Listener

	nextSession atomic.Uint32
	closed      atomic.Bool
}

// NewServer returns a server without a listener. Use Listen for one that
// accepts connections itself, or feed it streams with ServeConn.
func NewServer(reg *Registry, opts ...Option) *Server {
	o := newOptions(opts)
	return &Server{
		reg:      reg,
		opts:     opts,
		log:      o.logger.With().Str("component", "pktlink-server").Logger(),
		handlers: make(map[string]HandlerFunc),
		conns:    make(map[*Conn]struct{}),
	}
}

// Listen creates a server listening on address ("host:port",
// "tcp://host:port" or "unix:///path").
func Listen(address string, reg *Registry, opts ...Option) (*Server, error) {
	l, err := listenTransport(address)
	if err != nil {
		return nil, err
	}
	s := NewServer(reg, opts...)
	s.listener = l
	return s, nil
}

// Handle installs h for inbound packets tagged tag on connections accepted
// from now on.
func (s *Server) Handle(tag string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[tag] = h
}

// Serve accepts connections until ctx is done or Close is called. It
// returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("pktlink: server has no listener")
	}
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	var delay time.Duration
	for {
		rwc, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			delay = min(max(2*delay, 5*time.Millisecond), time.Second)
			s.log.Warn().Err(err).Dur("retry_in", delay).Msg("accept failed")
			time.Sleep(delay)
			continue
		}
		delay = 0
		s.ServeConn(rwc)
	}
}

// ServeConn runs a link over rwc with the server's handlers. The connection
// is closed with the server.
func (s *Server) ServeConn(rwc io.ReadWriteCloser) *Conn {
	s.mu.Lock()
	opts := make([]Option, 0, len(s.opts)+len(s.handlers)+1)
	opts = append(opts, s.opts...)
	for tag, h := range s.handlers {
		opts = append(opts, WithHandler(tag, h))
	}
	s.mu.Unlock()
	opts = append(opts, withSession(s.nextSession.Add(1)))

	c := newConn(rwc, s.reg, newOptions(opts))

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		c.Close()
		return c
	}
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	c.start()

	c.log.Debug().Uint32("session", c.opts.sessionID).Msg("connection accepted")
	go func() {
		<-c.Done()
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
	}()
	return c
}

// Conns returns the number of open connections.
func (s *Server) Conns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Broadcast sends p uncorrelated to every open connection and returns the
// first error.
func (s *Server) Broadcast(ctx context.Context, p Packet) error {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var first error
	for _, c := range conns {
		if err := c.Send(ctx, p); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close stops accepting and closes every open connection.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed.Store(true)
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// Addr returns the listener address, or nil without a listener.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
