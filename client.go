// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pktlink

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Defaults applied when the matching option is not given.
const (
	DefaultCallTimeout    = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
)

const tracerName = "github.com/luxfi/pktlink"

// Request is an inbound packet handed to a HandlerFunc.
type Request struct {
	// ID is the correlation id the response will carry. 0 means the peer
	// expects no response.
	ID     uint32
	Packet Packet
	Conn   *Conn
}

// HandlerFunc serves inbound packets of one tag. The returned packet is sent
// back with the request's correlation id; an error is sent as a Fault.
// Handlers for uncorrelated packets may return nil, nil.
type HandlerFunc func(ctx context.Context, req *Request) (Packet, error)

// HandleAs adapts fn, which takes the concrete request type, to a
// HandlerFunc. A request of any other type is answered with a fault.
func HandleAs[P Packet](fn func(ctx context.Context, req *Request, p P) (Packet, error)) HandlerFunc {
	return func(ctx context.Context, req *Request) (Packet, error) {
		p, err := Cast[P](req.Packet)
		if err != nil {
			return nil, err
		}
		return fn(ctx, req, p)
	}
}

// Listener observes every decoded inbound frame. Listeners run on the read
// goroutine and must not block.
type Listener func(f Frame)

// Option configures a Conn. Options given to a Server apply to every
// connection it accepts.
type Option func(*options)

type options struct {
	logger         zerolog.Logger
	metrics        *Metrics
	tracer         trace.Tracer
	callTimeout    time.Duration
	writeTimeout   time.Duration
	connectTimeout time.Duration
	maxFrameSize   int
	handlers       map[string]HandlerFunc

	// set by Server
	sessionID      uint32
	replyUnhandled bool
}

func newOptions(opts []Option) options {
	o := options{
		logger:         zerolog.Nop(),
		callTimeout:    DefaultCallTimeout,
		connectTimeout: DefaultConnectTimeout,
		maxFrameSize:   DefaultMaxFrameSize,
		handlers:       make(map[string]HandlerFunc),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	return o
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics reports frame and call activity to m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracer sets the tracer used for call and handler spans. The default is
// the global otel tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithCallTimeout bounds how long Call waits for a response. 0 disables the
// bound; the caller's context still applies.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.callTimeout = d }
}

// WithWriteTimeout sets a write deadline on transports that support one.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.writeTimeout = d }
}

// WithConnectTimeout bounds transport setup plus the handshake in Dial.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) { o.connectTimeout = d }
}

// WithMaxFrameSize bounds the payload length accepted from the peer.
// n <= 0 removes the bound.
func WithMaxFrameSize(n int) Option {
	return func(o *options) { o.maxFrameSize = n }
}

// WithHandler installs h for inbound packets tagged tag before the read
// loop starts, so no early request can miss it.
func WithHandler(tag string, h HandlerFunc) Option {
	return func(o *options) { o.handlers[tag] = h }
}

func withSession(id uint32) Option {
	return func(o *options) {
		o.sessionID = id
		o.replyUnhandled = true
	}
}
