// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pktlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	readChunkSize = 32 * 1024
	maxKeptWrite  = 64 * 1024
)

// Conn is one end of a packet link. Any number of goroutines may call,
// send and subscribe concurrently; a single goroutine owns the read side
// for the lifetime of the connection.
type Conn struct {
	rwc  io.ReadWriteCloser
	reg  *Registry
	opts options
	log  zerolog.Logger

	writeMu sync.Mutex
	wbuf    []byte

	pending *pendingTable

	mu         sync.Mutex
	listeners  []listenerEntry
	listenerID uint64
	handlers   map[string]HandlerFunc

	welcomeID atomic.Uint32

	ctx       context.Context // handler context, canceled on shutdown
	cancel    context.CancelFunc
	closing   atomic.Bool // Close was called
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
	err       error // valid once done is closed
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// NewConn starts a link over an established byte stream. It does not
// perform the handshake; see Handshake.
func NewConn(rwc io.ReadWriteCloser, reg *Registry, opts ...Option) *Conn {
	c := newConn(rwc, reg, newOptions(opts))
	c.start()
	return c
}

func newConn(rwc io.ReadWriteCloser, reg *Registry, o options) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		rwc:      rwc,
		reg:      reg,
		opts:     o,
		pending:  newPendingTable(),
		handlers: make(map[string]HandlerFunc, len(o.handlers)+1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	logCtx := o.logger.With().Str("component", "pktlink")
	if ra, ok := rwc.(interface{ RemoteAddr() net.Addr }); ok && ra.RemoteAddr() != nil {
		logCtx = logCtx.Str("remote", ra.RemoteAddr().String())
	}
	c.log = logCtx.Logger()

	c.handlers[TagHello] = c.answerHello
	for tag, h := range o.handlers {
		c.handlers[tag] = h
	}
	return c
}

func (c *Conn) start() {
	go c.readLoop()
}

func (c *Conn) answerHello(context.Context, *Request) (Packet, error) {
	return Welcome{APIID: c.opts.sessionID}, nil
}

// Call sends req with a fresh correlation id and waits for the packet the
// peer answers with. A Fault answer is returned as *RemoteError.
func (c *Conn) Call(ctx context.Context, req Packet) (Packet, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil packet", ErrUnsupportedType)
	}
	tag := req.Tag()
	ctx, span := c.opts.tracer.Start(ctx, "pktlink.Call "+tag,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("pktlink.tag", tag)),
	)
	defer span.End()

	start := time.Now()
	c.opts.metrics.callStarted()
	resp, err := c.call(ctx, req)
	c.opts.metrics.callFinished(tag, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("pktlink.response_tag", resp.Tag()))
	return resp, nil
}

func (c *Conn) call(ctx context.Context, req Packet) (Packet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, ch, err := c.pending.register()
	if err != nil {
		return nil, err
	}
	if err := c.writeFrame(id, req); err != nil {
		c.pending.remove(id)
		return nil, err
	}

	var timeout <-chan time.Time
	if c.opts.callTimeout > 0 {
		timer := time.NewTimer(c.opts.callTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-ch:
		return r.unwrap()
	case <-ctx.Done():
		c.pending.remove(id)
		return nil, ctx.Err()
	case <-timeout:
		c.pending.remove(id)
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, req.Tag(), c.opts.callTimeout)
	}
}

func (r result) unwrap() (Packet, error) {
	if r.err != nil {
		return nil, r.err
	}
	if f, ok := r.packet.(Fault); ok {
		return nil, &RemoteError{Code: f.Code, Message: f.Message}
	}
	return r.packet, nil
}

// CallAs is Call followed by the checked conversion to T.
func CallAs[T Packet](ctx context.Context, c *Conn, req Packet) (T, error) {
	resp, err := c.Call(ctx, req)
	if err != nil {
		var zero T
		return zero, err
	}
	return Cast[T](resp)
}

// Send writes p with correlation id 0. No response is expected.
func (c *Conn) Send(ctx context.Context, p Packet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.writeFrame(0, p)
}

// Subscribe registers fn for every inbound frame, correlated or not. The
// returned function removes it.
func (c *Conn) Subscribe(fn Listener) (unsubscribe func()) {
	c.mu.Lock()
	c.listenerID++
	id := c.listenerID
	c.listeners = append(slices.Clip(c.listeners), listenerEntry{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.listeners = slices.DeleteFunc(slices.Clone(c.listeners), func(l listenerEntry) bool {
				return l.id == id
			})
		})
	}
}

// Handle installs h for inbound packets tagged tag, replacing any previous
// handler. A nil h removes it.
func (c *Conn) Handle(tag string, h HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h == nil {
		delete(c.handlers, tag)
		return
	}
	c.handlers[tag] = h
}

// WelcomeID returns the session id the peer assigned during Handshake.
func (c *Conn) WelcomeID() uint32 {
	return c.welcomeID.Load()
}

// Pending returns the number of calls waiting for a response.
func (c *Conn) Pending() int {
	return c.pending.len()
}

// Done is closed once the connection has ended.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil while it is open. The error
// wraps ErrClosed.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close ends the connection. Calls still waiting fail with ErrClosed.
func (c *Conn) Close() error {
	c.closing.Store(true)
	c.shutdown(ErrClosed)
	return c.closeErr
}

func (c *Conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err := ErrClosed
		if !errors.Is(cause, ErrClosed) {
			err = fmt.Errorf("%w: %w", ErrClosed, cause)
		}
		c.err = err
		c.closeErr = c.rwc.Close()
		c.cancel()
		c.pending.failAll(err)
		close(c.done)

		if errors.Is(cause, io.EOF) || errors.Is(cause, ErrClosed) {
			c.log.Debug().Err(cause).Msg("connection closed")
		} else {
			c.log.Info().Err(cause).Msg("connection ended")
		}
	})
}

func (c *Conn) writeFrame(id uint32, p Packet) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed.Load() {
		return ErrClosed
	}

	buf, err := AppendFrame(c.wbuf[:0], id, p)
	if err != nil {
		return err
	}
	if cap(buf) <= maxKeptWrite {
		c.wbuf = buf
	}

	if c.opts.writeTimeout > 0 {
		if d, ok := c.rwc.(interface{ SetWriteDeadline(time.Time) error }); ok {
			_ = d.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout))
		}
	}
	if _, err := c.rwc.Write(buf); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	if f, ok := c.rwc.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("%w: %w", ErrSendFailed, err)
		}
	}
	c.opts.metrics.frameSent(p.Tag())
	return nil
}

func (c *Conn) readLoop() {
	c.opts.metrics.connOpened()
	defer c.opts.metrics.connClosed()

	frames := NewFrameBuffer(c.reg, c.opts.maxFrameSize)
	chunk := make([]byte, readChunkSize)
	var err error
	for err == nil {
		n, rerr := c.rwc.Read(chunk)
		if n > 0 {
			frames.Write(chunk[:n])
			err = c.drain(frames)
		}
		if err == nil {
			err = rerr
		}
	}
	if c.closing.Load() {
		err = ErrClosed
	}
	c.shutdown(err)
}

// drain dispatches every complete frame in frames. Only errors that leave
// the stream unusable are returned.
func (c *Conn) drain(frames *FrameBuffer) error {
	for {
		f, ok, err := frames.Next()
		var frameErr *FrameError
		switch {
		case errors.As(err, &frameErr):
			c.rejectFrame(frameErr)
		case err != nil:
			c.log.Error().Err(err).Msg("unrecoverable stream error")
			return err
		case !ok:
			return nil
		default:
			c.dispatch(f)
		}
	}
}

func (c *Conn) rejectFrame(fe *FrameError) {
	c.opts.metrics.decodeError()
	c.log.Warn().Uint32("id", fe.ID).Str("tag", fe.Tag).Err(fe.Err).Msg("dropping undecodable frame")
	if fe.ID == 0 {
		return
	}
	if c.pending.resolve(fe.ID, result{err: fe}) {
		return
	}
	if c.opts.replyUnhandled {
		c.reply(fe.ID, Fault{Code: FaultBadRequest, Message: fe.Error()})
	}
}

func (c *Conn) dispatch(f Frame) {
	tag := f.Packet.Tag()
	c.opts.metrics.frameReceived(tag)
	c.log.Trace().Uint32("id", f.ID).Str("tag", tag).Msg("frame received")

	resolved := f.ID != 0 && c.pending.resolve(f.ID, result{packet: f.Packet})

	c.mu.Lock()
	listeners := c.listeners
	h := c.handlers[tag]
	c.mu.Unlock()

	for _, l := range listeners {
		l.fn(f)
	}
	if resolved {
		return
	}

	switch {
	case h != nil:
		go c.serve(h, f)
	case f.ID != 0 && c.opts.replyUnhandled && tag != TagWelcome && tag != TagFault:
		c.reply(f.ID, Fault{Code: FaultNoHandler, Message: "no handler for " + tag})
	}
}

func (c *Conn) serve(h HandlerFunc, f Frame) {
	tag := f.Packet.Tag()
	ctx, span := c.opts.tracer.Start(c.ctx, "pktlink.Handle "+tag,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("pktlink.tag", tag)),
	)
	defer span.End()

	resp, err := h(ctx, &Request{ID: f.ID, Packet: f.Packet, Conn: c})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if f.ID == 0 {
		if err != nil {
			c.log.Warn().Str("tag", tag).Err(err).Msg("handler failed")
		}
		return
	}

	switch {
	case err != nil:
		resp = faultFor(err)
	case resp == nil:
		resp = Fault{Code: FaultBadResponse, Message: "handler for " + tag + " returned no response"}
	}
	c.reply(f.ID, resp)
}

func (c *Conn) reply(id uint32, resp Packet) {
	err := c.writeFrame(id, resp)
	if err == nil || errors.Is(err, ErrClosed) {
		return
	}
	if !errors.Is(err, ErrSendFailed) {
		// The response could not be encoded; tell the caller instead of
		// leaving it to time out.
		err = c.writeFrame(id, Fault{Code: FaultBadResponse, Message: err.Error()})
	}
	if err != nil {
		c.log.Warn().Uint32("id", id).Str("tag", resp.Tag()).Err(err).Msg("reply failed")
	}
}

func faultFor(err error) Fault {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return Fault{Code: remote.Code, Message: remote.Message}
	}
	return Fault{Code: FaultHandler, Message: err.Error()}
}

func outcome(err error) string {
	var remote *RemoteError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.As(err, &remote):
		return "remote"
	default:
		return "error"
	}
}
