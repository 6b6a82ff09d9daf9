// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pktlink

import (
	"encoding/binary"
	"net"
	"testing"
	"time"
)

type Ping struct{}

func (Ping) Tag() string { return "Ping" }

type Echo struct {
	Seq  uint32
	Text string
}

func (Echo) Tag() string { return "Echo" }

type EchoReply struct {
	Seq  uint32
	Text string
}

func (EchoReply) Tag() string { return "EchoReply" }

type Notice struct {
	Text string
}

func (Notice) Tag() string { return "Notice" }

// Unencodable has a field kind the value codec rejects.
type Unencodable struct {
	M map[string]int
}

func (Unencodable) Tag() string { return "Unencodable" }

func testRegistry() *Registry {
	return MustRegistry(
		EntryFor[Ping](),
		EntryFor[Echo](),
		EntryFor[EchoReply](),
		EntryFor[Notice](),
	)
}

// rawFrame builds a frame around an already encoded payload.
func rawFrame(id uint32, payload []byte) []byte {
	b := AppendUvarint32(nil, uint32(len(payload)))
	b = binary.BigEndian.AppendUint32(b, id)
	return append(b, payload...)
}

func mustFrame(t testing.TB, id uint32, p Packet) []byte {
	t.Helper()
	b, err := AppendFrame(nil, id, p)
	if err != nil {
		t.Fatalf("AppendFrame: %v", err)
	}
	return b
}

// connPair links two Conns over an in-memory pipe. The first is the
// calling side, the second answers.
func connPair(t *testing.T, callerOpts, peerOpts []Option) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	reg := testRegistry()
	peer := NewConn(a, reg, peerOpts...)
	caller := NewConn(b, reg, callerOpts...)
	t.Cleanup(func() {
		caller.Close()
		peer.Close()
	})
	return caller, peer
}

// rawPeer drives the far end of a pipe byte by byte, for tests that need
// control over what goes on the wire.
type rawPeer struct {
	conn   net.Conn
	frames *FrameBuffer
	chunk  []byte
}

func newRawPeer(t *testing.T, opts ...Option) (*Conn, *rawPeer) {
	t.Helper()
	a, b := net.Pipe()
	reg := testRegistry()
	c := NewConn(b, reg, opts...)
	p := &rawPeer{conn: a, frames: NewFrameBuffer(reg, DefaultMaxFrameSize), chunk: make([]byte, 4096)}
	t.Cleanup(func() {
		c.Close()
		a.Close()
	})
	return c, p
}

func (p *rawPeer) next() (Frame, error) {
	for {
		f, ok, err := p.frames.Next()
		if err != nil {
			return Frame{}, err
		}
		if ok {
			return f, nil
		}
		n, err := p.conn.Read(p.chunk)
		if err != nil {
			return Frame{}, err
		}
		p.frames.Write(p.chunk[:n])
	}
}

func (p *rawPeer) write(b []byte) error {
	_, err := p.conn.Write(b)
	return err
}

func (p *rawPeer) send(id uint32, pkt Packet) error {
	b, err := AppendFrame(nil, id, pkt)
	if err != nil {
		return err
	}
	return p.write(b)
}

func waitDone(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("connection did not end")
	}
}
