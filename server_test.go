// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pktlink

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func startServer(t *testing.T, address string) *Server {
	t.Helper()
	server, err := Listen(address, testRegistry())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	server.Handle("Echo", echoHandler)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-served; err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	return server
}

func TestServerRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server := startServer(t, "127.0.0.1:0")

	client, err := Dial(ctx, server.Addr().String(), testRegistry())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if client.WelcomeID() == 0 {
		t.Error("handshake assigned no session id")
	}
	resp, err := CallAs[EchoReply](ctx, client, Echo{Seq: 1, Text: "abc"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Text != "ABC" {
		t.Errorf("got %q, want %q", resp.Text, "ABC")
	}
}

func TestServerSessionIDs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server := startServer(t, "tcp://127.0.0.1:0")
	addr := "tcp://" + server.Addr().String()

	var ids []uint32
	for range 3 {
		c, err := Dial(ctx, addr, testRegistry())
		if err != nil {
			t.Fatalf("Dial: %v", err)
		}
		defer c.Close()
		ids = append(ids, c.WelcomeID())
	}
	slices.Sort(ids)
	if ids = slices.Compact(ids); len(ids) != 3 {
		t.Errorf("session ids not unique: %v", ids)
	}
}

func TestServerHandlerCallsBack(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server := startServer(t, "127.0.0.1:0")
	server.Handle("Ping", func(ctx context.Context, req *Request) (Packet, error) {
		if err := req.Conn.Send(ctx, Notice{Text: "opened"}); err != nil {
			return nil, err
		}
		return Ping{}, nil
	})

	client, err := Dial(ctx, server.Addr().String(), testRegistry())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	notices := make(chan Notice, 1)
	client.Subscribe(func(f Frame) {
		if n, ok := f.Packet.(Notice); ok {
			notices <- n
		}
	})

	if _, err := CallAs[Ping](ctx, client, Ping{}); err != nil {
		t.Fatalf("Call: %v", err)
	}
	select {
	case n := <-notices:
		if n.Text != "opened" {
			t.Errorf("got %q, want %q", n.Text, "opened")
		}
	case <-ctx.Done():
		t.Fatal("notice not received")
	}
}

func TestServerBroadcast(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server := startServer(t, "127.0.0.1:0")
	got := make(chan string, 2)
	for range 2 {
		c, err := Dial(ctx, server.Addr().String(), testRegistry())
		if err != nil {
			t.Fatalf("Dial: %v", err)
		}
		defer c.Close()
		c.Subscribe(func(f Frame) {
			if n, ok := f.Packet.(Notice); ok {
				got <- n.Text
			}
		})
	}

	// The server registers a connection before answering its handshake.
	if n := server.Conns(); n != 2 {
		t.Fatalf("got %d conns, want 2", n)
	}
	if err := server.Broadcast(ctx, Notice{Text: "all"}); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	for range 2 {
		select {
		case text := <-got:
			if text != "all" {
				t.Errorf("got %q, want %q", text, "all")
			}
		case <-ctx.Done():
			t.Fatal("broadcast not received")
		}
	}
}

func TestServerCloseEndsConns(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server, err := Listen("127.0.0.1:0", testRegistry())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx) }()

	client, err := Dial(ctx, server.Addr().String(), testRegistry())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if err := server.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := <-served; err != nil {
		t.Errorf("Serve: %v", err)
	}
	waitDone(t, client)
	if !errors.Is(client.Err(), ErrClosed) {
		t.Errorf("got %v, want ErrClosed", client.Err())
	}
}

func TestUnixTransport(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dir, err := os.MkdirTemp("", "pktlink")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)
	addr := "unix://" + filepath.Join(dir, "link.sock")

	startServer(t, addr)
	client, err := Dial(ctx, addr, testRegistry())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if _, err := CallAs[EchoReply](ctx, client, Echo{Text: "unix"}); err != nil {
		t.Fatalf("Call: %v", err)
	}
}

func TestDialUnknownTransport(t *testing.T) {
	_, err := Dial(context.Background(), "carrier-pigeon://coop", testRegistry())
	if !errors.Is(err, ErrConnectFailed) || !errors.Is(err, ErrUnknownTransport) {
		t.Errorf("got %v, want ErrConnectFailed wrapping ErrUnknownTransport", err)
	}
}

func TestDialRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	_, err = Dial(context.Background(), addr, testRegistry())
	if !errors.Is(err, ErrConnectFailed) {
		t.Errorf("got %v, want ErrConnectFailed", err)
	}
}

func TestDialHandshakeFailed(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	_, err = Dial(context.Background(), l.Addr().String(), testRegistry())
	if !errors.Is(err, ErrHandshakeFailed) {
		t.Errorf("got %v, want ErrHandshakeFailed", err)
	}
}

func TestListenWebSocketScheme(t *testing.T) {
	if _, err := Listen("ws://127.0.0.1:0/link", testRegistry()); !errors.Is(err, ErrUnknownTransport) {
		t.Errorf("got %v, want ErrUnknownTransport", err)
	}
}

func TestSplitAddress(t *testing.T) {
	tests := []struct {
		in, scheme, target string
	}{
		{"localhost:9000", "tcp", "localhost:9000"},
		{"tcp://localhost:9000", "tcp", "localhost:9000"},
		{"unix:///tmp/x.sock", "unix", "/tmp/x.sock"},
		{"ws://host/path", "ws", "host/path"},
	}
	for _, tt := range tests {
		scheme, target := SplitAddress(tt.in)
		if scheme != tt.scheme || target != tt.target {
			t.Errorf("%s: got (%q, %q), want (%q, %q)", tt.in, scheme, target, tt.scheme, tt.target)
		}
	}
	if !HasTransport("wss") || !slices.Contains(AvailableTransports(), "unix") {
		t.Errorf("transports: %v", AvailableTransports())
	}
}
