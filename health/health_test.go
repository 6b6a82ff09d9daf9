// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package health

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type fakeLink chan struct{}

func (l fakeLink) Done() <-chan struct{} { return l }

func TestStatusFollowsLink(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	link := make(fakeLink)
	s := NewServer(link, zerolog.Nop())
	go s.Serve(l)
	defer s.Stop()

	target := l.Addr().String()
	for _, service := range []string{"", ServiceName} {
		status, err := Check(ctx, target, service)
		if err != nil {
			t.Fatalf("Check(%q): %v", service, err)
		}
		if status != healthpb.HealthCheckResponse_SERVING {
			t.Errorf("%q: got %v, want SERVING", service, status)
		}
	}

	close(link)
	deadline := time.Now().Add(5 * time.Second)
	for {
		status, err := Check(ctx, target, ServiceName)
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if status == healthpb.HealthCheckResponse_NOT_SERVING {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("got %v after link closed, want NOT_SERVING", status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCheckUnknownService(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	s := NewServer(make(fakeLink), zerolog.Nop())
	go s.Serve(l)
	defer s.Stop()

	if _, err := Check(ctx, l.Addr().String(), "nope"); err == nil {
		t.Error("unknown service reported a status")
	}
}
