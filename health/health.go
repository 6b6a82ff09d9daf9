// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package health reports the state of a packet link through the standard
// grpc.health.v1.Health service.
package health

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name the link is reported under, in
// addition to the server-wide "" entry.
const ServiceName = "pktlink.Link"

// Link is what the health server watches. *pktlink.Conn satisfies it.
type Link interface {
	Done() <-chan struct{}
}

// Server is a gRPC server carrying only the health service. Both entries
// report SERVING until the link is done, then NOT_SERVING.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	log    zerolog.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

func NewServer(link Link, log zerolog.Logger, opts ...grpc.ServerOption) *Server {
	s := &Server{
		grpc:   grpc.NewServer(opts...),
		health: health.NewServer(),
		log:    log.With().Str("component", "health").Logger(),
		stop:   make(chan struct{}),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.set(healthpb.HealthCheckResponse_SERVING)

	go func() {
		select {
		case <-link.Done():
			s.log.Info().Msg("link closed, reporting not serving")
			s.set(healthpb.HealthCheckResponse_NOT_SERVING)
		case <-s.stop:
		}
	}()
	return s
}

func (s *Server) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve accepts gRPC connections on l until Stop.
func (s *Server) Serve(l net.Listener) error {
	return s.grpc.Serve(l)
}

// Stop closes the listener and every open stream.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.health.Shutdown()
		s.grpc.Stop()
	})
}

// Check asks the health service at target for the status of service.
func Check(ctx context.Context, target, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("grpc dial: %w", err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check: %w", err)
	}
	return resp.GetStatus(), nil
}
