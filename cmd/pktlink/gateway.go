// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/luxfi/pktlink"
	"github.com/luxfi/pktlink/gateway"
	"github.com/luxfi/pktlink/health"
)

func gatewayCmd(a *app) *cobra.Command {
	var httpListen, grpcListen string

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Bridge the peer link to JSON-RPC",
		Long: `Gateway dials the configured peer and exposes it as the JSON-RPC 2.0
service Link at POST /rpc, with /healthz and /metrics beside it. A gRPC
health service reports whether the link is still up.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if httpListen != "" {
				a.cfg.Gateway.HTTPListen = httpListen
			}
			if grpcListen != "" {
				a.cfg.Gateway.GRPCListen = grpcListen
			}
			return a.gateway(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&httpListen, "http", "", "JSON-RPC listen address (overrides [gateway] http_listen)")
	cmd.Flags().StringVar(&grpcListen, "grpc", "", "gRPC health listen address, empty string in config disables it")

	return cmd
}

func (a *app) gateway(ctx context.Context) error {
	conn, err := a.dial(ctx, pktlink.WithMetrics(pktlink.NewMetrics(nil)))
	if err != nil {
		return err
	}
	defer conn.Close()
	a.log.Info().Str("peer", a.cfg.PeerAddress()).Uint32("api_id", conn.WelcomeID()).Msg("link up")

	h, err := gateway.New(conn, a.reg,
		gateway.WithLogger(a.log),
		gateway.WithGatherer(prometheus.DefaultGatherer),
	).Handler()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 2)
	running := 1

	httpSrv := &http.Server{Addr: a.cfg.Gateway.HTTPListen, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	a.log.Info().Str("addr", httpSrv.Addr).Msg("serving json-rpc")
	go func() {
		errCh <- listenAndServe(ctx, httpSrv)
	}()

	if a.cfg.Gateway.GRPCListen != "" {
		l, err := net.Listen("tcp", a.cfg.Gateway.GRPCListen)
		if err != nil {
			cancel()
			<-errCh
			return err
		}
		hs := health.NewServer(conn, a.log)
		a.log.Info().Stringer("addr", l.Addr()).Msg("serving grpc health")
		running++
		go func() {
			errCh <- hs.Serve(l)
		}()
		go func() {
			<-ctx.Done()
			hs.Stop()
		}()
	}

	go func() {
		select {
		case <-conn.Done():
			a.log.Warn().Err(conn.Err()).Msg("link down, /healthz now reports 503")
		case <-ctx.Done():
		}
	}()

	var first error
	for range running {
		err := <-errCh
		if first == nil {
			first = err
		}
		cancel()
	}
	return first
}
