// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/luxfi/pktlink"
	"github.com/luxfi/pktlink/internal/plugin"
)

const shutdownTimeout = 5 * time.Second

func serveCmd(a *app) *cobra.Command {
	var (
		listen, websocket string
		simulate          time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo game world",
		Long: `Serve accepts links on the configured listen address and answers
every request packet from an in-memory world with two players.

With --websocket the same links are also served over WebSocket at /link,
next to /metrics.

With --simulate, players who have an inventory open click in it and then
close it, so controllers receive BukrsSDInvClick and BukrsSDInvClose.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				a.cfg.Server.Listen = listen
			}
			if websocket != "" {
				a.cfg.Server.WebSocket = websocket
			}
			return a.serve(cmd.Context(), simulate)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "link listen address (overrides [server] listen)")
	cmd.Flags().StringVar(&websocket, "websocket", "", "HTTP address for WebSocket links")
	cmd.Flags().DurationVar(&simulate, "simulate", 0, "interval between simulated player events, 0 disables them")

	return cmd
}

func (a *app) serve(ctx context.Context, simulate time.Duration) error {
	srv, err := pktlink.Listen(a.cfg.Server.Listen, a.reg,
		pktlink.WithLogger(a.log),
		pktlink.WithMetrics(pktlink.NewMetrics(nil)),
		pktlink.WithCallTimeout(a.cfg.Peer.CallTimeout.Std()),
		pktlink.WithWriteTimeout(a.cfg.Peer.WriteTimeout.Std()),
		pktlink.WithMaxFrameSize(a.cfg.Peer.MaxFrameSize),
	)
	if err != nil {
		return err
	}
	world := plugin.NewWorld(a.log, plugin.DemoPlayers()...)
	world.Register(srv)
	a.log.Info().Stringer("addr", srv.Addr()).Msg("serving links")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if simulate > 0 {
		go world.Simulate(ctx, simulate)
	}
	errCh := make(chan error, 2)
	running := 1
	go func() {
		errCh <- srv.Serve(ctx)
	}()

	if a.cfg.Server.WebSocket != "" {
		r := chi.NewRouter()
		r.Handle("/link", pktlink.WebSocketHandler(srv))
		r.Handle("/metrics", promhttp.Handler())
		httpSrv := &http.Server{Addr: a.cfg.Server.WebSocket, Handler: r, ReadHeaderTimeout: 10 * time.Second}
		a.log.Info().Str("addr", httpSrv.Addr).Msg("serving websocket links")
		running++
		go func() {
			errCh <- listenAndServe(ctx, httpSrv)
		}()
	}

	// the first to stop takes the others down with it
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

// listenAndServe runs s until ctx is done, then shuts it down.
func listenAndServe(ctx context.Context, s *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
