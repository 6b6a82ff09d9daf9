// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command pktlink runs and talks to packet links: it can serve the demo
// game world, bridge a link to JSON-RPC, issue single calls, and watch
// traffic.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/luxfi/pktlink"
	"github.com/luxfi/pktlink/internal/config"
	"github.com/luxfi/pktlink/internal/logging"
	"github.com/luxfi/pktlink/packets"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// app is the state shared by every subcommand once the root has loaded
// the configuration.
type app struct {
	configPath string
	cfg        config.Config
	log        zerolog.Logger
	reg        *pktlink.Registry
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "pktlink",
		Short: "Typed request/response links over a binary packet protocol",
		Long: `pktlink speaks the varint-framed packet protocol used between a game
server plugin and its controllers.

Every subcommand reads the same TOML configuration; PKTLINK_PEER_ADDRESS,
PKTLINK_LOG_LEVEL and PKTLINK_LOG_FORMAT override it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a TOML config file")

	rootCmd.AddCommand(
		serveCmd(a),
		gatewayCmd(a),
		callCmd(a),
		watchCmd(a),
		versionCmd(),
	)
	return rootCmd
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cmd.ErrOrStderr(), cfg.Log, "pktlink")
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log.With().Str("cmd", cmd.Name()).Logger()
	a.reg = packets.Registry()
	return nil
}

// dial connects to the configured peer with the configured link options.
func (a *app) dial(ctx context.Context, extra ...pktlink.Option) (*pktlink.Conn, error) {
	opts := append(a.cfg.LinkOptions(), pktlink.WithLogger(a.log))
	opts = append(opts, extra...)
	return pktlink.Dial(ctx, a.cfg.PeerAddress(), a.reg, opts...)
}
