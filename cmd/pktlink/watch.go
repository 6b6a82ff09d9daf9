// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"io"
	"slices"
	"sync"

	"github.com/spf13/cobra"

	"github.com/luxfi/pktlink"
)

func watchCmd(a *app) *cobra.Command {
	var tags []string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print every packet the peer sends",
		Long: `Watch dials the peer and prints each inbound frame as one JSON line
until interrupted or the link closes. Server data packets such as
BukrsSDInvClick arrive with no id.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.watch(cmd.Context(), cmd.OutOrStdout(), tags)
		},
	}

	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "only print these tags")

	return cmd
}

func (a *app) watch(ctx context.Context, out io.Writer, tags []string) error {
	conn, err := a.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	var mu sync.Mutex
	unsubscribe := conn.Subscribe(func(f pktlink.Frame) {
		if len(tags) > 0 && !slices.Contains(tags, f.Packet.Tag()) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if err := printPacket(out, f.ID, f.Packet); err != nil {
			a.log.Warn().Err(err).Msg("print failed")
		}
	})
	defer unsubscribe()

	select {
	case <-ctx.Done():
		return nil
	case <-conn.Done():
		return conn.Err()
	}
}
