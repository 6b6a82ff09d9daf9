// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/luxfi/pktlink"
	"github.com/luxfi/pktlink/gateway"
)

func callCmd(a *app) *cobra.Command {
	var (
		via    string
		notify bool
	)

	cmd := &cobra.Command{
		Use:   "call <tag> [json-body]",
		Short: "Send one request and print the response",
		Long: `Call builds the packet registered under tag from its JSON form, sends
it to the peer and prints the response as {"tag", "body"}.

With --gateway the request goes through a running gateway instead of a
direct link. With --send no response is awaited.`,
		Example: `  pktlink call BukrsReqPlayerById '{"player_id":1}'
  pktlink call --gateway http://127.0.0.1:8780 BukrsReqOnlinePlayers`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body json.RawMessage
			if len(args) == 2 {
				body = json.RawMessage(args[1])
			}
			if via != "" {
				return a.callGateway(cmd.Context(), cmd.OutOrStdout(), via, args[0], body, notify)
			}
			return a.callDirect(cmd.Context(), cmd.OutOrStdout(), args[0], body, notify)
		},
	}

	cmd.Flags().StringVar(&via, "gateway", "", "gateway base URL")
	cmd.Flags().BoolVar(&notify, "send", false, "send without waiting for a response")

	return cmd
}

func (a *app) callDirect(ctx context.Context, out io.Writer, tag string, body json.RawMessage, notify bool) error {
	if len(body) == 0 {
		body = json.RawMessage("{}")
	}
	req, err := a.reg.DecodeJSON(tag, body)
	if err != nil {
		return err
	}

	conn, err := a.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if notify {
		return conn.Send(ctx, req)
	}
	resp, err := conn.Call(ctx, req)
	if err != nil {
		return err
	}
	return printPacket(out, 0, resp)
}

func (a *app) callGateway(ctx context.Context, out io.Writer, base, tag string, body json.RawMessage, notify bool) error {
	client, err := gateway.NewClient(base, gateway.WithClientLogger(a.log))
	if err != nil {
		return err
	}
	if notify {
		return client.Send(ctx, tag, body)
	}
	reply, err := client.Call(ctx, tag, body)
	if err != nil {
		return err
	}
	return writeJSON(out, frameView{Tag: reply.Tag, Body: reply.Body})
}

// frameView is how the CLI prints packets.
type frameView struct {
	ID   uint32 `json:"id,omitempty"`
	Tag  string `json:"tag"`
	Body any    `json:"body"`
}

func printPacket(out io.Writer, id uint32, p pktlink.Packet) error {
	return writeJSON(out, frameView{ID: id, Tag: p.Tag(), Body: p})
}

func writeJSON(out io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
