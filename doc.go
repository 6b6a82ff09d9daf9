// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pktlink implements a typed request/response protocol over an
// ordered byte stream, used between a game server and its external control
// plugin.
//
// # Wire format
//
// Every packet travels in one frame:
//
//	varint(payload_length) | u32 correlation_id | u32 tag_length | tag | fields
//
// The varint uses 7 bits per byte, least significant group first, and never
// exceeds 5 bytes. Fixed-width values are big-endian. Strings and sequences
// carry a 4-byte length prefix. Struct fields are written in declaration
// order with no names. Correlation id 0 marks a packet that expects no
// response.
//
// # Packets
//
// A packet is any struct with a Tag method. Registries are built explicitly:
//
//	reg, err := pktlink.NewRegistry(
//	    pktlink.EntryFor[Ping](),
//	    pktlink.EntryFor[Pong](),
//	)
//
// # Usage
//
// Client usage:
//
//	conn, err := pktlink.Dial(ctx, "localhost:9000", reg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Close()
//
//	pong, err := pktlink.CallAs[Pong](ctx, conn, Ping{Seq: 1})
//
// Server usage:
//
//	server, err := pktlink.Listen(":9000", reg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	server.Handle("Ping", func(ctx context.Context, req *pktlink.Request) (pktlink.Packet, error) {
//	    return Pong{Seq: req.Packet.(Ping).Seq}, nil
//	})
//	server.Serve(ctx)
//
// # Transports
//
// The address scheme selects the byte stream: tcp (the default), unix, ws
// and wss. Servers reachable over WebSocket are mounted on an HTTP mux with
// WebSocketHandler.
package pktlink
