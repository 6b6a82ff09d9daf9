// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pktlink

import (
	"errors"
	"fmt"
)

// Decode errors. ErrTruncated doubles as the framing layer's "need more
// data" signal, so callers must test for it with errors.Is.
var (
	ErrTruncated         = errors.New("pktlink: truncated input")
	ErrInvalidEncoding   = errors.New("pktlink: invalid encoding")
	ErrVarintOverflow    = errors.New("pktlink: varint overflow")
	ErrTrailingData      = errors.New("pktlink: trailing data after value")
	ErrUnsupportedType   = errors.New("pktlink: unsupported type")
	ErrFrameTooLarge     = errors.New("pktlink: frame too large")
	ErrUnknownPacketType = errors.New("pktlink: unknown packet type")
	ErrTypeMismatch      = errors.New("pktlink: packet type mismatch")
	ErrDuplicateTag      = errors.New("pktlink: duplicate packet tag")
	ErrInvalidTag        = errors.New("pktlink: invalid packet tag")
)

// Connection errors.
var (
	ErrConnectFailed    = errors.New("pktlink: connect failed")
	ErrHandshakeFailed  = errors.New("pktlink: handshake failed")
	ErrSendFailed       = errors.New("pktlink: send failed")
	ErrTimeout          = errors.New("pktlink: call timed out")
	ErrClosed           = errors.New("pktlink: connection closed")
	ErrUnknownTransport = errors.New("pktlink: unknown transport")
)

// FrameError reports a complete frame that could not be turned into a
// packet. The frame's bytes have already been consumed, so the stream is
// still usable.
type FrameError struct {
	ID  uint32
	Tag string
	Err error
}

func (e *FrameError) Error() string {
	if e.Tag == "" {
		return fmt.Sprintf("pktlink: frame %d: %v", e.ID, e.Err)
	}
	return fmt.Sprintf("pktlink: frame %d (%s): %v", e.ID, e.Tag, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// RemoteError is returned by Call when the peer answered with a Fault.
type RemoteError struct {
	Code    uint32
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("pktlink: remote fault %d: %s", e.Code, e.Message)
}
