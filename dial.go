// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pktlink

import (
	"context"
	"fmt"
)

// Dial connects to the peer at address, starts the read loop and performs
// the handshake. The address scheme selects the transport; see
// AvailableTransports.
//
// Transport failures wrap ErrConnectFailed and handshake failures wrap
// ErrHandshakeFailed.
func Dial(ctx context.Context, address string, reg *Registry, opts ...Option) (*Conn, error) {
	o := newOptions(opts)
	if o.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.connectTimeout)
		defer cancel()
	}

	rwc, err := dialTransport(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectFailed, address, err)
	}

	c := newConn(rwc, reg, o)
	c.start()
	if _, err := c.Handshake(ctx); err != nil {
		c.Close()
		return nil, err
	}
	c.log.Debug().Str("address", address).Uint32("api_id", c.WelcomeID()).Msg("connected")
	return c, nil
}

// Handshake sends Hello and records the session id from the peer's
// Welcome. Dial does this already; it is needed only after NewConn.
func (c *Conn) Handshake(ctx context.Context) (uint32, error) {
	w, err := CallAs[Welcome](ctx, c, Hello{})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	c.welcomeID.Store(w.APIID)
	return w.APIID, nil
}
