// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pktlink

import (
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"sync"
)

// Transport names, used as the address scheme.
const (
	TransportTCP       = "tcp"
	TransportUnix      = "unix"
	TransportWebSocket = "ws"
	TransportWSS       = "wss"
)

// DefaultTransport is used for addresses without a scheme.
const DefaultTransport = TransportTCP

// DialFunc opens a byte stream to the scheme-less part of an address.
type DialFunc func(ctx context.Context, target string) (io.ReadWriteCloser, error)

// ListenFunc listens on the scheme-less part of an address.
type ListenFunc func(target string) (net.Listener, error)

type transport struct {
	dial   DialFunc
	listen ListenFunc
}

var (
	transportsMu sync.RWMutex
	transports   = map[string]transport{
		TransportTCP:       {dialNet("tcp"), listenNet("tcp")},
		TransportUnix:      {dialNet("unix"), listenNet("unix")},
		TransportWebSocket: {dialWebSocket("ws"), nil},
		TransportWSS:       {dialWebSocket("wss"), nil},
	}
)

// RegisterTransport adds or replaces the transport for scheme. listen may be
// nil for dial-only transports.
func RegisterTransport(scheme string, dial DialFunc, listen ListenFunc) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	transports[scheme] = transport{dial, listen}
}

// AvailableTransports returns the registered schemes in sorted order.
func AvailableTransports() []string {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	result := make([]string, 0, len(transports))
	for name := range transports {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// HasTransport checks if a transport is available
func HasTransport(name string) bool {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	_, ok := transports[name]
	return ok
}

// SplitAddress separates "scheme://target". Addresses without a scheme use
// DefaultTransport.
func SplitAddress(address string) (scheme, target string) {
	if i := strings.Index(address, "://"); i > 0 {
		return address[:i], address[i+3:]
	}
	return DefaultTransport, address
}

func lookupTransport(scheme string) (transport, error) {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	t, ok := transports[scheme]
	if !ok {
		return transport{}, fmt.Errorf("%w: %q", ErrUnknownTransport, scheme)
	}
	return t, nil
}

func dialTransport(ctx context.Context, address string) (io.ReadWriteCloser, error) {
	scheme, target := SplitAddress(address)
	t, err := lookupTransport(scheme)
	if err != nil {
		return nil, err
	}
	return t.dial(ctx, target)
}

func listenTransport(address string) (net.Listener, error) {
	scheme, target := SplitAddress(address)
	t, err := lookupTransport(scheme)
	if err != nil {
		return nil, err
	}
	if t.listen == nil {
		return nil, fmt.Errorf("%w: %q cannot listen", ErrUnknownTransport, scheme)
	}
	return t.listen(target)
}

func dialNet(network string) DialFunc {
	return func(ctx context.Context, target string) (io.ReadWriteCloser, error) {
		var d net.Dialer
		return d.DialContext(ctx, network, target)
	}
}

func listenNet(network string) ListenFunc {
	return func(target string) (net.Listener, error) {
		return net.Listen(network, target)
	}
}
