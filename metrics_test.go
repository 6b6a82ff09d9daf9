// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pktlink

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCountFramesAndCalls(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m := NewMetrics(prometheus.NewRegistry())
	caller, _ := connPair(t, []Option{WithMetrics(m)}, []Option{WithHandler("Echo", echoHandler)})

	for i := range 3 {
		if _, err := caller.Call(ctx, Echo{Seq: uint32(i)}); err != nil {
			t.Fatalf("Call: %v", err)
		}
	}

	if got := testutil.ToFloat64(m.framesSent.WithLabelValues("Echo")); got != 3 {
		t.Errorf("frames sent: got %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.framesReceived.WithLabelValues("EchoReply")); got != 3 {
		t.Errorf("frames received: got %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.pendingCalls); got != 0 {
		t.Errorf("pending: got %v, want 0", got)
	}
	if got := testutil.CollectAndCount(m.callDuration); got != 1 {
		t.Errorf("duration series: got %d, want 1", got)
	}
	if got := testutil.ToFloat64(m.openConns); got != 1 {
		t.Errorf("open conns: got %v, want 1", got)
	}
}

func TestMetricsDecodeErrors(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	c, peer := newRawPeer(t, WithMetrics(m))

	seen := make(chan struct{})
	c.Subscribe(func(Frame) { close(seen) })

	e := NewEncoder()
	e.WriteString("Unknown")
	if err := peer.write(rawFrame(0, e.Bytes())); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := peer.send(0, Notice{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	<-seen

	if got := testutil.ToFloat64(m.decodeErrors); got != 1 {
		t.Errorf("decode errors: got %v, want 1", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.frameSent("x")
	m.callStarted()
	m.callFinished("x", time.Now(), nil)
	m.connOpened()
	m.connClosed()
}
