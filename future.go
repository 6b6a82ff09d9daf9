// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pktlink

import (
	"math/rand/v2"
	"sync"
)

// result is what a pending call is resolved with.
type result struct {
	packet Packet
	err    error
}

// pendingTable maps correlation ids to the channels their callers wait on.
//
// Each channel has capacity one and receives exactly one value. An entry is
// removed under the lock in the same step that resolves it, so a second
// resolution finds nothing and a value sent before the caller starts
// waiting stays buffered.
type pendingTable struct {
	mu     sync.Mutex
	calls  map[uint32]chan result
	closed error
	nextID func() uint32
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		calls:  make(map[uint32]chan result),
		nextID: rand.Uint32,
	}
}

// register reserves a fresh nonzero id. Ids already pending are skipped.
func (t *pendingTable) register() (uint32, <-chan result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed != nil {
		return 0, nil, t.closed
	}
	id := t.nextID()
	for {
		if _, taken := t.calls[id]; id != 0 && !taken {
			break
		}
		id = t.nextID()
	}
	ch := make(chan result, 1)
	t.calls[id] = ch
	return id, ch, nil
}

// resolve completes the call waiting on id. It reports false when no call
// is waiting, which is the case for uncorrelated or late responses.
func (t *pendingTable) resolve(id uint32, r result) bool {
	t.mu.Lock()
	ch, ok := t.calls[id]
	if ok {
		delete(t.calls, id)
	}
	t.mu.Unlock()
	if ok {
		ch <- r
	}
	return ok
}

// remove abandons the call waiting on id.
func (t *pendingTable) remove(id uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.calls[id]
	delete(t.calls, id)
	return ok
}

func (t *pendingTable) has(id uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.calls[id]
	return ok
}

// failAll resolves every waiting call with err and refuses new ones.
func (t *pendingTable) failAll(err error) {
	t.mu.Lock()
	calls := t.calls
	t.calls = make(map[uint32]chan result)
	if t.closed == nil {
		t.closed = err
	}
	t.mu.Unlock()
	for _, ch := range calls {
		ch <- result{err: err}
	}
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
