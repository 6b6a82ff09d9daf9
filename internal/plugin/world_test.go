// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package plugin

import (
	"context"
	"errors"
	"net"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/luxfi/pktlink"
	"github.com/luxfi/pktlink/packets"
)

func newLink(t *testing.T) (*World, *pktlink.Conn) {
	t.Helper()
	w := NewWorld(zerolog.Nop(), DemoPlayers()...)
	server := pktlink.NewServer(packets.Registry())
	w.Register(server)

	a, b := net.Pipe()
	server.ServeConn(a)
	client := pktlink.NewConn(b, packets.Registry())
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return w, client
}

func TestOnlinePlayers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w, client := newLink(t)
	w.Join(packets.PlayerData{ID: 9, Name: "Herobrine"})

	resp, err := pktlink.CallAs[packets.ResOnlinePlayers](ctx, client, packets.ReqOnlinePlayers{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if want := []packets.PlayerID{1, 2, 9}; !slices.Equal(resp.Players, want) {
		t.Errorf("got %v, want %v", resp.Players, want)
	}
}

func TestPlayerLookup(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, client := newLink(t)

	byID, err := pktlink.CallAs[packets.ResPlayerData](ctx, client, packets.ReqPlayerByID{PlayerID: 2})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if byID.Data.Name != "Alex" {
		t.Errorf("got %q, want %q", byID.Data.Name, "Alex")
	}

	byName, err := pktlink.CallAs[packets.ResPlayerData](ctx, client, packets.ReqPlayerByName{PlayerName: "Steve"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if byName.Data.ID != 1 {
		t.Errorf("got id %d, want 1", byName.Data.ID)
	}

	_, err = client.Call(ctx, packets.ReqPlayerByID{PlayerID: 404})
	var remote *pktlink.RemoteError
	if !errors.As(err, &remote) || !strings.Contains(remote.Message, "unknown player") {
		t.Errorf("got %v, want unknown player fault", err)
	}
}

func TestInventoryLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w, client := newLink(t)
	events := make(chan pktlink.Packet, 8)
	client.Subscribe(func(f pktlink.Frame) {
		if f.ID == 0 {
			events <- f.Packet
		}
	})

	created, err := pktlink.CallAs[packets.ResCreateInventory](ctx, client, packets.ReqCreateInventory{Name: "Shop", Size: packets.Inv18})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	inv := created.InvID

	list := packets.InventoryList{ID: inv, Slots: []packets.Slot{
		{Slot: packets.XYToSlot(1, 1), Item: packets.ItemStack{Name: "Apple", Material: "APPLE"}},
	}}
	if _, err := pktlink.CallAs[packets.ResModifyInvList](ctx, client, packets.ReqModifyInvList{InvID: inv, List: list}); err == nil {
		t.Error("modify before create succeeded")
	}
	if _, err := pktlink.CallAs[packets.ResCreateInvList](ctx, client, packets.ReqCreateInvList{InvID: inv, List: list}); err != nil {
		t.Fatalf("create list: %v", err)
	}
	list.Slots = append(list.Slots, packets.Slot{Slot: packets.XYToSlot(9, 2), Item: packets.ItemStack{Material: "STONE"}})
	if _, err := pktlink.CallAs[packets.ResModifyInvList](ctx, client, packets.ReqModifyInvList{InvID: inv, List: list}); err != nil {
		t.Fatalf("modify list: %v", err)
	}
	if got, ok := w.Inventory(inv); !ok || len(got.Slots) != 2 {
		t.Errorf("stored list: %+v", got)
	}

	tooFar := packets.InventoryList{ID: inv, Slots: []packets.Slot{{Slot: packets.XYToSlot(1, 3)}}}
	if _, err := client.Call(ctx, packets.ReqModifyInvList{InvID: inv, List: tooFar}); err == nil {
		t.Error("slot in row 3 accepted by an 18-slot inventory")
	}

	if _, err := pktlink.CallAs[packets.ResPlayerInvOpen](ctx, client, packets.ReqPlayerInvOpen{InvID: inv, PlayerID: 1}); err != nil {
		t.Fatalf("open: %v", err)
	}
	expect(t, events, packets.SDInvOpen{PlayerID: 1})

	if err := w.Click(ctx, 1, packets.XYToSlot(1, 1)); err != nil {
		t.Fatalf("Click: %v", err)
	}
	expect(t, events, packets.SDInvClick{Slot: 0, PlayerID: 1})

	if err := w.CloseInventory(ctx, 1); err != nil {
		t.Fatalf("CloseInventory: %v", err)
	}
	expect(t, events, packets.SDInvClose{PlayerID: 1})

	if err := w.Click(ctx, 1, 0); !errors.Is(err, ErrNotOpen) {
		t.Errorf("click after close: got %v, want ErrNotOpen", err)
	}
}

func TestSimulate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w, client := newLink(t)
	events := make(chan pktlink.Packet, 8)
	client.Subscribe(func(f pktlink.Frame) {
		if f.ID == 0 {
			events <- f.Packet
		}
	})

	created, err := pktlink.CallAs[packets.ResCreateInventory](ctx, client, packets.ReqCreateInventory{Name: "Chest", Size: packets.Inv9})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	slot := packets.XYToSlot(4, 1)
	list := packets.InventoryList{ID: created.InvID, Slots: []packets.Slot{{Slot: slot, Item: packets.ItemStack{Material: "DIRT"}}}}
	if _, err := pktlink.CallAs[packets.ResCreateInvList](ctx, client, packets.ReqCreateInvList{InvID: created.InvID, List: list}); err != nil {
		t.Fatalf("create list: %v", err)
	}
	if _, err := pktlink.CallAs[packets.ResPlayerInvOpen](ctx, client, packets.ReqPlayerInvOpen{InvID: created.InvID, PlayerID: 2}); err != nil {
		t.Fatalf("open: %v", err)
	}
	expect(t, events, packets.SDInvOpen{PlayerID: 2})

	go w.Simulate(ctx, 10*time.Millisecond)

	for range clicksBeforeClose {
		expect(t, events, packets.SDInvClick{Slot: slot, PlayerID: 2})
	}
	expect(t, events, packets.SDInvClose{PlayerID: 2})

	select {
	case got := <-events:
		t.Errorf("event after close: %#v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOpenUnknownInventory(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, client := newLink(t)
	_, err := client.Call(ctx, packets.ReqPlayerInvOpen{InvID: 77, PlayerID: 1})
	var remote *pktlink.RemoteError
	if !errors.As(err, &remote) || remote.Code != pktlink.FaultHandler {
		t.Errorf("got %v, want handler fault", err)
	}
}

func expect(t *testing.T, events <-chan pktlink.Packet, want pktlink.Packet) {
	t.Helper()
	select {
	case got := <-events:
		if got != want {
			t.Errorf("got %#v, want %#v", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no %s event", want.Tag())
	}
}
