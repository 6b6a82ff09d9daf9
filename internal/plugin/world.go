// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package plugin is an in-memory game server that answers the link's
// requests. It backs the serve command and the gateway tests. Click and
// CloseInventory push server data to the link that opened the inventory;
// Simulate drives them when nothing embeds the world.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/luxfi/pktlink"
	"github.com/luxfi/pktlink/packets"
)

var (
	ErrUnknownPlayer    = errors.New("plugin: unknown player")
	ErrUnknownInventory = errors.New("plugin: unknown inventory")
	ErrNoList           = errors.New("plugin: inventory has no list")
	ErrSlotOutOfRange   = errors.New("plugin: slot out of range")
	ErrNotOpen          = errors.New("plugin: player has no inventory open")
)

type inventory struct {
	name string
	size packets.InventorySize
	list *packets.InventoryList
}

type viewer struct {
	inv  packets.InventoryID
	conn *pktlink.Conn
}

// World holds players and link-created inventories.
type World struct {
	log zerolog.Logger

	mu          sync.Mutex
	players     map[packets.PlayerID]packets.PlayerData
	inventories map[packets.InventoryID]*inventory
	nextInv     packets.InventoryID
	open        map[packets.PlayerID]viewer
}

func NewWorld(log zerolog.Logger, players ...packets.PlayerData) *World {
	w := &World{
		log:         log.With().Str("component", "plugin").Logger(),
		players:     make(map[packets.PlayerID]packets.PlayerData),
		inventories: make(map[packets.InventoryID]*inventory),
		open:        make(map[packets.PlayerID]viewer),
	}
	for _, p := range players {
		w.players[p.ID] = p
	}
	return w
}

// DemoPlayers is the roster the serve command starts with.
func DemoPlayers() []packets.PlayerData {
	return []packets.PlayerData{
		{ID: 1, Name: "Steve", UUID: packets.UUID{Msb: 0x8667ba71b85a4004, Lsb: 0xaf54457a9734eed7}},
		{ID: 2, Name: "Alex", UUID: packets.UUID{Msb: 0xec561538f3fd461d, Lsb: 0xaff5086b22154bce}},
	}
}

// Register installs a handler for every request packet on s.
func (w *World) Register(s *pktlink.Server) {
	s.Handle(packets.ReqOnlinePlayers{}.Tag(), pktlink.HandleAs(w.onlinePlayers))
	s.Handle(packets.ReqPlayerByID{}.Tag(), pktlink.HandleAs(w.playerByID))
	s.Handle(packets.ReqPlayerByName{}.Tag(), pktlink.HandleAs(w.playerByName))
	s.Handle(packets.ReqCreateInventory{}.Tag(), pktlink.HandleAs(w.createInventory))
	s.Handle(packets.ReqPlayerInvOpen{}.Tag(), pktlink.HandleAs(w.openInventory))
	s.Handle(packets.ReqCreateInvList{}.Tag(), pktlink.HandleAs(w.createList))
	s.Handle(packets.ReqModifyInvList{}.Tag(), pktlink.HandleAs(w.modifyList))
}

// Join adds or replaces a player.
func (w *World) Join(p packets.PlayerData) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.players[p.ID] = p
}

// Inventory returns a copy of an inventory's list.
func (w *World) Inventory(id packets.InventoryID) (packets.InventoryList, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	inv, ok := w.inventories[id]
	if !ok || inv.list == nil {
		return packets.InventoryList{}, false
	}
	return packets.InventoryList{ID: inv.list.ID, Slots: slices.Clone(inv.list.Slots)}, true
}

// Click reports a click by player to the link that opened their inventory.
func (w *World) Click(ctx context.Context, player packets.PlayerID, slot uint8) error {
	w.mu.Lock()
	v, ok := w.open[player]
	var size packets.InventorySize
	if ok {
		size = w.inventories[v.inv].size
	}
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotOpen, player)
	}
	if !slotFits(slot, size) {
		return fmt.Errorf("%w: %d", ErrSlotOutOfRange, slot)
	}
	return v.conn.Send(ctx, packets.SDInvClick{Slot: slot, PlayerID: player})
}

// CloseInventory closes player's inventory and reports it.
func (w *World) CloseInventory(ctx context.Context, player packets.PlayerID) error {
	w.mu.Lock()
	v, ok := w.open[player]
	delete(w.open, player)
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotOpen, player)
	}
	return v.conn.Send(ctx, packets.SDInvClose{PlayerID: player})
}

// clicksBeforeClose is how many clicks Simulate makes before closing.
const clicksBeforeClose = 2

// Simulate stands in for players while no game is attached. Each interval
// every player with an inventory open clicks its first filled slot; after
// clicksBeforeClose clicks the next tick closes the inventory instead. It
// returns when ctx is done.
func (w *World) Simulate(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	clicks := make(map[packets.PlayerID]int)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for player, slot := range w.openSlots() {
			var err error
			if clicks[player] < clicksBeforeClose {
				clicks[player]++
				err = w.Click(ctx, player, slot)
			} else {
				delete(clicks, player)
				err = w.CloseInventory(ctx, player)
			}
			if err != nil {
				w.log.Debug().Uint32("player", uint32(player)).Err(err).Msg("simulated event dropped")
			}
		}
	}
}

// openSlots maps each player with an open inventory to the slot Simulate
// clicks.
func (w *World) openSlots() map[packets.PlayerID]uint8 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[packets.PlayerID]uint8, len(w.open))
	for player, v := range w.open {
		var slot uint8
		if list := w.inventories[v.inv].list; list != nil && len(list.Slots) > 0 {
			slot = list.Slots[0].Slot
		}
		out[player] = slot
	}
	return out
}

func (w *World) onlinePlayers(context.Context, *pktlink.Request, packets.ReqOnlinePlayers) (pktlink.Packet, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]packets.PlayerID, 0, len(w.players))
	for id := range w.players {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return packets.ResOnlinePlayers{Players: ids}, nil
}

func (w *World) playerByID(_ context.Context, _ *pktlink.Request, req packets.ReqPlayerByID) (pktlink.Packet, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.players[req.PlayerID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPlayer, req.PlayerID)
	}
	return packets.ResPlayerData{Data: p}, nil
}

func (w *World) playerByName(_ context.Context, _ *pktlink.Request, req packets.ReqPlayerByName) (pktlink.Packet, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range w.players {
		if p.Name == req.PlayerName {
			return packets.ResPlayerData{Data: p}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPlayer, req.PlayerName)
}

func (w *World) createInventory(_ context.Context, _ *pktlink.Request, req packets.ReqCreateInventory) (pktlink.Packet, error) {
	if !req.Size.Valid() {
		return nil, fmt.Errorf("%w: inventory size %d", pktlink.ErrInvalidEncoding, req.Size)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextInv++
	id := w.nextInv
	w.inventories[id] = &inventory{name: req.Name, size: req.Size}
	w.log.Debug().Uint32("inv_id", uint32(id)).Str("name", req.Name).Msg("inventory created")
	return packets.ResCreateInventory{InvID: id}, nil
}

func (w *World) openInventory(ctx context.Context, r *pktlink.Request, req packets.ReqPlayerInvOpen) (pktlink.Packet, error) {
	w.mu.Lock()
	_, invOK := w.inventories[req.InvID]
	_, playerOK := w.players[req.PlayerID]
	if invOK && playerOK {
		w.open[req.PlayerID] = viewer{inv: req.InvID, conn: r.Conn}
	}
	w.mu.Unlock()

	switch {
	case !invOK:
		return nil, fmt.Errorf("%w: %d", ErrUnknownInventory, req.InvID)
	case !playerOK:
		return nil, fmt.Errorf("%w: %d", ErrUnknownPlayer, req.PlayerID)
	}
	if err := r.Conn.Send(ctx, packets.SDInvOpen{PlayerID: req.PlayerID}); err != nil {
		return nil, err
	}
	return packets.ResPlayerInvOpen{}, nil
}

func (w *World) createList(_ context.Context, _ *pktlink.Request, req packets.ReqCreateInvList) (pktlink.Packet, error) {
	if err := w.setList(req.InvID, req.List, false); err != nil {
		return nil, err
	}
	return packets.ResCreateInvList{}, nil
}

func (w *World) modifyList(_ context.Context, _ *pktlink.Request, req packets.ReqModifyInvList) (pktlink.Packet, error) {
	if err := w.setList(req.InvID, req.List, true); err != nil {
		return nil, err
	}
	return packets.ResModifyInvList{}, nil
}

func (w *World) setList(id packets.InventoryID, list packets.InventoryList, mustExist bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	inv, ok := w.inventories[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownInventory, id)
	}
	if mustExist && inv.list == nil {
		return fmt.Errorf("%w: %d", ErrNoList, id)
	}
	for _, s := range list.Slots {
		if !slotFits(s.Slot, inv.size) {
			return fmt.Errorf("%w: %d in %d-slot inventory", ErrSlotOutOfRange, s.Slot, inv.size)
		}
	}
	list.Slots = slices.Clone(list.Slots)
	inv.list = &list
	return nil
}

func slotFits(slot uint8, size packets.InventorySize) bool {
	x, y := packets.SlotToXY(slot)
	return x <= 9 && int(y-1)*9+int(x) <= int(size)
}
