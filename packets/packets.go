// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package packets defines the messages exchanged between the game server
// plugin and its controller. Requests start with Req and are answered by
// the matching Res packet; SD packets are server data the plugin pushes
// without being asked.
package packets

import "github.com/luxfi/pktlink"

type ReqOnlinePlayers struct{}

func (ReqOnlinePlayers) Tag() string { return "BukrsReqOnlinePlayers" }

type ResOnlinePlayers struct {
	Players []PlayerID `json:"players"`
}

func (ResOnlinePlayers) Tag() string { return "BukrsResOnlinePlayers" }

type ReqPlayerByID struct {
	PlayerID PlayerID `json:"player_id"`
}

func (ReqPlayerByID) Tag() string { return "BukrsReqPlayerById" }

type ReqPlayerByName struct {
	PlayerName string `json:"player_name"`
}

func (ReqPlayerByName) Tag() string { return "BukrsReqPlayerByName" }

type ResPlayerData struct {
	Data PlayerData `json:"data"`
}

func (ResPlayerData) Tag() string { return "BukrsResPlayerData" }

type ReqCreateInventory struct {
	Name string        `json:"name"`
	Size InventorySize `json:"size"`
}

func (ReqCreateInventory) Tag() string { return "BukrsReqCreateInventory" }

type ResCreateInventory struct {
	InvID InventoryID `json:"inv_id"`
}

func (ResCreateInventory) Tag() string { return "BukrsResCreateInventory" }

// ReqPlayerInvOpen shows an inventory to a player.
type ReqPlayerInvOpen struct {
	InvID    InventoryID `json:"inv_id"`
	PlayerID PlayerID    `json:"player_id"`
}

func (ReqPlayerInvOpen) Tag() string { return "BukrsReqPlayerInvOpen" }

type ResPlayerInvOpen struct{}

func (ResPlayerInvOpen) Tag() string { return "BukrsResPlayerInvOpen" }

type ReqCreateInvList struct {
	InvID InventoryID   `json:"inv_id"`
	List  InventoryList `json:"list"`
}

func (ReqCreateInvList) Tag() string { return "BukrsReqCreateInvList" }

type ResCreateInvList struct{}

func (ResCreateInvList) Tag() string { return "BukrsResCreateInvList" }

// ReqModifyInvList replaces the slots of an existing list.
type ReqModifyInvList struct {
	InvID InventoryID   `json:"inv_id"`
	List  InventoryList `json:"list"`
}

func (ReqModifyInvList) Tag() string { return "BukrsReqModifyInvList" }

type ResModifyInvList struct{}

func (ResModifyInvList) Tag() string { return "BukrsResModifyInvList" }

// SDInvClick reports a click in a link-created inventory.
type SDInvClick struct {
	Slot     uint8    `json:"slot"`
	PlayerID PlayerID `json:"player_id"`
}

func (SDInvClick) Tag() string { return "BukrsSDInvClick" }

type SDInvOpen struct {
	PlayerID PlayerID `json:"player_id"`
}

func (SDInvOpen) Tag() string { return "BukrsSDInvOpen" }

type SDInvClose struct {
	PlayerID PlayerID `json:"player_id"`
}

func (SDInvClose) Tag() string { return "BukrsSDInvClose" }

// Entries returns the registry entries for every packet in this package.
func Entries() []pktlink.Entry {
	return []pktlink.Entry{
		pktlink.EntryFor[ReqOnlinePlayers](),
		pktlink.EntryFor[ResOnlinePlayers](),
		pktlink.EntryFor[ReqPlayerByID](),
		pktlink.EntryFor[ReqPlayerByName](),
		pktlink.EntryFor[ResPlayerData](),
		pktlink.EntryFor[ReqCreateInventory](),
		pktlink.EntryFor[ResCreateInventory](),
		pktlink.EntryFor[ReqPlayerInvOpen](),
		pktlink.EntryFor[ResPlayerInvOpen](),
		pktlink.EntryFor[ReqCreateInvList](),
		pktlink.EntryFor[ResCreateInvList](),
		pktlink.EntryFor[ReqModifyInvList](),
		pktlink.EntryFor[ResModifyInvList](),
		pktlink.EntryFor[SDInvClick](),
		pktlink.EntryFor[SDInvOpen](),
		pktlink.EntryFor[SDInvClose](),
	}
}

// Registry returns a registry holding the builtin packets and Entries.
func Registry() *pktlink.Registry {
	return pktlink.MustRegistry(Entries()...)
}
