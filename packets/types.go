// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package packets

import (
	"fmt"

	"github.com/luxfi/pktlink"
)

// PlayerID identifies an online player on the game server.
type PlayerID uint32

// UUID is a player's persistent id, split the way the game server stores it.
type UUID struct {
	Lsb uint64 `json:"lsb"`
	Msb uint64 `json:"msb"`
}

// String formats the UUID in the canonical 8-4-4-4-12 form.
func (u UUID) String() string {
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		u.Msb>>32, (u.Msb>>16)&0xFFFF, u.Msb&0xFFFF,
		u.Lsb>>48, u.Lsb&0xFFFFFFFFFFFF)
}

type PlayerData struct {
	ID   PlayerID `json:"id"`
	Name string   `json:"name"`
	UUID UUID     `json:"uuid"`
}

// InventoryID identifies an inventory created through the link.
type InventoryID uint32

// InventorySize is a chest size in slots. Only whole rows of nine, up to
// six rows, exist.
type InventorySize uint8

const (
	Inv9  InventorySize = 9
	Inv18 InventorySize = 18
	Inv27 InventorySize = 27
	Inv36 InventorySize = 36
	Inv45 InventorySize = 45
	Inv54 InventorySize = 54
)

// Valid reports whether s is one of the defined sizes.
func (s InventorySize) Valid() bool {
	return s != 0 && s <= Inv54 && s%9 == 0
}

func (s InventorySize) MarshalValue(e *pktlink.Encoder) error {
	if !s.Valid() {
		return fmt.Errorf("%w: inventory size %d", pktlink.ErrInvalidEncoding, uint8(s))
	}
	e.WriteUint8(uint8(s))
	return nil
}

func (s *InventorySize) UnmarshalValue(d *pktlink.Decoder) error {
	v, err := d.ReadUint8()
	if err != nil {
		return err
	}
	if size := InventorySize(v); size.Valid() {
		*s = size
		return nil
	}
	return fmt.Errorf("%w: inventory size %d", pktlink.ErrInvalidEncoding, v)
}

type ItemStack struct {
	Name     string `json:"name"`
	Material string `json:"material"`
}

type Slot struct {
	Slot uint8     `json:"slot"`
	Item ItemStack `json:"item"`
}

// InventoryList is the slot content of an inventory.
type InventoryList struct {
	ID    InventoryID `json:"id"`
	Slots []Slot      `json:"slots"`
}

// SlotToXY converts a packed slot index to 1-based column and row. The low
// four bits hold the column, the high four the row.
func SlotToXY(slot uint8) (x, y uint8) {
	return slot&0x0F + 1, slot>>4 + 1
}

// XYToSlot is the inverse of SlotToXY.
func XYToSlot(x, y uint8) uint8 {
	return (y-1)<<4 | (x - 1)
}
