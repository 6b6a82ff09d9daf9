// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pktlink

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Packet is a message that can travel in a frame. Tag names its shape and
// must be unique within a Registry; the fields are written with the value
// codec in declaration order.
type Packet interface {
	Tag() string
}

// DecodeFunc rebuilds a packet from the field data that follows its tag.
type DecodeFunc func(d *Decoder) (Packet, error)

// Entry binds a tag to the functions that rebuild its packet.
type Entry struct {
	Tag    string
	Decode DecodeFunc
	// FromJSON is optional. Registries without it cannot serve the gateway.
	FromJSON func(data []byte) (Packet, error)
}

// EntryFor returns the entry for packet type P. Fields are decoded in
// declaration order by reflection, which is the same order Encoder.Value
// writes them.
func EntryFor[P Packet]() Entry {
	var zero P
	return Entry{
		Tag: zero.Tag(),
		Decode: func(d *Decoder) (Packet, error) {
			var p P
			if err := d.Value(&p); err != nil {
				return nil, err
			}
			return p, nil
		},
		FromJSON: func(data []byte) (Packet, error) {
			var p P
			if len(data) > 0 {
				if err := json.Unmarshal(data, &p); err != nil {
					return nil, err
				}
			}
			return p, nil
		},
	}
}

// Registry maps tags to decoders. It is built once by NewRegistry and never
// modified, so it is safe for concurrent use.
type Registry struct {
	entries map[string]Entry
}

// NewRegistry builds a registry from entries plus the builtin handshake and
// fault packets.
func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{entries: make(map[string]Entry, len(entries)+3)}
	all := append(builtinEntries(), entries...)
	for _, entry := range all {
		if strings.TrimSpace(entry.Tag) == "" || entry.Decode == nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTag, entry.Tag)
		}
		if _, ok := r.entries[entry.Tag]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTag, entry.Tag)
		}
		r.entries[entry.Tag] = entry
	}
	return r, nil
}

// MustRegistry is NewRegistry for package-level initialisation.
func MustRegistry(entries ...Entry) *Registry {
	r, err := NewRegistry(entries...)
	if err != nil {
		panic(err)
	}
	return r
}

// Decode rebuilds the packet registered under tag from d.
func (r *Registry) Decode(tag string, d *Decoder) (Packet, error) {
	entry, ok := r.entries[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPacketType, tag)
	}
	return entry.Decode(d)
}

// DecodeJSON builds the packet registered under tag from a JSON object.
func (r *Registry) DecodeJSON(tag string, data []byte) (Packet, error) {
	entry, ok := r.entries[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPacketType, tag)
	}
	if entry.FromJSON == nil {
		return nil, fmt.Errorf("%w: %q has no JSON form", ErrUnsupportedType, tag)
	}
	return entry.FromJSON(data)
}

// Has reports whether tag is registered.
func (r *Registry) Has(tag string) bool {
	_, ok := r.entries[tag]
	return ok
}

// Tags returns the registered tags in sorted order.
func (r *Registry) Tags() []string {
	out := make([]string, 0, len(r.entries))
	for tag := range r.entries {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Cast converts a decoded packet to the concrete shape T. A packet of any
// other shape fails with ErrTypeMismatch; Cast never yields a zero value in
// place of the real one.
func Cast[T Packet](p Packet) (T, error) {
	var zero T
	if p == nil {
		return zero, fmt.Errorf("%w: got nil, want %s", ErrTypeMismatch, zero.Tag())
	}
	if v, ok := p.(T); ok {
		return v, nil
	}
	return zero, fmt.Errorf("%w: got %s, want %s", ErrTypeMismatch, p.Tag(), zero.Tag())
}
