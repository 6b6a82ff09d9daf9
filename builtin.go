// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pktlink

// Wire tags of the packets every registry carries. The handshake tags are
// the names the plugin side has always used.
const (
	TagHello   = "BukrsReqAPI"
	TagWelcome = "BukrsResAPI"
	TagFault   = "BukrsFault"
)

// Fault codes.
const (
	FaultHandler     uint32 = 1 // handler returned an error
	FaultNoHandler   uint32 = 2 // no handler for the request tag
	FaultBadResponse uint32 = 3 // handler response could not be encoded
	FaultBadRequest  uint32 = 4 // request frame could not be decoded
)

// Hello opens a session. It carries no fields.
type Hello struct{}

func (Hello) Tag() string { return TagHello }

// Welcome acknowledges Hello with the session id the peer assigned.
type Welcome struct {
	APIID uint32 `json:"api_id"`
}

func (Welcome) Tag() string { return TagWelcome }

// Fault is sent in place of a response when a request could not be served.
type Fault struct {
	Code    uint32 `json:"code"`
	Message string `json:"message"`
}

func (Fault) Tag() string { return TagFault }

func builtinEntries() []Entry {
	return []Entry{
		EntryFor[Hello](),
		EntryFor[Welcome](),
		EntryFor[Fault](),
	}
}
