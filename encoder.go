// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pktlink

import "math"

// Encoder appends the binary form of values to an internal buffer.
// Fixed-width values are big-endian; strings and sequences carry a 4-byte
// length prefix.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an encoder with a small initial buffer.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 256)}
}

// Reset empties the encoder, keeping its buffer for reuse.
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
}

// Bytes returns the encoded bytes. The slice is valid until the next write
// or Reset.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Len returns the number of encoded bytes.
func (e *Encoder) Len() int {
	return len(e.buf)
}

func (e *Encoder) WriteUint8(v uint8) {
	e.buf = append(e.buf, v)
}

func (e *Encoder) WriteUint16(v uint16) {
	e.buf = append(e.buf, byte(v>>8), byte(v))
}

func (e *Encoder) WriteUint32(v uint32) {
	e.buf = append(e.buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func (e *Encoder) WriteUint64(v uint64) {
	e.buf = append(e.buf,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func (e *Encoder) WriteInt8(v int8)   { e.WriteUint8(uint8(v)) }
func (e *Encoder) WriteInt16(v int16) { e.WriteUint16(uint16(v)) }
func (e *Encoder) WriteInt32(v int32) { e.WriteUint32(uint32(v)) }
func (e *Encoder) WriteInt64(v int64) { e.WriteUint64(uint64(v)) }

// WriteFloat32 appends v in IEEE 754 binary32 form.
func (e *Encoder) WriteFloat32(v float32) {
	e.WriteUint32(math.Float32bits(v))
}

// WriteFloat64 appends v in IEEE 754 binary64 form.
func (e *Encoder) WriteFloat64(v float64) {
	e.WriteUint64(math.Float64bits(v))
}

// WriteString appends the byte count of s followed by its bytes.
func (e *Encoder) WriteString(s string) {
	e.WriteUint32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

// WriteLen appends a sequence element count. The elements follow, each in
// its own encoding.
func (e *Encoder) WriteLen(n int) {
	e.WriteUint32(uint32(n))
}

// WriteRaw appends b without a length prefix.
func (e *Encoder) WriteRaw(b []byte) {
	e.buf = append(e.buf, b...)
}
