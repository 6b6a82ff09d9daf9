// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pktlink

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// DefaultMaxFrameSize bounds the payload length a peer may announce.
const DefaultMaxFrameSize = 16 * 1024 * 1024

const correlationIDLen = 4

// Frame is one decoded wire unit. ID is 0 for uncorrelated packets.
type Frame struct {
	ID     uint32
	Packet Packet
}

// AppendFrame appends the frame for p to dst:
//
//	varint(payload_length) | u32 id | u32 tag_length | tag | fields
//
// payload_length counts the tag length prefix, the tag and the fields.
func AppendFrame(dst []byte, id uint32, p Packet) ([]byte, error) {
	payload := NewEncoder()
	if err := encodePayload(payload, p); err != nil {
		return dst, err
	}
	dst = AppendUvarint32(dst, uint32(payload.Len()))
	dst = binary.BigEndian.AppendUint32(dst, id)
	return append(dst, payload.Bytes()...), nil
}

func encodePayload(e *Encoder, p Packet) error {
	if p == nil {
		return fmt.Errorf("%w: nil packet", ErrUnsupportedType)
	}
	e.WriteString(p.Tag())
	if err := e.Value(p); err != nil {
		return fmt.Errorf("encode %s: %w", p.Tag(), err)
	}
	return nil
}

// DecodeFrame decodes the frame at the front of buf and returns it with the
// number of bytes it occupied. maxSize <= 0 disables the size check.
//
// When buf does not yet hold a whole frame DecodeFrame returns 0 and
// ErrTruncated; nothing is consumed and the call can be retried once more
// bytes arrive. A whole frame whose payload cannot be decoded is still
// consumed: the byte count is positive and the error is a *FrameError.
// ErrVarintOverflow and ErrFrameTooLarge mean the stream is unusable.
func DecodeFrame(buf []byte, reg *Registry, maxSize int) (Frame, int, error) {
	size, n, err := DecodeUvarint32(buf)
	if err != nil {
		return Frame{}, 0, err
	}
	if maxSize > 0 && uint64(size) > uint64(maxSize) {
		return Frame{}, 0, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	header := n + correlationIDLen
	if len(buf) < header {
		return Frame{}, 0, ErrTruncated
	}
	id := binary.BigEndian.Uint32(buf[n:header])
	if uint64(len(buf)-header) < uint64(size) {
		return Frame{}, 0, ErrTruncated
	}
	total := header + int(size)

	p, tag, err := decodePayload(buf[header:total], reg)
	if err != nil {
		return Frame{ID: id}, total, &FrameError{ID: id, Tag: tag, Err: err}
	}
	return Frame{ID: id, Packet: p}, total, nil
}

func decodePayload(payload []byte, reg *Registry) (Packet, string, error) {
	d := NewDecoder(payload)
	tag, err := d.ReadString()
	if err != nil {
		return nil, "", fmt.Errorf("tag: %w", err)
	}
	p, err := reg.Decode(tag, d)
	if err != nil {
		return nil, tag, err
	}
	if d.Remaining() != 0 {
		return nil, tag, fmt.Errorf("%w: %d bytes", ErrTrailingData, d.Remaining())
	}
	return p, tag, nil
}

// FrameBuffer reassembles frames from a byte stream that may deliver them
// in arbitrary pieces.
type FrameBuffer struct {
	reg     *Registry
	maxSize int
	buf     []byte
	off     int // start of the unconsumed bytes
}

// retainedBuffer is the largest backing array kept once the buffer drains.
const retainedBuffer = 4 * readChunkSize

// NewFrameBuffer returns an empty buffer decoding against reg.
func NewFrameBuffer(reg *Registry, maxSize int) *FrameBuffer {
	return &FrameBuffer{reg: reg, maxSize: maxSize}
}

// Write appends stream bytes. It never fails.
func (b *FrameBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// Buffered returns the number of bytes not yet consumed.
func (b *FrameBuffer) Buffered() int {
	return len(b.buf) - b.off
}

// Next returns the next complete frame. ok is false, with a nil error, when
// more bytes are needed; the buffered bytes are left as they were.
func (b *FrameBuffer) Next() (f Frame, ok bool, err error) {
	f, n, err := DecodeFrame(b.buf[b.off:], b.reg, b.maxSize)
	if n == 0 {
		if errors.Is(err, ErrTruncated) {
			b.compact()
			return Frame{}, false, nil
		}
		return Frame{}, false, err
	}
	b.consume(n)
	if err != nil {
		return f, false, err
	}
	return f, true, nil
}

func (b *FrameBuffer) consume(n int) {
	b.off += n
	switch {
	case b.off == len(b.buf):
		b.off = 0
		if cap(b.buf) > retainedBuffer {
			b.buf = nil
		} else {
			b.buf = b.buf[:0]
		}
	case b.off > cap(b.buf)/2:
		b.compact()
	}
}

// compact moves the unconsumed bytes to the front, shrinking the backing
// array when a large frame left it mostly empty.
func (b *FrameBuffer) compact() {
	if b.off == 0 {
		return
	}
	rest := b.buf[b.off:]
	if cap(b.buf) > retainedBuffer && len(rest) <= retainedBuffer/2 {
		b.buf = append(make([]byte, 0, retainedBuffer), rest...)
	} else {
		b.buf = b.buf[:copy(b.buf, rest)]
	}
	b.off = 0
}
