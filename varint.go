// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pktlink

// MaxVarintLen32 is the most bytes a 32-bit varint can occupy.
const MaxVarintLen32 = 5

const (
	varintSegmentBits = 0x7F
	varintContinueBit = 0x80
)

// AppendUvarint32 appends v as a varint: 7 bits per byte, least significant
// group first, high bit set on every byte but the last.
func AppendUvarint32(dst []byte, v uint32) []byte {
	for v >= varintContinueBit {
		dst = append(dst, byte(v&varintSegmentBits)|varintContinueBit)
		v >>= 7
	}
	return append(dst, byte(v))
}

// AppendVarint32 appends the two's complement bits of v as a varint.
// Negative values always take five bytes.
func AppendVarint32(dst []byte, v int32) []byte {
	return AppendUvarint32(dst, uint32(v))
}

// DecodeUvarint32 decodes a varint from the front of buf and returns the
// value and the number of bytes it occupied. It returns ErrTruncated when
// buf ends before the terminating byte and ErrVarintOverflow when no
// terminating byte appears within MaxVarintLen32 bytes or the value does
// not fit in 32 bits.
func DecodeUvarint32(buf []byte) (uint32, int, error) {
	var v uint32
	var shift uint
	for i := 0; i < MaxVarintLen32; i++ {
		if i >= len(buf) {
			return 0, 0, ErrTruncated
		}
		b := buf[i]
		if i == MaxVarintLen32-1 && b > 0x0F {
			// bit 7 set means a sixth byte would follow; bits 4-6 are past 32.
			return 0, 0, ErrVarintOverflow
		}
		v |= uint32(b&varintSegmentBits) << shift
		if b&varintContinueBit == 0 {
			return v, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, ErrVarintOverflow
}

// DecodeVarint32 is DecodeUvarint32 reinterpreted as a signed value.
func DecodeVarint32(buf []byte) (int32, int, error) {
	v, n, err := DecodeUvarint32(buf)
	return int32(v), n, err
}

// UvarintLen32 returns the number of bytes AppendUvarint32 writes for v.
func UvarintLen32(v uint32) int {
	n := 1
	for v >= varintContinueBit {
		n++
		v >>= 7
	}
	return n
}
