// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package subsys // import "go.opentelemetry.io/hotspot-sa/subsys"

import "math/bits"

// Bytes converts between Java (big endian) byte order and the target's.
type Bytes struct {
	swap bool
}

// NewBytes returns a converter for a target of the given byte order.
func NewBytes(bigEndian bool) *Bytes {
	return &Bytes{swap: !bigEndian}
}

// SwapShort converts a 16-bit value.
func (b *Bytes) SwapShort(x uint16) uint16 {
	if !b.swap {
		return x
	}
	return bits.ReverseBytes16(x)
}

// SwapInt converts a 32-bit value.
func (b *Bytes) SwapInt(x uint32) uint32 {
	if !b.swap {
		return x
	}
	return bits.ReverseBytes32(x)
}

// SwapLong converts a 64-bit value.
func (b *Bytes) SwapLong(x uint64) uint64 {
	if !b.swap {
		return x
	}
	return bits.ReverseBytes64(x)
}
