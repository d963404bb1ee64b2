// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package fakejvm builds synthetic HotSpot targets for tests: a memory image
// holding real gHotSpotVM* introspection tables and the runtime data they
// describe, with configurable pointer width and byte order.
package fakejvm // import "go.opentelemetry.io/hotspot-sa/testsupport/fakejvm"

import (
	"encoding/binary"
	"fmt"

	"go.opentelemetry.io/hotspot-sa/libpf"
	"go.opentelemetry.io/hotspot-sa/remotememory"
)

const (
	// ImageBase is where the image is mapped. It fits 32-bit targets.
	ImageBase = libpf.Address(0x10000000)

	imageSize = 1 << 20
)

// Image is a bump-allocated region of fake target memory. Writes after Memory
// is called are visible through the returned reader.
type Image struct {
	ptrSize int
	order   binary.ByteOrder
	buf     []byte
	used    int
	strings map[string]libpf.Address
	snap    *remotememory.Snapshot
}

// NewImage returns an empty image for a target with the given pointer size
// and byte order.
func NewImage(ptrSize int, bigEndian bool) *Image {
	m := &Image{
		ptrSize: ptrSize,
		order:   binary.LittleEndian,
		buf:     make([]byte, imageSize),
		// Keep address 0 of the image unused so no allocation is ImageBase+0.
		used:    16,
		strings: make(map[string]libpf.Address),
	}
	if bigEndian {
		m.order = binary.BigEndian
	}
	return m
}

// PtrSize returns the pointer size of the target.
func (m *Image) PtrSize() int {
	return m.ptrSize
}

// BigEndian reports the byte order of the target.
func (m *Image) BigEndian() bool {
	return m.order == binary.BigEndian
}

// Alloc reserves size zeroed bytes aligned to 16 bytes.
func (m *Image) Alloc(size int) libpf.Address {
	m.used = (m.used + 15) &^ 15
	if m.used+size > len(m.buf) {
		panic(fmt.Sprintf("fakejvm: image exhausted allocating %d bytes", size))
	}
	addr := ImageBase + libpf.Address(m.used)
	m.used += size
	return addr
}

func (m *Image) slice(addr libpf.Address, size int) []byte {
	off := int(addr - ImageBase)
	if addr < ImageBase || off+size > len(m.buf) {
		panic(fmt.Sprintf("fakejvm: write outside image at 0x%x", addr))
	}
	return m.buf[off : off+size]
}

// PutUint stores v as an integer of size bytes at addr.
func (m *Image) PutUint(addr libpf.Address, size int, v uint64) {
	b := m.slice(addr, size)
	switch size {
	case 1:
		b[0] = byte(v)
	case 2:
		m.order.PutUint16(b, uint16(v))
	case 4:
		m.order.PutUint32(b, uint32(v))
	case 8:
		m.order.PutUint64(b, v)
	default:
		panic(fmt.Sprintf("fakejvm: bad integer size %d", size))
	}
}

// PutPtr stores a target pointer at addr.
func (m *Image) PutPtr(addr, v libpf.Address) {
	m.PutUint(addr, m.ptrSize, uint64(v))
}

// NewUint allocates an integer of size bytes holding v.
func (m *Image) NewUint(size int, v uint64) libpf.Address {
	addr := m.Alloc(size)
	m.PutUint(addr, size, v)
	return addr
}

// NewPtr allocates a pointer cell holding v.
func (m *Image) NewPtr(v libpf.Address) libpf.Address {
	return m.NewUint(m.ptrSize, uint64(v))
}

// CString returns the address of a NUL terminated copy of s. Equal strings
// share storage.
func (m *Image) CString(s string) libpf.Address {
	if addr, ok := m.strings[s]; ok {
		return addr
	}
	addr := m.Alloc(len(s) + 1)
	copy(m.slice(addr, len(s)), s)
	m.strings[s] = addr
	return addr
}

// Memory returns a reader over the image.
func (m *Image) Memory() remotememory.RemoteMemory {
	if m.snap == nil {
		m.snap = &remotememory.Snapshot{}
		if err := m.snap.Add(ImageBase, m.buf); err != nil {
			panic(err)
		}
	}
	return remotememory.NewSnapshotMemory(m.snap, m.ptrSize, m.BigEndian())
}
