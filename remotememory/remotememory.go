// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// remotememory provides access to memory space of a target process. The ReaderAt
// interface is used for the basic access, and various convenience functions are
// provided to help reading specific data types with the target's pointer width
// and byte order.
package remotememory // import "go.opentelemetry.io/hotspot-sa/remotememory"

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/hotspot-sa/libpf"
)

const (
	// cStringChunk is the number of bytes fetched per read while looking for
	// the terminating NUL of a C string.
	cStringChunk = 256
	// maxCStringLen bounds C string decoding.
	maxCStringLen = 64 * 1024
)

// ErrUnterminatedString is returned when no NUL terminator is found within
// maxCStringLen bytes.
var ErrUnterminatedString = errors.New("unterminated C string")

// RemoteMemory implements a set of convenience functions to access the remote memory
type RemoteMemory struct {
	io.ReaderAt
	// PtrSize is the size of a native pointer in the target. Zero means 8.
	PtrSize int
	// ByteOrder of the target. Nil means little endian.
	ByteOrder binary.ByteOrder
}

// Valid determines if this RemoteMemory instance contains a valid reference to target process
func (rm RemoteMemory) Valid() bool {
	return rm.ReaderAt != nil
}

// Order returns the byte order of the target.
func (rm RemoteMemory) Order() binary.ByteOrder {
	if rm.ByteOrder == nil {
		return binary.LittleEndian
	}
	return rm.ByteOrder
}

// PointerSize returns the native pointer size of the target in bytes.
func (rm RemoteMemory) PointerSize() int {
	if rm.PtrSize == 0 {
		return 8
	}
	return rm.PtrSize
}

// IsBigEndian reports whether the target stores integers most significant byte first.
func (rm RemoteMemory) IsBigEndian() bool {
	return rm.Order() == binary.BigEndian
}

// Read fills slice p[] with data from remote memory at address addr
func (rm RemoteMemory) Read(addr libpf.Address, p []byte) error {
	n, err := rm.ReadAt(p, int64(addr))
	if n == len(p) {
		return nil
	}
	if err == nil || err == io.EOF {
		err = fmt.Errorf("short read at 0x%x: got %d of %d bytes", addr, n, len(p))
	}
	return err
}

// decode interprets buf (1, 2, 4 or 8 bytes) as an unsigned integer in target byte order.
func (rm RemoteMemory) decode(buf []byte) uint64 {
	switch len(buf) {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(rm.Order().Uint16(buf))
	case 4:
		return uint64(rm.Order().Uint32(buf))
	default:
		return rm.Order().Uint64(buf)
	}
}

// CInteger reads a C integer of the given size (1, 2, 4 or 8 bytes). Signed values
// are sign extended to 64 bits, so int64(value) yields the signed quantity.
func (rm RemoteMemory) CInteger(addr libpf.Address, size int, unsigned bool) (uint64, error) {
	switch size {
	case 1, 2, 4, 8:
	default:
		return 0, fmt.Errorf("unsupported C integer size %d at 0x%x", size, addr)
	}
	var buf [8]byte
	if err := rm.Read(addr, buf[:size]); err != nil {
		return 0, err
	}
	v := rm.decode(buf[:size])
	if !unsigned && size < 8 {
		shift := uint(64 - 8*size)
		v = uint64(int64(v<<shift) >> shift)
	}
	return v, nil
}

// Address reads a native pointer from remote memory, honoring the target pointer width.
func (rm RemoteMemory) Address(addr libpf.Address) (libpf.Address, error) {
	v, err := rm.CInteger(addr, rm.PointerSize(), true)
	return libpf.Address(v), err
}

// CString reads a NUL terminated narrow string from remote memory.
func (rm RemoteMemory) CString(addr libpf.Address) (string, error) {
	if addr == 0 {
		return "", fmt.Errorf("C string at NULL address")
	}
	var out []byte
	chunk := make([]byte, cStringChunk)
	for len(out) < maxCStringLen {
		n, err := rm.ReadAt(chunk, int64(addr)+int64(len(out)))
		if n == 0 {
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			return "", fmt.Errorf("failed to read C string at 0x%x: %w", addr, err)
		}
		if idx := bytes.IndexByte(chunk[:n], 0); idx >= 0 {
			return string(append(out, chunk[:idx]...)), nil
		}
		out = append(out, chunk[:n]...)
		if err != nil && n < len(chunk) {
			// The readable range ended before a terminator was seen.
			return "", fmt.Errorf("failed to read C string at 0x%x: %w", addr, err)
		}
	}
	return "", fmt.Errorf("%w at 0x%x", ErrUnterminatedString, addr)
}

// ProcessVirtualMemory implements RemoteMemory by using process_vm_readv syscalls
// to read the remote memory.
type ProcessVirtualMemory struct {
	pid libpf.PID
}

// NewProcessVirtualMemory returns ProcessVirtualMemory implementation of RemoteMemory.
func NewProcessVirtualMemory(pid libpf.PID) RemoteMemory {
	return RemoteMemory{ReaderAt: ProcessVirtualMemory{pid}}
}
