// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package remotememory // import "go.opentelemetry.io/hotspot-sa/remotememory"

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"go.opentelemetry.io/hotspot-sa/libpf"
)

// ErrUnmapped is returned when reading an address not covered by any snapshot region.
var ErrUnmapped = errors.New("address not mapped")

// region is one captured range of target memory.
type region struct {
	base libpf.Address
	data []byte
}

func (r *region) end() libpf.Address {
	return r.base + libpf.Address(len(r.data))
}

// Snapshot is an io.ReaderAt over a set of captured memory regions, as found in the
// PT_LOAD segments of a core dump. Regions must not overlap. Reads spanning adjacent
// regions are satisfied transparently; a read running past the last contiguous byte
// is truncated and reports io.EOF.
//
// The region data is referenced, not copied.
type Snapshot struct {
	regions []region
}

var _ io.ReaderAt = &Snapshot{}

// Add registers data as the content of target memory starting at base.
func (s *Snapshot) Add(base libpf.Address, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	r := region{base: base, data: data}
	for i := range s.regions {
		o := &s.regions[i]
		if r.base < o.end() && o.base < r.end() {
			return fmt.Errorf("region 0x%x-0x%x overlaps 0x%x-0x%x",
				r.base, r.end(), o.base, o.end())
		}
	}
	s.regions = append(s.regions, r)
	sort.Slice(s.regions, func(i, j int) bool {
		return s.regions[i].base < s.regions[j].base
	})
	return nil
}

// find returns the index of the region containing addr, or -1.
func (s *Snapshot) find(addr libpf.Address) int {
	i := sort.Search(len(s.regions), func(i int) bool {
		return s.regions[i].end() > addr
	})
	if i < len(s.regions) && s.regions[i].base <= addr {
		return i
	}
	return -1
}

// ReadAt implements io.ReaderAt.
func (s *Snapshot) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	addr := libpf.Address(off)
	i := s.find(addr)
	if i < 0 {
		return 0, fmt.Errorf("%w: 0x%x", ErrUnmapped, addr)
	}

	n := 0
	for n < len(p) {
		r := &s.regions[i]
		n += copy(p[n:], r.data[addr-r.base:])
		addr = r.base + libpf.Address(len(r.data))
		i++
		if n < len(p) && (i >= len(s.regions) || s.regions[i].base != addr) {
			return n, io.EOF
		}
	}
	return n, nil
}

// NewSnapshotMemory returns a RemoteMemory reading from the given snapshot.
func NewSnapshotMemory(s *Snapshot, ptrSize int, bigEndian bool) RemoteMemory {
	rm := RemoteMemory{ReaderAt: s, PtrSize: ptrSize}
	if bigEndian {
		rm.ByteOrder = binary.BigEndian
	}
	return rm
}
