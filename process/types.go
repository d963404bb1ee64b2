// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package process reads the memory map of a live target process to locate the
// shared object carrying the HotSpot introspection tables.
package process // import "go.opentelemetry.io/hotspot-sa/process"

import (
	"debug/elf"
)

// Mapping contains information about a file backed memory mapping
type Mapping struct {
	// Vaddr is the virtual memory start for this mapping
	Vaddr uint64
	// Length is the length of the mapping
	Length uint64
	// Flags contains the mapping flags and permissions
	Flags elf.ProgFlag
	// FileOffset contains the offset from the file start
	FileOffset uint64
	// Device holds the device ID where the file is located
	Device uint64
	// Inode holds the mapped file's inode number
	Inode uint64
	// Path contains the file name
	Path string
}

func (m *Mapping) IsExecutable() bool {
	return m.Flags&elf.PF_X == elf.PF_X
}

// End returns the first address after the mapping.
func (m *Mapping) End() uint64 {
	return m.Vaddr + m.Length
}
