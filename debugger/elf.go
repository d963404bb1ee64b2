// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package debugger // import "go.opentelemetry.io/hotspot-sa/debugger"

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"

	"go.opentelemetry.io/hotspot-sa/libpf"
	"go.opentelemetry.io/hotspot-sa/process"
	"go.opentelemetry.io/hotspot-sa/vmstructs"
)

var cpuNames = map[elf.Machine]string{
	elf.EM_X86_64:  "amd64",
	elf.EM_386:     "x86",
	elf.EM_AARCH64: "aarch64",
	elf.EM_ARM:     "arm",
	elf.EM_PPC64:   "ppc64",
	elf.EM_SPARCV9: "sparcv9",
	elf.EM_S390:    "s390x",
	elf.EM_RISCV:   "riscv64",
}

// describeMachine derives the machine description and CPU name from the ELF
// header of the JVM library.
func describeMachine(ef *elf.File) (MachineDescription, string, error) {
	var mach MachineDescription
	switch ef.Class {
	case elf.ELFCLASS32:
		mach.AddressSize = 4
	case elf.ELFCLASS64:
		mach.AddressSize = 8
		mach.LP64 = true
	default:
		return mach, "", fmt.Errorf("unsupported ELF class %v", ef.Class)
	}
	mach.BigEndian = ef.ByteOrder == binary.BigEndian

	cpu, ok := cpuNames[ef.Machine]
	if !ok {
		return mach, "", fmt.Errorf("unsupported machine %v", ef.Machine)
	}
	return mach, cpu, nil
}

// symbolLookup indexes the dynamic and static symbol tables. The introspection
// symbols are exported, but stripped libraries may still carry them only in
// one of the two tables.
func symbolLookup(ef *elf.File) (func(string) (libpf.Address, error), error) {
	index := make(map[string]libpf.Address)
	add := func(syms []elf.Symbol, err error) error {
		if err != nil {
			if errors.Is(err, elf.ErrNoSymbols) {
				return nil
			}
			return err
		}
		for _, s := range syms {
			if s.Value == 0 || s.Section == elf.SHN_UNDEF {
				continue
			}
			if _, ok := index[s.Name]; !ok {
				index[s.Name] = libpf.Address(s.Value)
			}
		}
		return nil
	}
	if err := add(ef.DynamicSymbols()); err != nil {
		return nil, fmt.Errorf("failed to read dynamic symbols: %w", err)
	}
	if err := add(ef.Symbols()); err != nil {
		return nil, fmt.Errorf("failed to read symbols: %w", err)
	}

	return func(name string) (libpf.Address, error) {
		addr, ok := index[name]
		if !ok {
			return 0, vmstructs.ErrNotFound
		}
		return addr, nil
	}, nil
}

// loadBias returns the difference between run-time and link-time addresses
// of an object, given the mapping of its lowest file offset and the program
// headers of the file.
func loadBias(progs []*elf.Prog, base process.Mapping) (libpf.Address, error) {
	for _, p := range progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		align := p.Align
		if align == 0 {
			align = 1
		}
		start := p.Off &^ (align - 1)
		if base.FileOffset < start || base.FileOffset >= p.Off+p.Filesz {
			continue
		}
		// The link-time address of the mapped offset, with the segment's
		// vaddr and offset congruent modulo its alignment.
		linked := p.Vaddr - (p.Off - base.FileOffset)
		return libpf.Address(base.Vaddr - linked), nil
	}
	return 0, fmt.Errorf("no PT_LOAD segment maps file offset 0x%x", base.FileOffset)
}
