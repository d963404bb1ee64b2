// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package debugger implements the debugger side of an attach: it locates the
// JVM in a target process, describes the target machine, and provides the
// type database and memory of the target. It also receives the heap encoding
// constants the VM session derives, so that compressed references can be
// decoded at this level.
package debugger // import "go.opentelemetry.io/hotspot-sa/debugger"

import (
	"debug/elf"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/hotspot-sa/libpf"
	"go.opentelemetry.io/hotspot-sa/process"
	"go.opentelemetry.io/hotspot-sa/remotememory"
	"go.opentelemetry.io/hotspot-sa/vmstructs"
)

// MachineDescription holds the traits of the target machine.
type MachineDescription struct {
	// AddressSize is the size of a native pointer in bytes.
	AddressSize int
	// BigEndian is set for most significant byte first targets.
	BigEndian bool
	// LP64 is set when C longs and pointers are 64 bits.
	LP64 bool
}

// HeapConst are the heap encoding constants of the attached VM.
type HeapConst struct {
	OopSize          int
	KlassPtrSize     int
	NarrowOopBase    libpf.Address
	NarrowOopShift   int
	NarrowKlassBase  libpf.Address
	NarrowKlassShift int
}

// Process is a debugger attached to one JVM process.
type Process struct {
	pid  libpf.PID
	mach MachineDescription
	os   string
	cpu  string
	db   *vmstructs.Database

	mu        sync.Mutex
	heapConst *HeapConst
}

// New returns a debugger over an already loaded type database.
func New(pid libpf.PID, db *vmstructs.Database, mach MachineDescription,
	os, cpu string) *Process {
	return &Process{
		pid:  pid,
		mach: mach,
		os:   os,
		cpu:  cpu,
		db:   db,
	}
}

// Attach locates libjvm.so in the process, loads its introspection data and
// returns a debugger for it. The target keeps running; all reads are done
// with process_vm_readv.
func Attach(pid libpf.PID) (*Process, error) {
	mappings, err := process.GetMappings(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to read mappings of %d: %w", pid, err)
	}
	lib, err := process.FindLibrary(mappings, process.LibjvmRegex)
	if err != nil {
		return nil, fmt.Errorf("PID %d is not a HotSpot JVM: %w", pid, err)
	}

	ef, err := elf.Open(process.RootPath(pid, lib.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", lib.Path, err)
	}
	defer ef.Close()

	mach, cpu, err := describeMachine(ef)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", lib.Path, err)
	}
	bias, err := loadBias(ef.Progs, lib.Base)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", lib.Path, err)
	}
	lookup, err := symbolLookup(ef)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", lib.Path, err)
	}
	syms, err := vmstructs.ResolveSymbols(lookup, bias)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", lib.Path, err)
	}

	rm := remotememory.NewProcessVirtualMemory(pid)
	rm.PtrSize = mach.AddressSize
	rm.ByteOrder = ef.ByteOrder

	db, err := vmstructs.Load(rm, syms)
	if err != nil {
		return nil, fmt.Errorf("failed to load type database of %d: %w", pid, err)
	}
	log.Debugf("PID %d: %s loaded at 0x%x, %s/%s, %d bytes per address",
		pid, lib.Path, bias, "linux", cpu, mach.AddressSize)

	return New(pid, db, mach, "linux", cpu), nil
}

// PID returns the process the debugger is attached to.
func (p *Process) PID() libpf.PID {
	return p.pid
}

// MachineDescription returns the traits of the target machine.
func (p *Process) MachineDescription() MachineDescription {
	return p.mach
}

// OS returns the operating system of the target.
func (p *Process) OS() string {
	return p.os
}

// CPU returns the processor architecture of the target.
func (p *Process) CPU() string {
	return p.cpu
}

// Database returns the type database of the target.
func (p *Process) Database() *vmstructs.Database {
	return p.db
}

// PutHeapConst records the heap encoding constants of the attached VM.
func (p *Process) PutHeapConst(hc HeapConst) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.heapConst = &hc
}

// HeapConst returns the heap encoding constants, if a VM pushed them.
func (p *Process) HeapConst() (HeapConst, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.heapConst == nil {
		return HeapConst{}, false
	}
	return *p.heapConst, true
}

// DecodeNarrowOop expands a compressed oop using the pushed constants.
func (p *Process) DecodeNarrowOop(narrow uint32) (libpf.Address, error) {
	hc, ok := p.HeapConst()
	if !ok {
		return 0, fmt.Errorf("heap constants not set")
	}
	if narrow == 0 {
		return 0, nil
	}
	return hc.NarrowOopBase + libpf.Address(uint64(narrow)<<hc.NarrowOopShift), nil
}

// DecodeNarrowKlass expands a compressed klass pointer using the pushed
// constants.
func (p *Process) DecodeNarrowKlass(narrow uint32) (libpf.Address, error) {
	hc, ok := p.HeapConst()
	if !ok {
		return 0, fmt.Errorf("heap constants not set")
	}
	if narrow == 0 {
		return 0, nil
	}
	return hc.NarrowKlassBase + libpf.Address(uint64(narrow)<<hc.NarrowKlassShift), nil
}
