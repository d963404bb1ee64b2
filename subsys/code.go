// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package subsys // import "go.opentelemetry.io/hotspot-sa/subsys"

import (
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/hotspot-sa/libpf"
	"go.opentelemetry.io/hotspot-sa/vmstructs"
)

// Interpreter describes the template interpreter code.
type Interpreter struct {
	// Code is the StubQueue holding the interpreter
	Code libpf.Address
	// Begin and End bound the interpreter stub buffer
	Begin, End libpf.Address
}

// NewInterpreter reads the bounds of the interpreter code.
func NewInterpreter(vm VM) (*Interpreter, error) {
	db := vm.TypeDataBase()
	code, err := staticAddress(db, "AbstractInterpreter", "_code")
	if err != nil {
		return nil, err
	}
	if code == 0 {
		return nil, errors.New("interpreter not generated")
	}
	buffer, err := field(db, "StubQueue", "_stub_buffer")
	if err != nil {
		return nil, err
	}
	limit, err := field(db, "StubQueue", "_buffer_limit")
	if err != nil {
		return nil, err
	}
	begin, err := buffer.AddressAt(code)
	if err != nil {
		return nil, err
	}
	size, err := limit.CIntegerAt(code)
	if err != nil {
		return nil, err
	}
	return &Interpreter{
		Code:  code,
		Begin: begin,
		End:   begin.AddOffset(size),
	}, nil
}

// Contains reports whether pc is in interpreter code.
func (i *Interpreter) Contains(pc libpf.Address) bool {
	return pc >= i.Begin && pc < i.End
}

// StubRoutines holds the entry points of the generated stub routines.
type StubRoutines struct {
	entries map[string]libpf.Address
}

// NewStubRoutines reads every static address field of StubRoutines.
func NewStubRoutines(vm VM) (*StubRoutines, error) {
	t, err := vm.TypeDataBase().LookupType("StubRoutines")
	if err != nil {
		return nil, err
	}
	sr := &StubRoutines{entries: make(map[string]libpf.Address)}
	for _, f := range t.Fields() {
		if !f.IsStatic || f.TypeString != "address" {
			continue
		}
		v, err := f.Value()
		if err != nil {
			return nil, err
		}
		sr.entries[strings.TrimPrefix(f.Name, "_")] = v
	}
	return sr, nil
}

// Entry returns the named stub entry, e.g. "call_stub_entry".
func (sr *StubRoutines) Entry(name string) (libpf.Address, bool) {
	v, ok := sr.entries[name]
	return v, ok
}

// Entries returns all stub entries by name.
func (sr *StubRoutines) Entries() map[string]libpf.Address {
	return sr.entries
}

// ReturnsToCallStub reports whether pc is the return address of the call stub,
// which marks the boundary between Java and native frames.
func (sr *StubRoutines) ReturnsToCallStub(pc libpf.Address) bool {
	v, ok := sr.entries["call_stub_return_address"]
	return ok && v != 0 && v == pc
}

// CodeCache bounds the compiled code.
type CodeCache struct {
	Low, High libpf.Address
}

// NewCodeCache reads the code cache bounds, from CodeCache::_low_bound and
// _high_bound when present, otherwise through the CodeHeap's VirtualSpace.
func NewCodeCache(vm VM) (*CodeCache, error) {
	db := vm.TypeDataBase()
	cc, err := db.LookupType("CodeCache")
	if err != nil {
		return nil, err
	}
	if cc.DeclaredField("_low_bound") != nil {
		bounds, err := staticAddresses(db, "CodeCache", "_low_bound", "_high_bound")
		if err != nil {
			return nil, err
		}
		return &CodeCache{Low: bounds[0], High: bounds[1]}, nil
	}
	return codeCacheFromHeap(db)
}

func codeCacheFromHeap(db vmstructs.TypeDataBase) (*CodeCache, error) {
	heap, err := staticAddress(db, "CodeCache", "_heap")
	if err != nil {
		return nil, err
	}
	if heap == 0 {
		return nil, errors.New("code heap not allocated")
	}
	memory, err := field(db, "CodeHeap", "_memory")
	if err != nil {
		return nil, err
	}
	low, err := field(db, "VirtualSpace", "_low_boundary")
	if err != nil {
		return nil, err
	}
	high, err := field(db, "VirtualSpace", "_high_boundary")
	if err != nil {
		return nil, err
	}
	vs := memory.Location(heap)
	lo, err := low.AddressAt(vs)
	if err != nil {
		return nil, err
	}
	hi, err := high.AddressAt(vs)
	if err != nil {
		return nil, err
	}
	return &CodeCache{Low: lo, High: hi}, nil
}

// Contains reports whether pc is in compiled code.
func (cc *CodeCache) Contains(pc libpf.Address) bool {
	return pc >= cc.Low && pc < cc.High
}

// Runtime1 holds the C1 runtime stubs.
type Runtime1 struct {
	vm    VM
	Blobs libpf.Address
}

// NewRuntime1 reads the address of the C1 runtime stub blobs.
func NewRuntime1(vm VM) (*Runtime1, error) {
	f, err := field(vm.TypeDataBase(), "Runtime1", "_blobs")
	if err != nil {
		return nil, err
	}
	return &Runtime1{vm: vm, Blobs: f.StaticAddress}, nil
}

// Blob returns the code blob of the given C1 stub id.
func (r *Runtime1) Blob(id int) (libpf.Address, error) {
	if id < 0 {
		return 0, fmt.Errorf("bad stub id %d", id)
	}
	rm := r.vm.TypeDataBase().Memory()
	return rm.Address(r.Blobs.AddOffset(uint64(id * r.vm.AddressSize())))
}

// VMRegImpl describes the VM register numbering.
type VMRegImpl struct {
	vm      VM
	Stack0  int
	regName libpf.Address
}

// NewVMRegImpl reads the register name table.
func NewVMRegImpl(vm VM) (*VMRegImpl, error) {
	db := vm.TypeDataBase()
	stack0, err := staticAddress(db, "VMRegImpl", "stack0")
	if err != nil {
		return nil, err
	}
	names, err := field(db, "VMRegImpl", "regName[0]")
	if err != nil {
		return nil, err
	}
	return &VMRegImpl{vm: vm, Stack0: int(stack0), regName: names.StaticAddress}, nil
}

// RegisterName returns the name of register number i. Stack slots have no
// name.
func (r *VMRegImpl) RegisterName(i int) (string, error) {
	if i < 0 || i >= r.Stack0 {
		return "", fmt.Errorf("register %d out of range [0, %d)", i, r.Stack0)
	}
	rm := r.vm.TypeDataBase().Memory()
	ptr, err := rm.Address(r.regName.AddOffset(uint64(i * r.vm.AddressSize())))
	if err != nil {
		return "", err
	}
	return rm.CString(ptr)
}
