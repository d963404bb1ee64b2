// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package vm // import "go.opentelemetry.io/hotspot-sa/vm"

import (
	"fmt"
	"runtime"

	"go.opentelemetry.io/hotspot-sa/config"
	"go.opentelemetry.io/hotspot-sa/debugger"
	"go.opentelemetry.io/hotspot-sa/libpf"
	"go.opentelemetry.io/hotspot-sa/remotememory"
	"go.opentelemetry.io/hotspot-sa/subsys"
	"go.opentelemetry.io/hotspot-sa/vmstructs"
)

// Debugger is the live debugger a session can be attached through.
type Debugger interface {
	MachineDescription() debugger.MachineDescription
	OS() string
	CPU() string
	PutHeapConst(debugger.HeapConst)
}

var _ Debugger = &debugger.Process{}

type compiler int

const (
	compilerNone compiler = iota
	compilerClient
	compilerServer
)

// Session is the interpretation of one attached target. Everything derived
// at construction is immutable; flag based facts and subsystems are computed
// on first use and then never change. A Session is safe for concurrent use.
type Session struct {
	cfg       config.Config
	db        vmstructs.TypeDataBase
	dbg       Debugger
	factories Factories

	bigEndian      bool
	addressSize    int
	logAddressSize int

	vmRelease                    string
	vmInternalInfo               string
	reserveForAllocationPrefetch int

	stackBias          int
	invocationEntryBCI int
	invalidOSREntryBCI int
	compiler           compiler
	isLP64             bool

	bytesPerLong int
	bytesPerWord int
	heapWordSize int
	oopSize      int

	intxType  *vmstructs.Type
	uintxType *vmstructs.Type
	boolType  *vmstructs.Type

	minObjAlignmentInBytes    int
	logMinObjAlignmentInBytes int
	heapOopSize               int
	klassPtrSize              int

	flags                  slot[[]*Flag]
	flagIndex              slot[map[string]*Flag]
	objectAlignment        slot[int]
	sharingEnabled         slot[bool]
	compressedOopsEnabled  slot[bool]
	compressedKlassEnabled slot[bool]

	universe           slot[*subsys.Universe]
	objectHeap         slot[*subsys.ObjectHeap]
	symbolTable        slot[*subsys.SymbolTable]
	stringTable        slot[*subsys.StringTable]
	systemDictionary   slot[*subsys.SystemDictionary]
	threads            slot[*subsys.Threads]
	objectSynchronizer slot[*subsys.ObjectSynchronizer]
	jniHandles         slot[*subsys.JNIHandles]
	interpreter        slot[*subsys.Interpreter]
	stubRoutines       slot[*subsys.StubRoutines]
	codeCache          slot[*subsys.CodeCache]
	runtime1           slot[*subsys.Runtime1]
	vmRegImpl          slot[*subsys.VMRegImpl]
	bytes              slot[*subsys.Bytes]

	resumed   executionObservers
	suspended executionObservers
}

var _ subsys.VM = &Session{}

func intConstant(db vmstructs.TypeDataBase, name string) (int, error) {
	v, ok := db.LookupIntConstant(name)
	if !ok {
		return 0, fmt.Errorf("integer constant %s: %w", name, vmstructs.ErrNotFound)
	}
	return int(v), nil
}

// newSession derives all attach time facts of the target. Nothing of a
// failed construction is retained.
func newSession(cfg config.Config, db vmstructs.TypeDataBase, dbg Debugger,
	bigEndian bool, factories Factories) (*Session, error) {
	s := &Session{
		cfg:       cfg,
		db:        db,
		dbg:       dbg,
		factories: factories,
		bigEndian: bigEndian,
	}

	s.addressSize = db.AddressSize()
	switch s.addressSize {
	case 4:
		s.logAddressSize = 2
	case 8:
		s.logAddressSize = 3
	default:
		return nil, &ConfigError{What: "address size", Value: int64(s.addressSize)}
	}

	if err := s.readVersion(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVersionUnknown, err)
	}
	if err := checkVMVersion(cfg, s.vmRelease); err != nil {
		return nil, err
	}

	consts := []struct {
		name string
		dst  *int
	}{
		{"STACK_BIAS", &s.stackBias},
		{"InvocationEntryBci", &s.invocationEntryBCI},
		{"InvalidOSREntryBci", &s.invalidOSREntryBCI},
		{"BytesPerLong", &s.bytesPerLong},
		{"BytesPerWord", &s.bytesPerWord},
		{"HeapWordSize", &s.heapWordSize},
		{"oopSize", &s.oopSize},
	}
	for _, c := range consts {
		v, err := intConstant(db, c.name)
		if err != nil {
			return nil, err
		}
		*c.dst = v
	}

	// The JIT configuration is inferred from the type database: only JIT
	// builds have compiled entries in Method, and only C2 has a Matcher.
	method, err := db.LookupType("Method")
	if err != nil {
		return nil, err
	}
	switch {
	case method.DeclaredField("_from_compiled_entry") == nil:
		s.compiler = compilerNone
	case db.FindType("Matcher") != nil:
		s.compiler = compilerServer
	default:
		s.compiler = compilerClient
	}

	if dbg != nil {
		s.isLP64 = dbg.MachineDescription().LP64
	}

	for _, t := range []struct {
		name string
		dst  **vmstructs.Type
	}{
		{"intx", &s.intxType},
		{"uintx", &s.uintxType},
		{"bool", &s.boolType},
	} {
		typ, err := db.LookupType(t.name)
		if err != nil {
			return nil, err
		}
		*t.dst = typ
	}

	align, err := s.objectAlignmentInBytes()
	if err != nil {
		return nil, err
	}
	switch align {
	case 8:
		s.logMinObjAlignmentInBytes = 3
	case 16:
		s.logMinObjAlignmentInBytes = 4
	default:
		return nil, &ConfigError{What: "object alignment", Value: int64(align)}
	}
	s.minObjAlignmentInBytes = align

	compressedOops, err := s.compressedOops()
	if err != nil {
		return nil, err
	}
	if compressedOops {
		s.heapOopSize = db.IntSize()
	} else {
		s.heapOopSize = s.oopSize
	}
	compressedKlass, err := s.compressedKlassPointers()
	if err != nil {
		return nil, err
	}
	if compressedKlass {
		s.klassPtrSize = db.IntSize()
	} else {
		s.klassPtrSize = s.oopSize
	}
	return s, nil
}

// readVersion reads the release strings from Abstract_VM_Version.
func (s *Session) readVersion() error {
	t, err := s.db.LookupType("Abstract_VM_Version")
	if err != nil {
		return err
	}
	rm := s.db.Memory()
	readString := func(name string) (string, error) {
		f, err := t.Field(name)
		if err != nil {
			return "", err
		}
		addr, err := f.Value()
		if err != nil {
			return "", err
		}
		return rm.CString(addr)
	}
	if s.vmRelease, err = readString("_s_vm_release"); err != nil {
		return err
	}
	if s.vmInternalInfo, err = readString("_s_internal_vm_info_string"); err != nil {
		return err
	}

	intType, err := s.db.LookupType("int")
	if err != nil {
		return err
	}
	prefetch, err := t.Field("_reserve_for_allocation_prefetch")
	if err != nil {
		return err
	}
	v, err := prefetch.CIntegerAtAs(0, intType)
	if err != nil {
		return err
	}
	s.reserveForAllocationPrefetch = int(int64(v))
	return nil
}

// AddressSize returns the size of a native pointer of the target.
func (s *Session) AddressSize() int { return s.addressSize }

// LogAddressSize returns log2 of AddressSize.
func (s *Session) LogAddressSize() int { return s.logAddressSize }

// OopSize returns the size of an uncompressed oop.
func (s *Session) OopSize() int { return s.oopSize }

// IntSize returns the size of a Java int.
func (s *Session) IntSize() int { return s.db.IntSize() }

// StackBias is added to raw stack pointer values on ABIs that bias them.
func (s *Session) StackBias() int { return s.stackBias }

// IsLP64 reports whether longs and pointers are 64 bits. Only known when
// attached through a debugger.
func (s *Session) IsLP64() bool {
	if s.dbg == nil {
		panic("bug: IsLP64 is only known when debugging")
	}
	return s.isLP64
}

// BytesPerLong is the size of a Java long.
func (s *Session) BytesPerLong() int { return s.bytesPerLong }

// BytesPerWord is the size of a machine word.
func (s *Session) BytesPerWord() int { return s.bytesPerWord }

// HeapWordSize is the size of a HeapWord, the unit of heap allocation.
func (s *Session) HeapWordSize() int { return s.heapWordSize }

// MinObjAlignmentInBytes is the object alignment, 8 or 16.
func (s *Session) MinObjAlignmentInBytes() int { return s.minObjAlignmentInBytes }

// LogMinObjAlignmentInBytes is log2 of MinObjAlignmentInBytes.
func (s *Session) LogMinObjAlignmentInBytes() int { return s.logMinObjAlignmentInBytes }

// HeapOopSize is the size of a reference stored in a Java object.
func (s *Session) HeapOopSize() int { return s.heapOopSize }

// KlassPtrSize is the size of the klass pointer in an object header.
func (s *Session) KlassPtrSize() int { return s.klassPtrSize }

// ReserveForAllocationPrefetch is the number of words a TLAB keeps free for
// allocation prefetching.
func (s *Session) ReserveForAllocationPrefetch() int { return s.reserveForAllocationPrefetch }

// InvocationEntryBCI is the bytecode index of a method entry.
func (s *Session) InvocationEntryBCI() int { return s.invocationEntryBCI }

// InvalidOSREntryBCI marks the absence of an OSR entry.
func (s *Session) InvalidOSREntryBCI() int { return s.invalidOSREntryBCI }

// VMRelease returns the release string of the target, e.g. "25.402-b06".
func (s *Session) VMRelease() string { return s.vmRelease }

// VMInternalInfo returns the long version string of the target.
func (s *Session) VMInternalInfo() string { return s.vmInternalInfo }

func (s *Session) IsBigEndian() bool { return s.bigEndian }

// IsCore reports a build without JIT.
func (s *Session) IsCore() bool { return s.compiler == compilerNone }

// IsClientCompiler reports a C1 only build.
func (s *Session) IsClientCompiler() bool { return s.compiler == compilerClient }

// IsServerCompiler reports a build with C2.
func (s *Session) IsServerCompiler() bool { return s.compiler == compilerServer }

// IsDebugging reports whether the session was attached through a debugger.
func (s *Session) IsDebugging() bool { return s.dbg != nil }

// Debugger returns the debugger the session was attached through.
func (s *Session) Debugger() Debugger {
	if s.dbg == nil {
		panic("bug: attempt to use debugger in runtime system")
	}
	return s.dbg
}

var platformCPU = map[string]string{
	"amd64": "amd64",
	"386":   "x86",
	"arm64": "aarch64",
}

// OS returns the operating system of the target.
func (s *Session) OS() string {
	if s.dbg != nil {
		return s.dbg.OS()
	}
	return runtime.GOOS
}

// CPU returns the processor architecture of the target.
func (s *Session) CPU() string {
	if s.dbg != nil {
		return s.dbg.CPU()
	}
	if cpu, ok := platformCPU[runtime.GOARCH]; ok {
		return cpu
	}
	return runtime.GOARCH
}

// UseDerivedPointerTable reports whether compiled frames' derived pointers
// are tracked.
func (s *Session) UseDerivedPointerTable() bool {
	return !s.cfg.DisableDerivedPointerTableCheck
}

// TypeDataBase returns the type database of the target.
func (s *Session) TypeDataBase() vmstructs.TypeDataBase { return s.db }

// LookupType looks up a type of the target.
func (s *Session) LookupType(name string) (*vmstructs.Type, error) {
	return s.db.LookupType(name)
}

// LookupIntConstant looks up an integer constant of the target.
func (s *Session) LookupIntConstant(name string) (int64, bool) {
	return s.db.LookupIntConstant(name)
}

// Memory returns the reader of the target memory.
func (s *Session) Memory() remotememory.RemoteMemory { return s.db.Memory() }

// IsJavaPCDbg reports whether pc is in the interpreter or in compiled code.
func (s *Session) IsJavaPCDbg(pc libpf.Address) (bool, error) {
	in, err := s.Interpreter()
	if err != nil {
		return false, err
	}
	if in.Contains(pc) {
		return true, nil
	}
	if s.IsCore() {
		return false, nil
	}
	cc, err := s.CodeCache()
	if err != nil {
		return false, err
	}
	return cc.Contains(pc), nil
}

// AlignUp rounds size up to a multiple of alignment, a power of two.
func (s *Session) AlignUp(size, alignment int64) int64 {
	return (size + alignment - 1) &^ (alignment - 1)
}

// AlignDown rounds size down to a multiple of alignment, a power of two.
func (s *Session) AlignDown(size, alignment int64) int64 {
	return size &^ (alignment - 1)
}

// BuildIntFromShorts joins two 16-bit halves.
func (s *Session) BuildIntFromShorts(low, high int16) int32 {
	return int32(high)<<16 | int32(uint16(low))
}

// BuildLongFromIntsPD joins two 32-bit halves of a long stored in two
// consecutive slots, in the platform dependent order.
func (s *Session) BuildLongFromIntsPD(oneHalf, otherHalf int32) int64 {
	if s.bigEndian {
		return int64(otherHalf)<<32 | int64(uint32(oneHalf))
	}
	return int64(oneHalf)<<32 | int64(uint32(otherHalf))
}

// RegisterVMResumedObserver adds fn to the observers of FireVMResumed. It is
// not called on registration.
func (s *Session) RegisterVMResumedObserver(fn func()) { s.resumed.register(fn) }

// RegisterVMSuspendedObserver adds fn to the observers of FireVMSuspended. It
// is not called on registration.
func (s *Session) RegisterVMSuspendedObserver(fn func()) { s.suspended.register(fn) }

// FireVMResumed notifies observers that the caller resumed the target.
func (s *Session) FireVMResumed() { s.resumed.fire() }

// FireVMSuspended notifies observers that the caller suspended the target.
func (s *Session) FireVMSuspended() { s.suspended.fire() }
