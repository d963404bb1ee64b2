// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package fakejvm // import "go.opentelemetry.io/hotspot-sa/testsupport/fakejvm"

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/hotspot-sa/libpf"
	"go.opentelemetry.io/hotspot-sa/vmstructs"
)

// Compiler selects which JIT the fake target was built with.
type Compiler int

const (
	// Core has no JIT.
	Core Compiler = iota
	// Client has C1 only.
	Client
	// Server has C2.
	Server
)

// DefaultRelease is the release string used when Config.Release is empty.
const DefaultRelease = "25.402-b06"

// Flag is one command line flag of the fake target.
type Flag struct {
	Type   string
	Name   string
	Value  uint64
	Origin uint32
}

// Config describes the fake target.
type Config struct {
	// PointerSize is 4 or 8, zero means 8.
	PointerSize int
	BigEndian   bool

	Release      string
	InternalInfo string
	// OmitVersion leaves the version fields out of Abstract_VM_Version.
	OmitVersion bool

	Compiler Compiler

	// Flags are published in this order, followed by the all-NULL sentinel.
	Flags []Flag

	// IntConstants override or extend the default integer constants.
	IntConstants map[string]int32
	// OmitIntConstants removes default integer constants.
	OmitIntConstants []string

	ReserveForAllocationPrefetch int32

	NarrowOopBase    libpf.Address
	NarrowOopShift   int32
	NarrowKlassBase  libpf.Address
	NarrowKlassShift int32

	// CodeBounds publishes CodeCache::_low_bound/_high_bound instead of the
	// CodeCache::_heap chain.
	CodeBounds bool

	ExtraTypes   []TypeEntry
	ExtraStructs []StructEntry
}

// JVM is a fake target and the addresses of interesting data inside it.
type JVM struct {
	*Image

	Symbols vmstructs.Symbols
	Tables  *Tables

	// FlagStorage maps flag names to the address of their value.
	FlagStorage map[string]libpf.Address
	FlagArray   libpf.Address

	CollectedHeap      libpf.Address
	SymbolTable        libpf.Address
	StringTable        libpf.Address
	Dictionary         libpf.Address
	ThreadList         libpf.Address
	NumberOfThreads    int32
	BlockList          libpf.Address
	GlobalHandles      libpf.Address
	WeakGlobalHandles  libpf.Address
	StubBuffer         libpf.Address
	StubBufferLimit    int32
	CodeLow, CodeHigh  libpf.Address
	CallStubReturn     libpf.Address
	CallStubEntry      libpf.Address
	Runtime1Blobs      libpf.Address
	Stack0             int
	RegisterNames      []string
	// VMReleaseField and InternalInfoField are the static char* cells
	// holding the version strings.
	VMReleaseField    libpf.Address
	InternalInfoField libpf.Address
}

// DefaultIntConstants are the integer constants every fake target publishes
// unless overridden.
func DefaultIntConstants(ptrSize int) map[string]int32 {
	return map[string]int32{
		"STACK_BIAS":         0,
		"InvocationEntryBci": -1,
		"InvalidOSREntryBci": -2,
		"BytesPerLong":       8,
		"BytesPerWord":       int32(ptrSize),
		"HeapWordSize":       int32(ptrSize),
		"oopSize":            int32(ptrSize),
	}
}

// FlagSize returns the storage size of a flag of the given C type.
func FlagSize(typ string, ptrSize int) int {
	switch typ {
	case "bool":
		return 1
	case "uint64_t", "double":
		return 8
	default:
		return ptrSize
	}
}

type builder struct {
	*JVM
	cfg Config
	ps  uint64
	t   *Tables
}

func (b *builder) typ(name, super string, size uint64) {
	b.t.Types = append(b.t.Types, TypeEntry{Name: name, Superclass: super, Size: size})
}

func (b *builder) intType(name string, size uint64, unsigned bool) {
	b.t.Types = append(b.t.Types, TypeEntry{
		Name:          name,
		Size:          size,
		IsIntegerType: true,
		IsUnsigned:    unsigned,
	})
}

func (b *builder) field(typeName, fieldName, typeString string, offset uint64) {
	b.t.Structs = append(b.t.Structs, StructEntry{
		TypeName:   typeName,
		FieldName:  fieldName,
		TypeString: typeString,
		Offset:     offset,
	})
}

func (b *builder) static(typeName, fieldName, typeString string, addr libpf.Address) {
	b.t.Structs = append(b.t.Structs, StructEntry{
		TypeName:   typeName,
		FieldName:  fieldName,
		TypeString: typeString,
		IsStatic:   true,
		Address:    addr,
	})
}

// staticPtr publishes a static pointer field holding v.
func (b *builder) staticPtr(typeName, fieldName, typeString string, v libpf.Address) {
	b.static(typeName, fieldName, typeString, b.NewPtr(v))
}

// staticInt publishes a static int field holding v.
func (b *builder) staticInt(typeName, fieldName string, v int32) {
	b.static(typeName, fieldName, "int", b.NewUint(4, uint64(uint32(v))))
}

// New builds a fake HotSpot target.
func New(cfg Config) *JVM {
	if cfg.PointerSize == 0 {
		cfg.PointerSize = 8
	}
	if cfg.Release == "" {
		cfg.Release = DefaultRelease
	}
	if cfg.InternalInfo == "" {
		cfg.InternalInfo = "OpenJDK 64-Bit Server VM (" + cfg.Release + ") for linux-amd64 JRE"
	}

	b := &builder{
		JVM: &JVM{
			Image:       NewImage(cfg.PointerSize, cfg.BigEndian),
			FlagStorage: make(map[string]libpf.Address),
		},
		cfg: cfg,
		ps:  uint64(cfg.PointerSize),
		t:   &Tables{},
	}
	b.primitives()
	b.version()
	b.compiler()
	b.flags()
	b.universe()
	b.tables()
	b.interpreter()
	b.codeCache()
	b.vmReg()
	b.constants()

	b.t.Types = append(b.t.Types, cfg.ExtraTypes...)
	b.t.Structs = append(b.t.Structs, cfg.ExtraStructs...)

	b.Tables = b.t
	b.Symbols = b.Publish(b.t)
	return b.JVM
}

func (b *builder) primitives() {
	b.intType("jint", 4, false)
	b.intType("int", 4, false)
	b.intType("char", 1, false)
	b.intType("bool", 1, true)
	b.intType("intx", b.ps, false)
	b.intType("uintx", b.ps, true)
	b.intType("size_t", b.ps, true)
	b.intType("uint64_t", 8, true)
	b.intType("narrowKlass", 4, true)
	b.intType("Flag::Flags", 4, true)
	b.typ("address", "", b.ps)
}

func (b *builder) version() {
	b.typ("Abstract_VM_Version", "", 1)
	if !b.cfg.OmitVersion {
		b.VMReleaseField = b.NewPtr(b.CString(b.cfg.Release))
		b.InternalInfoField = b.NewPtr(b.CString(b.cfg.InternalInfo))
		b.static("Abstract_VM_Version", "_s_vm_release", "const char*", b.VMReleaseField)
		b.static("Abstract_VM_Version", "_s_internal_vm_info_string", "const char*",
			b.InternalInfoField)
	}
	b.staticInt("Abstract_VM_Version", "_reserve_for_allocation_prefetch",
		b.cfg.ReserveForAllocationPrefetch)
}

func (b *builder) compiler() {
	b.typ("Metadata", "", b.ps)
	b.typ("Method", "Metadata", 11*b.ps)
	b.field("Method", "_constMethod", "ConstMethod*", b.ps)
	if b.cfg.Compiler != Core {
		b.field("Method", "_from_compiled_entry", "address", 8*b.ps)
	}
	if b.cfg.Compiler == Server {
		b.typ("Matcher", "", 1)
	}
}

func (b *builder) flags() {
	ps := b.ps
	b.typ("Flag", "", 4*ps)
	b.field("Flag", "_type", "const char*", 0)
	b.field("Flag", "_name", "const char*", ps)
	b.field("Flag", "_addr", "void*", 2*ps)
	b.field("Flag", "_flags", "Flag::Flags", 3*ps)

	n := len(b.cfg.Flags) + 1
	b.FlagArray = b.Alloc(n * int(4*ps))
	for i, f := range b.cfg.Flags {
		rec := b.FlagArray + libpf.Address(uint64(i)*4*ps)
		size := FlagSize(f.Type, b.cfg.PointerSize)
		storage := b.NewUint(size, f.Value)
		b.FlagStorage[f.Name] = storage
		b.PutPtr(rec, b.CString(f.Type))
		b.PutPtr(rec+libpf.Address(ps), b.CString(f.Name))
		b.PutPtr(rec+libpf.Address(2*ps), storage)
		b.PutUint(rec+libpf.Address(3*ps), 4, uint64(f.Origin))
	}
	b.staticPtr("Flag", "flags", "Flag*", b.FlagArray)
	b.static("Flag", "numFlags", "size_t", b.NewUint(int(ps), uint64(n)))
}

func (b *builder) universe() {
	ps := b.ps
	b.typ("Universe", "", 1)
	b.typ("CollectedHeap", "", 16*ps)
	b.CollectedHeap = b.Alloc(int(16 * ps))
	b.staticPtr("Universe", "_narrow_oop._base", "address", b.cfg.NarrowOopBase)
	b.staticInt("Universe", "_narrow_oop._shift", b.cfg.NarrowOopShift)
	b.staticPtr("Universe", "_narrow_klass._base", "address", b.cfg.NarrowKlassBase)
	b.staticInt("Universe", "_narrow_klass._shift", b.cfg.NarrowKlassShift)
	b.staticPtr("Universe", "_collectedHeap", "CollectedHeap*", b.CollectedHeap)

	b.typ("oopDesc", "", 2*ps)
	b.field("oopDesc", "_mark", "markOop", 0)
	b.field("oopDesc", "_metadata._klass", "Klass*", ps)
	b.field("oopDesc", "_metadata._compressed_klass", "narrowKlass", ps)
}

func (b *builder) tables() {
	ps := int(b.ps)
	b.typ("SymbolTable", "", 8*b.ps)
	b.SymbolTable = b.Alloc(8 * ps)
	b.staticPtr("SymbolTable", "_the_table", "SymbolTable*", b.SymbolTable)

	b.typ("StringTable", "", 8*b.ps)
	b.StringTable = b.Alloc(8 * ps)
	b.staticPtr("StringTable", "_the_table", "StringTable*", b.StringTable)

	b.typ("SystemDictionary", "", 1)
	b.Dictionary = b.Alloc(8 * ps)
	b.staticPtr("SystemDictionary", "_dictionary", "Dictionary*", b.Dictionary)

	b.typ("Threads", "", 1)
	b.ThreadList = b.Alloc(64 * ps)
	b.NumberOfThreads = 7
	b.staticPtr("Threads", "_thread_list", "JavaThread*", b.ThreadList)
	b.staticInt("Threads", "_number_of_threads", b.NumberOfThreads)

	b.typ("ObjectSynchronizer", "", 1)
	b.BlockList = b.Alloc(16 * ps)
	b.staticPtr("ObjectSynchronizer", "gBlockList", "ObjectMonitor*", b.BlockList)

	b.typ("JNIHandles", "", 1)
	b.GlobalHandles = b.Alloc(8 * ps)
	b.WeakGlobalHandles = b.Alloc(8 * ps)
	b.staticPtr("JNIHandles", "_global_handles", "JNIHandleBlock*", b.GlobalHandles)
	b.staticPtr("JNIHandles", "_weak_global_handles", "JNIHandleBlock*", b.WeakGlobalHandles)
}

func (b *builder) interpreter() {
	ps := b.ps
	b.StubBufferLimit = 0x4000
	b.StubBuffer = b.Alloc(int(b.StubBufferLimit))

	b.typ("StubQueue", "", 4*ps)
	b.field("StubQueue", "_stub_buffer", "address", 0)
	b.field("StubQueue", "_buffer_limit", "int", ps)
	queue := b.Alloc(int(4 * ps))
	b.PutPtr(queue, b.StubBuffer)
	b.PutUint(queue+libpf.Address(ps), 4, uint64(b.StubBufferLimit))

	b.typ("AbstractInterpreter", "", 1)
	b.staticPtr("AbstractInterpreter", "_code", "StubQueue*", queue)

	b.typ("StubRoutines", "", 1)
	b.CallStubReturn = b.StubBuffer + 0x100
	b.CallStubEntry = b.StubBuffer + 0x40
	b.staticPtr("StubRoutines", "_call_stub_return_address", "address", b.CallStubReturn)
	b.staticPtr("StubRoutines", "_call_stub_entry", "address", b.CallStubEntry)
	b.staticPtr("StubRoutines", "_catch_exception_entry", "address", 0)
}

func (b *builder) codeCache() {
	if b.cfg.Compiler == Core {
		return
	}
	ps := b.ps
	b.CodeLow = b.Alloc(0x8000)
	b.CodeHigh = b.CodeLow + 0x8000

	b.typ("CodeCache", "", 1)
	if b.cfg.CodeBounds {
		b.staticPtr("CodeCache", "_low_bound", "address", b.CodeLow)
		b.staticPtr("CodeCache", "_high_bound", "address", b.CodeHigh)
	} else {
		b.typ("VirtualSpace", "", 8*ps)
		b.field("VirtualSpace", "_low_boundary", "char*", 0)
		b.field("VirtualSpace", "_high_boundary", "char*", ps)
		b.typ("CodeHeap", "", 16*ps)
		b.field("CodeHeap", "_memory", "VirtualSpace", 2*ps)
		heap := b.Alloc(int(16 * ps))
		b.PutPtr(heap+libpf.Address(2*ps), b.CodeLow)
		b.PutPtr(heap+libpf.Address(3*ps), b.CodeHigh)
		b.staticPtr("CodeCache", "_heap", "CodeHeap*", heap)
	}

	if b.cfg.Compiler == Client {
		b.typ("Runtime1", "", 1)
		b.Runtime1Blobs = b.Alloc(32 * int(ps))
		b.static("Runtime1", "_blobs", "CodeBlob*", b.Runtime1Blobs)
	}
}

func (b *builder) vmReg() {
	b.typ("VMRegImpl", "", 1)
	b.typ("VMReg", "", b.ps)
	b.Stack0 = 32
	b.staticPtr("VMRegImpl", "stack0", "VMReg", libpf.Address(b.Stack0))

	b.RegisterNames = []string{"rax", "rcx", "rdx", "rbx"}
	names := b.Alloc(len(b.RegisterNames) * int(b.ps))
	for i, name := range b.RegisterNames {
		b.PutPtr(names+libpf.Address(uint64(i)*b.ps), b.CString(name))
	}
	b.static("VMRegImpl", "regName[0]", "const char*", names)
}

func (b *builder) constants() {
	consts := DefaultIntConstants(b.cfg.PointerSize)
	for name, v := range b.cfg.IntConstants {
		consts[name] = v
	}
	for _, name := range b.cfg.OmitIntConstants {
		delete(consts, name)
	}
	names := make([]string, 0, len(consts))
	for name := range consts {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		b.t.IntConstants = append(b.t.IntConstants, IntConstant{Name: name, Value: consts[name]})
	}
	b.t.LongConstants = append(b.t.LongConstants,
		LongConstant{Name: "markOopDesc::hash_mask", Value: 0x7fffffff},
		LongConstant{Name: "markOopDesc::hash_mask_in_place", Value: 0x7fffffff00})
}

// Database loads the type database of the fake target.
func (j *JVM) Database(tb testing.TB) *vmstructs.Database {
	tb.Helper()
	db, err := vmstructs.Load(j.Memory(), j.Symbols)
	require.NoError(tb, err)
	return db
}
