// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/hotspot-sa/config"
	"go.opentelemetry.io/hotspot-sa/libpf"
	"go.opentelemetry.io/hotspot-sa/subsys"
	"go.opentelemetry.io/hotspot-sa/testsupport/fakejvm"
	"go.opentelemetry.io/hotspot-sa/vmstructs"
)

func testConfig() config.Config {
	return config.Config{SABuildVersion: fakejvm.DefaultRelease}
}

// attach builds a fake target and attaches a fresh manager to it.
func attach(t *testing.T, cfg fakejvm.Config, opts ...Option) (*fakejvm.JVM, *Session) {
	t.Helper()
	jvm := fakejvm.New(cfg)
	m := NewManager(testConfig(), opts...)
	require.NoError(t, m.Initialize(jvm.Database(t), jvm.BigEndian()))
	s, err := m.VM()
	require.NoError(t, err)
	return jvm, s
}

func tryAttach(t *testing.T, cfg fakejvm.Config) error {
	t.Helper()
	jvm := fakejvm.New(cfg)
	m := NewManager(testConfig())
	err := m.Initialize(jvm.Database(t), jvm.BigEndian())
	if err != nil {
		assert.False(t, m.Attached())
	}
	return err
}

func TestSessionFacts(t *testing.T) {
	tests := map[string]struct {
		cfg            fakejvm.Config
		addressSize    int
		logAddressSize int
		core           bool
		client         bool
		server         bool
	}{
		"64-bit core": {
			cfg:            fakejvm.Config{Compiler: fakejvm.Core},
			addressSize:    8,
			logAddressSize: 3,
			core:           true,
		},
		"32-bit client": {
			cfg:            fakejvm.Config{PointerSize: 4, Compiler: fakejvm.Client},
			addressSize:    4,
			logAddressSize: 2,
			client:         true,
		},
		"64-bit big endian server": {
			cfg:            fakejvm.Config{BigEndian: true, Compiler: fakejvm.Server},
			addressSize:    8,
			logAddressSize: 3,
			server:         true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			tc.cfg.ReserveForAllocationPrefetch = 3
			_, s := attach(t, tc.cfg)

			assert.Equal(t, tc.addressSize, s.AddressSize())
			assert.Equal(t, tc.logAddressSize, s.LogAddressSize())
			assert.Equal(t, tc.addressSize, s.OopSize())
			assert.Equal(t, tc.addressSize, s.HeapOopSize())
			assert.Equal(t, tc.addressSize, s.KlassPtrSize())
			assert.Equal(t, tc.addressSize, s.BytesPerWord())
			assert.Equal(t, tc.addressSize, s.HeapWordSize())
			assert.Equal(t, 8, s.BytesPerLong())
			assert.Equal(t, 4, s.IntSize())
			assert.Equal(t, 0, s.StackBias())
			assert.Equal(t, -1, s.InvocationEntryBCI())
			assert.Equal(t, -2, s.InvalidOSREntryBCI())
			assert.Equal(t, 3, s.ReserveForAllocationPrefetch())
			assert.Equal(t, tc.cfg.BigEndian, s.IsBigEndian())
			assert.Equal(t, fakejvm.DefaultRelease, s.VMRelease())
			assert.Contains(t, s.VMInternalInfo(), fakejvm.DefaultRelease)

			assert.Equal(t, tc.core, s.IsCore())
			assert.Equal(t, tc.client, s.IsClientCompiler())
			assert.Equal(t, tc.server, s.IsServerCompiler())

			assert.False(t, s.IsDebugging())
			assert.True(t, s.UseDerivedPointerTable())
			assert.NotEmpty(t, s.OS())
			assert.NotEmpty(t, s.CPU())

			v, ok := s.LookupIntConstant("BytesPerLong")
			assert.True(t, ok)
			assert.Equal(t, int64(8), v)
			_, err := s.LookupType("Method")
			assert.NoError(t, err)
			assert.True(t, s.Memory().Valid())
		})
	}
}

func TestNegativeReserveForAllocationPrefetch(t *testing.T) {
	_, s := attach(t, fakejvm.Config{ReserveForAllocationPrefetch: -7})
	assert.Equal(t, -7, s.ReserveForAllocationPrefetch())
}

func TestDerivedPointerTableOptOut(t *testing.T) {
	jvm := fakejvm.New(fakejvm.Config{})
	cfg := testConfig()
	cfg.DisableDerivedPointerTableCheck = true
	m := NewManager(cfg)
	require.NoError(t, m.Initialize(jvm.Database(t), false))
	s, err := m.VM()
	require.NoError(t, err)
	assert.False(t, s.UseDerivedPointerTable())
}

// sizedDB reports a forced address size.
type sizedDB struct {
	vmstructs.TypeDataBase
	size int
}

func (d sizedDB) AddressSize() int { return d.size }

func TestAddressSizeValidation(t *testing.T) {
	for _, size := range []int{0, 2, 6, 16} {
		jvm := fakejvm.New(fakejvm.Config{})
		m := NewManager(testConfig())
		err := m.Initialize(sizedDB{jvm.Database(t), size}, false)
		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr, "size %d", size)
		assert.Equal(t, "address size", cfgErr.What)
		assert.Equal(t, int64(size), cfgErr.Value)
		assert.False(t, m.Attached())
	}
}

func TestObjectAlignment(t *testing.T) {
	tests := map[string]struct {
		flags []fakejvm.Flag
		align int
		log   int
		err   bool
	}{
		"absent": {align: 8, log: 3},
		"8": {
			flags: []fakejvm.Flag{{Type: "intx", Name: "ObjectAlignmentInBytes", Value: 8}},
			align: 8, log: 3,
		},
		"16": {
			flags: []fakejvm.Flag{{Type: "intx", Name: "ObjectAlignmentInBytes", Value: 16}},
			align: 16, log: 4,
		},
		"12": {
			flags: []fakejvm.Flag{{Type: "intx", Name: "ObjectAlignmentInBytes", Value: 12}},
			err:   true,
		},
		"0": {
			flags: []fakejvm.Flag{{Type: "intx", Name: "ObjectAlignmentInBytes", Value: 0}},
			err:   true,
		},
		"32": {
			flags: []fakejvm.Flag{{Type: "intx", Name: "ObjectAlignmentInBytes", Value: 32}},
			err:   true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := fakejvm.Config{Flags: tc.flags}
			if tc.err {
				err := tryAttach(t, cfg)
				var cfgErr *ConfigError
				require.ErrorAs(t, err, &cfgErr)
				assert.Equal(t, "object alignment", cfgErr.What)
				return
			}
			_, s := attach(t, cfg)
			assert.Equal(t, tc.align, s.MinObjAlignmentInBytes())
			assert.Equal(t, tc.align, s.ObjectAlignmentInBytes())
			assert.Equal(t, tc.log, s.LogMinObjAlignmentInBytes())
		})
	}
}

func TestObjectAlignmentWrongType(t *testing.T) {
	err := tryAttach(t, fakejvm.Config{
		Flags: []fakejvm.Flag{{Type: "uintx", Name: "ObjectAlignmentInBytes", Value: 8}},
	})
	assert.ErrorIs(t, err, ErrUnsupportedFlagType)
}

func TestCompressedSizes(t *testing.T) {
	tests := map[string]struct {
		ptrSize         int
		oops, klass     bool
		heapOopSize     int
		klassPtrSize    int
		objHeaderSize   uint64
		objKlassPtrSize int
	}{
		"plain 64-bit": {
			ptrSize: 8, heapOopSize: 8, klassPtrSize: 8,
			objHeaderSize: 16, objKlassPtrSize: 8,
		},
		"compressed oops": {
			ptrSize: 8, oops: true, heapOopSize: 4, klassPtrSize: 8,
			objHeaderSize: 16, objKlassPtrSize: 8,
		},
		"compressed oops and klass": {
			ptrSize: 8, oops: true, klass: true, heapOopSize: 4, klassPtrSize: 4,
			objHeaderSize: 12, objKlassPtrSize: 4,
		},
		"32-bit": {
			ptrSize: 4, heapOopSize: 4, klassPtrSize: 4,
			objHeaderSize: 8, objKlassPtrSize: 4,
		},
	}

	b2u := func(b bool) uint64 {
		if b {
			return 1
		}
		return 0
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, s := attach(t, fakejvm.Config{
				PointerSize: tc.ptrSize,
				Flags: []fakejvm.Flag{
					{Type: "bool", Name: "UseCompressedOops", Value: b2u(tc.oops)},
					{Type: "bool", Name: "UseCompressedClassPointers", Value: b2u(tc.klass)},
				},
			})
			assert.Equal(t, tc.oops, s.IsCompressedOopsEnabled())
			assert.Equal(t, tc.klass, s.IsCompressedKlassPointersEnabled())
			assert.Equal(t, tc.heapOopSize, s.HeapOopSize())
			assert.Equal(t, tc.klassPtrSize, s.KlassPtrSize())

			heap, err := s.ObjectHeap()
			require.NoError(t, err)
			assert.Equal(t, tc.objHeaderSize, heap.HeaderSize)
			assert.Equal(t, tc.objKlassPtrSize, heap.KlassPtrSize)
			assert.Equal(t, tc.heapOopSize, heap.OopSize)
		})
	}
}

func TestEndToEndCore(t *testing.T) {
	jvm, s := attach(t, fakejvm.Config{
		Compiler: fakejvm.Core,
		Flags: []fakejvm.Flag{
			{Type: "bool", Name: "UseTLAB", Value: 1},
			{Type: "bool", Name: "UseCompressedOops", Value: 1},
			{Type: "intx", Name: "MaxInlineSize", Value: 35},
			{Type: "uintx", Name: "MaxHeapSize", Value: 1 << 30},
		},
	})
	require.Len(t, jvm.Tables.IntConstants, 7)

	assert.True(t, s.IsCore())
	assert.Equal(t, 0, s.StackBias())
	assert.Equal(t, 8, s.MinObjAlignmentInBytes())
	assert.Equal(t, 3, s.LogMinObjAlignmentInBytes())
	assert.True(t, s.IsCompressedOopsEnabled())
	flags, err := s.CommandLineFlags()
	require.NoError(t, err)
	assert.Len(t, flags, 4)
}

func TestConstructionFailures(t *testing.T) {
	tests := map[string]struct {
		cfg fakejvm.Config
		is  error
	}{
		"missing version": {
			cfg: fakejvm.Config{OmitVersion: true},
			is:  ErrVersionUnknown,
		},
		"missing constant": {
			cfg: fakejvm.Config{OmitIntConstants: []string{"HeapWordSize"}},
			is:  vmstructs.ErrNotFound,
		},
		"missing stack bias": {
			cfg: fakejvm.Config{OmitIntConstants: []string{"STACK_BIAS"}},
			is:  vmstructs.ErrNotFound,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, tryAttach(t, tc.cfg), tc.is)
		})
	}
}

func TestVersionUnknownMessage(t *testing.T) {
	err := tryAttach(t, fakejvm.Config{OmitVersion: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "can't determine target's VM version")
}

func TestUsagePanics(t *testing.T) {
	_, core := attach(t, fakejvm.Config{Compiler: fakejvm.Core})
	assert.Panics(t, func() { core.IsLP64() })
	assert.Panics(t, func() { core.Debugger() })
	assert.Panics(t, func() { _, _ = core.CodeCache() })
	assert.Panics(t, func() { _, _ = core.Runtime1() })

	_, server := attach(t, fakejvm.Config{Compiler: fakejvm.Server})
	assert.NotPanics(t, func() { _, _ = server.CodeCache() })
	assert.Panics(t, func() { _, _ = server.Runtime1() })

	_, client := attach(t, fakejvm.Config{Compiler: fakejvm.Client})
	assert.NotPanics(t, func() { _, _ = client.Runtime1() })
}

func TestAlign(t *testing.T) {
	_, s := attach(t, fakejvm.Config{})
	assert.Equal(t, int64(16), s.AlignUp(13, 8))
	assert.Equal(t, int64(16), s.AlignUp(16, 8))
	assert.Equal(t, int64(0), s.AlignUp(0, 8))
	assert.Equal(t, int64(8), s.AlignDown(13, 8))
	assert.Equal(t, int64(16), s.AlignDown(16, 16))
	assert.Equal(t, int64(32), s.AlignUp(17, 16))
}

func TestBuildFromHalves(t *testing.T) {
	_, le := attach(t, fakejvm.Config{})
	_, be := attach(t, fakejvm.Config{BigEndian: true})

	assert.Equal(t, int32(0x1ffff), le.BuildIntFromShorts(-1, 1))
	assert.Equal(t, int32(-0x1edcc), le.BuildIntFromShorts(0x1234, -2))
	assert.Equal(t, int32(0x12345678), be.BuildIntFromShorts(0x5678, 0x1234))

	assert.Equal(t, int64(0x1ffffffff), le.BuildLongFromIntsPD(1, -1))
	assert.Equal(t, int64(-1)<<32|1, be.BuildLongFromIntsPD(1, -1))
	assert.Equal(t, int64(0x0000000200000001), be.BuildLongFromIntsPD(1, 2))
	assert.Equal(t, int64(0x0000000100000002), le.BuildLongFromIntsPD(1, 2))
}

func TestIsJavaPCDbg(t *testing.T) {
	for _, compiler := range []fakejvm.Compiler{fakejvm.Core, fakejvm.Client, fakejvm.Server} {
		jvm, s := attach(t, fakejvm.Config{Compiler: compiler})

		in, err := s.IsJavaPCDbg(jvm.StubBuffer + 0x10)
		require.NoError(t, err)
		assert.True(t, in)

		in, err = s.IsJavaPCDbg(fakejvm.ImageBase)
		require.NoError(t, err)
		assert.False(t, in)

		if compiler != fakejvm.Core {
			in, err = s.IsJavaPCDbg(jvm.CodeLow + 0x20)
			require.NoError(t, err)
			assert.True(t, in)
			in, err = s.IsJavaPCDbg(jvm.CodeHigh)
			require.NoError(t, err)
			assert.False(t, in)
		}
	}
}

func TestSubsystemsAreCached(t *testing.T) {
	var calls sync.Map
	counting := func(name string) func() {
		return func() {
			n, _ := calls.LoadOrStore(name, new(atomic.Int32))
			n.(*atomic.Int32).Add(1)
		}
	}
	wrap := func(name string) Factories {
		count := counting(name)
		d := DefaultFactories()
		switch name {
		case "Threads":
			return Factories{Threads: func(vm subsys.VM) (*subsys.Threads, error) {
				count()
				return d.Threads(vm)
			}}
		case "Universe":
			return Factories{Universe: func(vm subsys.VM) (*subsys.Universe, error) {
				count()
				return d.Universe(vm)
			}}
		case "CodeCache":
			return Factories{CodeCache: func(vm subsys.VM) (*subsys.CodeCache, error) {
				count()
				return d.CodeCache(vm)
			}}
		}
		return Factories{}
	}

	_, s := attach(t, fakejvm.Config{Compiler: fakejvm.Server},
		WithFactories(wrap("Threads")),
		WithFactories(wrap("Universe")),
		WithFactories(wrap("CodeCache")))

	accessors := map[string]func() (any, error){
		"Universe":           func() (any, error) { return s.Universe() },
		"ObjectHeap":         func() (any, error) { return s.ObjectHeap() },
		"SymbolTable":        func() (any, error) { return s.SymbolTable() },
		"StringTable":        func() (any, error) { return s.StringTable() },
		"SystemDictionary":   func() (any, error) { return s.SystemDictionary() },
		"Threads":            func() (any, error) { return s.Threads() },
		"ObjectSynchronizer": func() (any, error) { return s.ObjectSynchronizer() },
		"JNIHandles":         func() (any, error) { return s.JNIHandles() },
		"Interpreter":        func() (any, error) { return s.Interpreter() },
		"StubRoutines":       func() (any, error) { return s.StubRoutines() },
		"CodeCache":          func() (any, error) { return s.CodeCache() },
		"VMRegImpl":          func() (any, error) { return s.VMRegImpl() },
		"Bytes":              func() (any, error) { return s.Bytes(), nil },
	}

	for name, get := range accessors {
		t.Run(name, func(t *testing.T) {
			first, err := get()
			require.NoError(t, err)
			second, err := get()
			require.NoError(t, err)
			assert.Same(t, first, second)
		})
	}

	for _, name := range []string{"Threads", "Universe", "CodeCache"} {
		n, ok := calls.Load(name)
		require.True(t, ok, name)
		assert.Equal(t, int32(1), n.(*atomic.Int32).Load(), name)
	}
}

func TestSubsystemConcurrentFirstUse(t *testing.T) {
	var calls atomic.Int32
	_, s := attach(t, fakejvm.Config{}, WithFactories(Factories{
		SymbolTable: func(vm subsys.VM) (*subsys.SymbolTable, error) {
			calls.Add(1)
			return subsys.NewSymbolTable(vm)
		},
	}))

	const n = 16
	results := make([]*subsys.SymbolTable, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := s.SymbolTable()
			assert.NoError(t, err)
			results[i] = st
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, st := range results {
		assert.Same(t, results[0], st)
	}
}

func TestSubsystemFailureRetries(t *testing.T) {
	var calls atomic.Int32
	errBroken := errors.New("broken")
	_, s := attach(t, fakejvm.Config{}, WithFactories(Factories{
		JNIHandles: func(vm subsys.VM) (*subsys.JNIHandles, error) {
			if calls.Add(1) == 1 {
				return nil, errBroken
			}
			return subsys.NewJNIHandles(vm)
		},
	}))

	_, err := s.JNIHandles()
	require.ErrorIs(t, err, errBroken)
	h, err := s.JNIHandles()
	require.NoError(t, err)
	assert.NotEqual(t, libpf.Address(0), h.GlobalHandles)
	_, err = s.JNIHandles()
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestExecutionObservers(t *testing.T) {
	_, s := attach(t, fakejvm.Config{})
	var events []string
	s.RegisterVMResumedObserver(func() { events = append(events, "resumed 1") })
	s.RegisterVMSuspendedObserver(func() { events = append(events, "suspended") })
	s.RegisterVMResumedObserver(func() { events = append(events, "resumed 2") })
	assert.Empty(t, events)

	s.FireVMSuspended()
	s.FireVMResumed()
	assert.Equal(t, []string{"suspended", "resumed 1", "resumed 2"}, events)
}
