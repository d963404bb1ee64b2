// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package subsys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/hotspot-sa/libpf"
	"go.opentelemetry.io/hotspot-sa/testsupport/fakejvm"
	"go.opentelemetry.io/hotspot-sa/vmstructs"
)

type fakeVM struct {
	db              *vmstructs.Database
	compressedKlass bool
}

func (f *fakeVM) TypeDataBase() vmstructs.TypeDataBase { return f.db }
func (f *fakeVM) AddressSize() int                     { return f.db.AddressSize() }
func (f *fakeVM) IntSize() int                         { return f.db.IntSize() }
func (f *fakeVM) IsBigEndian() bool                    { return f.db.IsBigEndian() }
func (f *fakeVM) IsCompressedKlassPointersEnabled() bool {
	return f.compressedKlass
}

func (f *fakeVM) HeapOopSize() int {
	return f.db.AddressSize()
}

func (f *fakeVM) KlassPtrSize() int {
	if f.compressedKlass {
		return f.db.IntSize()
	}
	return f.db.AddressSize()
}

func newFake(t *testing.T, cfg fakejvm.Config) (*fakejvm.JVM, *fakeVM) {
	jvm := fakejvm.New(cfg)
	return jvm, &fakeVM{db: jvm.Database(t)}
}

func TestUniverse(t *testing.T) {
	for _, ptrSize := range []int{4, 8} {
		jvm, vm := newFake(t, fakejvm.Config{
			PointerSize:      ptrSize,
			BigEndian:        ptrSize == 4,
			NarrowOopBase:    0x8000000,
			NarrowOopShift:   3,
			NarrowKlassBase:  0x4000000,
			NarrowKlassShift: -1,
		})
		u, err := NewUniverse(vm)
		require.NoError(t, err)
		assert.Equal(t, jvm.CollectedHeap, u.CollectedHeap)
		assert.Equal(t, libpf.Address(0x8000000), u.NarrowOopBase)
		assert.Equal(t, 3, u.NarrowOopShift)
		assert.Equal(t, libpf.Address(0x4000000), u.NarrowKlassBase)
		assert.Equal(t, -1, u.NarrowKlassShift)
	}
}

func TestObjectHeap(t *testing.T) {
	tests := map[string]struct {
		compressedKlass bool
		klassOffset     uint64
		headerSize      uint64
		klassPtrSize    int
	}{
		"plain":      {klassOffset: 8, headerSize: 16, klassPtrSize: 8},
		"compressed": {compressedKlass: true, klassOffset: 8, headerSize: 12, klassPtrSize: 4},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, vm := newFake(t, fakejvm.Config{})
			vm.compressedKlass = tc.compressedKlass
			h, err := NewObjectHeap(vm)
			require.NoError(t, err)
			assert.Equal(t, uint64(0), h.MarkOffset)
			assert.Equal(t, tc.klassOffset, h.KlassOffset)
			assert.Equal(t, tc.headerSize, h.HeaderSize)
			assert.Equal(t, tc.klassPtrSize, h.KlassPtrSize)
			assert.Equal(t, 8, h.OopSize)
		})
	}
}

func TestTables(t *testing.T) {
	jvm, vm := newFake(t, fakejvm.Config{PointerSize: 4})

	st, err := NewSymbolTable(vm)
	require.NoError(t, err)
	assert.Equal(t, jvm.SymbolTable, st.TheTable)

	strs, err := NewStringTable(vm)
	require.NoError(t, err)
	assert.Equal(t, jvm.StringTable, strs.TheTable)

	sd, err := NewSystemDictionary(vm)
	require.NoError(t, err)
	assert.Equal(t, jvm.Dictionary, sd.Dictionary)

	th, err := NewThreads(vm)
	require.NoError(t, err)
	assert.Equal(t, jvm.ThreadList, th.First)
	assert.Equal(t, int(jvm.NumberOfThreads), th.Count)

	os, err := NewObjectSynchronizer(vm)
	require.NoError(t, err)
	assert.Equal(t, jvm.BlockList, os.BlockList)

	jh, err := NewJNIHandles(vm)
	require.NoError(t, err)
	assert.Equal(t, jvm.GlobalHandles, jh.GlobalHandles)
	assert.Equal(t, jvm.WeakGlobalHandles, jh.WeakGlobalHandles)
}

func TestInterpreter(t *testing.T) {
	jvm, vm := newFake(t, fakejvm.Config{BigEndian: true})
	in, err := NewInterpreter(vm)
	require.NoError(t, err)
	assert.Equal(t, jvm.StubBuffer, in.Begin)
	assert.Equal(t, jvm.StubBuffer+libpf.Address(jvm.StubBufferLimit), in.End)
	assert.True(t, in.Contains(jvm.StubBuffer))
	assert.True(t, in.Contains(in.End-1))
	assert.False(t, in.Contains(in.End))
	assert.False(t, in.Contains(jvm.StubBuffer-1))
}

func TestStubRoutines(t *testing.T) {
	jvm, vm := newFake(t, fakejvm.Config{})
	sr, err := NewStubRoutines(vm)
	require.NoError(t, err)

	entry, ok := sr.Entry("call_stub_entry")
	require.True(t, ok)
	assert.Equal(t, jvm.CallStubEntry, entry)
	assert.Len(t, sr.Entries(), 3)
	assert.True(t, sr.ReturnsToCallStub(jvm.CallStubReturn))
	assert.False(t, sr.ReturnsToCallStub(jvm.CallStubEntry))
	_, ok = sr.Entry("nope")
	assert.False(t, ok)
}

func TestCodeCache(t *testing.T) {
	tests := map[string]fakejvm.Config{
		"code heap": {Compiler: fakejvm.Server},
		"bounds":    {Compiler: fakejvm.Server, CodeBounds: true},
		"32-bit":    {Compiler: fakejvm.Client, PointerSize: 4},
	}

	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			jvm, vm := newFake(t, cfg)
			cc, err := NewCodeCache(vm)
			require.NoError(t, err)
			assert.Equal(t, jvm.CodeLow, cc.Low)
			assert.Equal(t, jvm.CodeHigh, cc.High)
			assert.True(t, cc.Contains(jvm.CodeLow+0x10))
			assert.False(t, cc.Contains(jvm.CodeHigh))
		})
	}

	_, vm := newFake(t, fakejvm.Config{Compiler: fakejvm.Core})
	_, err := NewCodeCache(vm)
	assert.ErrorIs(t, err, vmstructs.ErrNotFound)
}

func TestRuntime1(t *testing.T) {
	jvm, vm := newFake(t, fakejvm.Config{Compiler: fakejvm.Client, PointerSize: 4})
	r, err := NewRuntime1(vm)
	require.NoError(t, err)
	assert.Equal(t, jvm.Runtime1Blobs, r.Blobs)

	jvm.PutPtr(jvm.Runtime1Blobs+2*4, 0xcafe0000)
	blob, err := r.Blob(2)
	require.NoError(t, err)
	assert.Equal(t, libpf.Address(0xcafe0000), blob)
	_, err = r.Blob(-1)
	assert.Error(t, err)
}

func TestVMRegImpl(t *testing.T) {
	jvm, vm := newFake(t, fakejvm.Config{})
	r, err := NewVMRegImpl(vm)
	require.NoError(t, err)
	assert.Equal(t, jvm.Stack0, r.Stack0)

	for i, want := range jvm.RegisterNames {
		name, err := r.RegisterName(i)
		require.NoError(t, err)
		assert.Equal(t, want, name)
	}
	_, err = r.RegisterName(r.Stack0)
	assert.Error(t, err)
}

func TestBytes(t *testing.T) {
	le := NewBytes(false)
	assert.Equal(t, uint16(0x3412), le.SwapShort(0x1234))
	assert.Equal(t, uint32(0x78563412), le.SwapInt(0x12345678))
	assert.Equal(t, uint64(0x0807060504030201), le.SwapLong(0x0102030405060708))

	be := NewBytes(true)
	assert.Equal(t, uint16(0x1234), be.SwapShort(0x1234))
	assert.Equal(t, uint32(0x12345678), be.SwapInt(0x12345678))
	assert.Equal(t, uint64(0x0102030405060708), be.SwapLong(0x0102030405060708))
}
