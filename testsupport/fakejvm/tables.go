// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package fakejvm // import "go.opentelemetry.io/hotspot-sa/testsupport/fakejvm"

import (
	"go.opentelemetry.io/hotspot-sa/libpf"
	"go.opentelemetry.io/hotspot-sa/vmstructs"
)

// TypeEntry is one gHotSpotVMTypes record.
type TypeEntry struct {
	Name          string
	Superclass    string
	Size          uint64
	IsOopType     bool
	IsIntegerType bool
	IsUnsigned    bool
}

// StructEntry is one gHotSpotVMStructs record.
type StructEntry struct {
	TypeName   string
	FieldName  string
	TypeString string
	IsStatic   bool
	Offset     uint64
	Address    libpf.Address
}

// IntConstant is one gHotSpotVMIntConstants record.
type IntConstant struct {
	Name  string
	Value int32
}

// LongConstant is one gHotSpotVMLongConstants record.
type LongConstant struct {
	Name  string
	Value uint64
}

// Tables holds the content of the four introspection tables.
type Tables struct {
	Types         []TypeEntry
	Structs       []StructEntry
	IntConstants  []IntConstant
	LongConstants []LongConstant
}

func align8(v uint64) uint64 {
	return (v + 7) &^ 7
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// publisher writes tables and their describing symbols into an image.
type publisher struct {
	m    *Image
	syms vmstructs.Symbols
}

func (p *publisher) global(name string, v uint64) {
	p.syms[name] = p.m.NewUint(8, v)
}

// table lays out n+1 records of stride bytes, the last one zeroed, and
// publishes the base pointer and stride symbols. It returns the address of
// the first record.
func (p *publisher) table(name, entry string, n int, stride uint64) libpf.Address {
	base := p.m.Alloc(int(stride) * (n + 1))
	p.syms[name] = p.m.NewPtr(base)
	p.global(entry+"ArrayStride", stride)
	return base
}

// Publish writes t into the image and returns the symbols locating it. Column
// offsets depend on the pointer size and every stride carries padding.
func (m *Image) Publish(t *Tables) vmstructs.Symbols {
	p := &publisher{m: m, syms: make(vmstructs.Symbols)}
	ps := uint64(m.ptrSize)

	{
		const e = "gHotSpotVMTypeEntry"
		name, super := uint64(0), ps
		isOop, isInt, isUnsigned := 2*ps, 2*ps+4, 2*ps+8
		size := align8(2*ps + 12)
		stride := size + 16
		p.global(e+"TypeNameOffset", name)
		p.global(e+"SuperclassNameOffset", super)
		p.global(e+"IsOopTypeOffset", isOop)
		p.global(e+"IsIntegerTypeOffset", isInt)
		p.global(e+"IsUnsignedOffset", isUnsigned)
		p.global(e+"SizeOffset", size)
		base := p.table("gHotSpotVMTypes", e, len(t.Types), stride)
		for i, te := range t.Types {
			rec := base + libpf.Address(uint64(i)*stride)
			m.PutPtr(rec, m.CString(te.Name))
			if te.Superclass != "" {
				m.PutPtr(rec+libpf.Address(super), m.CString(te.Superclass))
			}
			m.PutUint(rec+libpf.Address(isOop), 4, b2u(te.IsOopType))
			m.PutUint(rec+libpf.Address(isInt), 4, b2u(te.IsIntegerType))
			m.PutUint(rec+libpf.Address(isUnsigned), 4, b2u(te.IsUnsigned))
			m.PutUint(rec+libpf.Address(size), 8, te.Size)
		}
	}

	{
		const e = "gHotSpotVMStructEntry"
		typeName, fieldName, typeString := uint64(0), ps, 2*ps
		isStatic := 3 * ps
		offset := align8(3*ps + 4)
		address := offset + 8
		stride := align8(address+ps) + 8
		p.global(e+"TypeNameOffset", typeName)
		p.global(e+"FieldNameOffset", fieldName)
		p.global(e+"TypeStringOffset", typeString)
		p.global(e+"IsStaticOffset", isStatic)
		p.global(e+"OffsetOffset", offset)
		p.global(e+"AddressOffset", address)
		base := p.table("gHotSpotVMStructs", e, len(t.Structs), stride)
		for i, se := range t.Structs {
			rec := base + libpf.Address(uint64(i)*stride)
			m.PutPtr(rec, m.CString(se.TypeName))
			m.PutPtr(rec+libpf.Address(fieldName), m.CString(se.FieldName))
			if se.TypeString != "" {
				m.PutPtr(rec+libpf.Address(typeString), m.CString(se.TypeString))
			}
			m.PutUint(rec+libpf.Address(isStatic), 4, b2u(se.IsStatic))
			m.PutUint(rec+libpf.Address(offset), 8, se.Offset)
			m.PutPtr(rec+libpf.Address(address), se.Address)
		}
	}

	{
		const e = "gHotSpotVMIntConstantEntry"
		name, value := uint64(0), ps
		stride := align8(ps + 4)
		p.global(e+"NameOffset", name)
		p.global(e+"ValueOffset", value)
		base := p.table("gHotSpotVMIntConstants", e, len(t.IntConstants), stride)
		for i, c := range t.IntConstants {
			rec := base + libpf.Address(uint64(i)*stride)
			m.PutPtr(rec, m.CString(c.Name))
			m.PutUint(rec+libpf.Address(value), 4, uint64(uint32(c.Value)))
		}
	}

	{
		const e = "gHotSpotVMLongConstantEntry"
		name, value := uint64(0), align8(ps)
		stride := value + 8
		p.global(e+"NameOffset", name)
		p.global(e+"ValueOffset", value)
		base := p.table("gHotSpotVMLongConstants", e, len(t.LongConstants), stride)
		for i, c := range t.LongConstants {
			rec := base + libpf.Address(uint64(i)*stride)
			m.PutPtr(rec, m.CString(c.Name))
			m.PutUint(rec+libpf.Address(value), 8, c.Value)
		}
	}

	return p.syms
}
