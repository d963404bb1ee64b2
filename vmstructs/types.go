// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package vmstructs // import "go.opentelemetry.io/hotspot-sa/vmstructs"

import (
	"errors"
	"fmt"

	"go.opentelemetry.io/hotspot-sa/libpf"
)

// ErrNotFound is returned when a type, field or constant is not present in the
// target's type database.
var ErrNotFound = errors.New("not found")

// Type describes one C++ type of the target as published in gHotSpotVMTypes.
type Type struct {
	// Name is the C++ type name, e.g. "Method" or "intx"
	Name string
	// Superclass is the name of the base class, or empty
	Superclass string
	// Size is sizeof() of the type in bytes
	Size uint64
	// IsOopType is set for oop typedefs
	IsOopType bool
	// IsIntegerType is set for integer types of arbitrary size
	IsIntegerType bool
	// IsUnsigned tells the signedness of integer types
	IsUnsigned bool

	db     *Database
	fields []*Field
	byName map[string]*Field
}

// DeclaredField returns the field declared directly in this type, or nil.
func (t *Type) DeclaredField(name string) *Field {
	return t.byName[name]
}

// Field looks up a field in this type and its superclasses.
func (t *Type) Field(name string) (*Field, error) {
	for cur := t; cur != nil; cur = cur.Super() {
		if f := cur.DeclaredField(name); f != nil {
			return f, nil
		}
	}
	return nil, fmt.Errorf("field %s.%s: %w", t.Name, name, ErrNotFound)
}

// Fields returns the declared fields in table order.
func (t *Type) Fields() []*Field {
	return t.fields
}

// Super returns the superclass type, or nil.
func (t *Type) Super() *Type {
	if t.Superclass == "" || t.db == nil {
		return nil
	}
	return t.db.FindType(t.Superclass)
}

func (t *Type) addField(f *Field) {
	if _, ok := t.byName[f.Name]; ok {
		return
	}
	f.owner = t
	t.fields = append(t.fields, f)
	t.byName[f.Name] = f
}

// Field describes a static or nonstatic field of a Type, as published in
// gHotSpotVMStructs.
type Field struct {
	// Name of the field, e.g. "_name"
	Name string
	// TypeString is the declared C type of the field, e.g. "Symbol*"
	TypeString string
	// IsStatic tells whether StaticAddress or Offset is valid
	IsStatic bool
	// Offset of a nonstatic field within its containing type
	Offset uint64
	// StaticAddress is the location of a static field in the target
	StaticAddress libpf.Address

	owner *Type
}

// Owner returns the type declaring this field.
func (f *Field) Owner() *Type {
	return f.owner
}

func (f *Field) String() string {
	if f.owner == nil {
		return f.Name
	}
	return f.owner.Name + "::" + f.Name
}

// Location returns where the field lives for an object at base. Static fields
// ignore base.
func (f *Field) Location(base libpf.Address) libpf.Address {
	if f.IsStatic {
		return f.StaticAddress
	}
	return base.AddOffset(f.Offset)
}

// AddressAt reads the pointer stored in this field of the object at base.
func (f *Field) AddressAt(base libpf.Address) (libpf.Address, error) {
	addr, err := f.owner.db.mem.Address(f.Location(base))
	if err != nil {
		return 0, fmt.Errorf("reading %v: %w", f, err)
	}
	return addr, nil
}

// Value reads the pointer stored in a static field.
func (f *Field) Value() (libpf.Address, error) {
	if !f.IsStatic {
		return 0, fmt.Errorf("%v is not a static field", f)
	}
	return f.AddressAt(0)
}

// CIntegerAt reads the integer stored in this field of the object at base,
// with the width and signedness of the field's declared type.
func (f *Field) CIntegerAt(base libpf.Address) (uint64, error) {
	t, err := f.owner.db.LookupType(f.TypeString)
	if err != nil {
		return 0, fmt.Errorf("type of %v: %w", f, err)
	}
	return f.CIntegerAtAs(base, t)
}

// CIntegerAtAs reads the integer stored in this field of the object at base
// with the width and signedness of t.
func (f *Field) CIntegerAtAs(base libpf.Address, t *Type) (uint64, error) {
	if !t.IsIntegerType {
		return 0, fmt.Errorf("reading %v as %s: not an integer type", f, t.Name)
	}
	v, err := f.owner.db.mem.CInteger(f.Location(base), int(t.Size), t.IsUnsigned)
	if err != nil {
		return 0, fmt.Errorf("reading %v: %w", f, err)
	}
	return v, nil
}
