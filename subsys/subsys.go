// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package subsys implements the VM subsystems a session constructs on demand:
// heap, symbol and string tables, threads, interpreter, code cache and
// friends. Each reads the static anchors it needs from the target once, when
// it is constructed, through the session's type database.
package subsys // import "go.opentelemetry.io/hotspot-sa/subsys"

import (
	"fmt"

	"go.opentelemetry.io/hotspot-sa/libpf"
	"go.opentelemetry.io/hotspot-sa/vmstructs"
)

// VM is the part of a VM session the subsystems depend on.
type VM interface {
	TypeDataBase() vmstructs.TypeDataBase
	AddressSize() int
	IntSize() int
	IsBigEndian() bool
	HeapOopSize() int
	KlassPtrSize() int
	IsCompressedKlassPointersEnabled() bool
}

// field resolves typeName::fieldName.
func field(db vmstructs.TypeDataBase, typeName, fieldName string) (*vmstructs.Field, error) {
	t, err := db.LookupType(typeName)
	if err != nil {
		return nil, err
	}
	return t.Field(fieldName)
}

// staticAddress reads the pointer held in a static field.
func staticAddress(db vmstructs.TypeDataBase, typeName, fieldName string) (libpf.Address, error) {
	f, err := field(db, typeName, fieldName)
	if err != nil {
		return 0, err
	}
	return f.Value()
}

// staticInt reads the integer held in a static field, with the field's
// declared width and signedness.
func staticInt(db vmstructs.TypeDataBase, typeName, fieldName string) (int64, error) {
	f, err := field(db, typeName, fieldName)
	if err != nil {
		return 0, err
	}
	if !f.IsStatic {
		return 0, fmt.Errorf("%v is not a static field", f)
	}
	v, err := f.CIntegerAt(0)
	return int64(v), err
}

// staticAddresses reads several static pointers of one type, in order.
func staticAddresses(db vmstructs.TypeDataBase, typeName string,
	fieldNames ...string) ([]libpf.Address, error) {
	out := make([]libpf.Address, len(fieldNames))
	for i, name := range fieldNames {
		v, err := staticAddress(db, typeName, name)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
