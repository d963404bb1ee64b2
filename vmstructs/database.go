// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package vmstructs implements the type database of a HotSpot target: the C++
// type sizes, field offsets, static field addresses and integer constants the
// JVM publishes about itself in its gHotSpotVM* introspection tables.
//
// The database is populated from target memory, so the same code handles 32-
// and 64-bit, big- and little-endian targets without compiled-in layouts.
package vmstructs // import "go.opentelemetry.io/hotspot-sa/vmstructs"

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"

	"go.opentelemetry.io/hotspot-sa/remotememory"
)

// TypeDataBase is the lookup surface of a type database, as used by the VM
// session and the subsystems built on it.
type TypeDataBase interface {
	LookupType(name string) (*Type, error)
	FindType(name string) *Type
	LookupIntConstant(name string) (int64, bool)
	LookupLongConstant(name string) (uint64, bool)
	AddressSize() int
	IntSize() int
	Memory() remotememory.RemoteMemory
}

var _ TypeDataBase = &Database{}

// Database is the type database of one target. It is immutable once loaded and
// safe for concurrent use.
type Database struct {
	mem           remotememory.RemoteMemory
	types         map[string]*Type
	intConstants  map[string]int64
	longConstants map[string]uint64
}

func newDatabase(rm remotememory.RemoteMemory) *Database {
	return &Database{
		mem:           rm,
		types:         make(map[string]*Type),
		intConstants:  make(map[string]int64),
		longConstants: make(map[string]uint64),
	}
}

func (db *Database) addType(t *Type) {
	if _, ok := db.types[t.Name]; ok {
		return
	}
	t.db = db
	t.byName = make(map[string]*Field)
	db.types[t.Name] = t
}

// FindType returns the named type, or nil. Pointer type names ("Klass*") not
// published by the target resolve to a synthesized pointer-sized type.
func (db *Database) FindType(name string) *Type {
	if t, ok := db.types[name]; ok {
		return t
	}
	if strings.HasSuffix(name, "*") {
		return &Type{
			Name:   name,
			Size:   uint64(db.AddressSize()),
			db:     db,
			byName: map[string]*Field{},
		}
	}
	return nil
}

// LookupType returns the named type or an error wrapping ErrNotFound.
func (db *Database) LookupType(name string) (*Type, error) {
	if t := db.FindType(name); t != nil {
		return t, nil
	}
	return nil, fmt.Errorf("type %s: %w", name, ErrNotFound)
}

// LookupIntConstant returns the value of a gHotSpotVMIntConstants entry.
func (db *Database) LookupIntConstant(name string) (int64, bool) {
	v, ok := db.intConstants[name]
	return v, ok
}

// LookupLongConstant returns the value of a gHotSpotVMLongConstants entry.
func (db *Database) LookupLongConstant(name string) (uint64, bool) {
	v, ok := db.longConstants[name]
	return v, ok
}

// AddressSize returns the size of a native pointer of the target.
func (db *Database) AddressSize() int {
	return db.mem.PointerSize()
}

// IntSize returns the size of a Java int (jint) in the target.
func (db *Database) IntSize() int {
	if t, ok := db.types["jint"]; ok && t.Size != 0 {
		return int(t.Size)
	}
	return 4
}

// IsBigEndian reports the byte order of the target.
func (db *Database) IsBigEndian() bool {
	return db.mem.IsBigEndian()
}

// Memory returns the reader of the target memory this database describes.
func (db *Database) Memory() remotememory.RemoteMemory {
	return db.mem
}

// NumTypes returns the number of published types.
func (db *Database) NumTypes() int {
	return len(db.types)
}

// Fingerprint returns a hash over the complete published layout: types, sizes,
// field offsets and constants. Two targets with the same fingerprint share the
// same layout, static addresses excluded.
func (db *Database) Fingerprint() uint64 {
	h := xxh3.New()
	var num [8]byte
	writeNum := func(v uint64) {
		binary.LittleEndian.PutUint64(num[:], v)
		_, _ = h.Write(num[:])
	}
	writeStr := func(s string) {
		_, _ = h.WriteString(s)
		_, _ = h.Write([]byte{0})
	}

	writeNum(uint64(db.AddressSize()))
	for _, name := range sortedKeys(db.types) {
		t := db.types[name]
		writeStr(t.Name)
		writeStr(t.Superclass)
		writeNum(t.Size)
		var flags uint64
		if t.IsOopType {
			flags |= 1
		}
		if t.IsIntegerType {
			flags |= 2
		}
		if t.IsUnsigned {
			flags |= 4
		}
		writeNum(flags)
		for _, f := range t.fields {
			writeStr(f.Name)
			writeStr(f.TypeString)
			if f.IsStatic {
				writeNum(^uint64(0))
			} else {
				writeNum(f.Offset)
			}
		}
	}
	for _, name := range sortedKeys(db.intConstants) {
		writeStr(name)
		writeNum(uint64(db.intConstants[name]))
	}
	for _, name := range sortedKeys(db.longConstants) {
		writeStr(name)
		writeNum(db.longConstants[name])
	}
	return h.Sum64()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
