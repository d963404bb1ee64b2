// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package vmstructs // import "go.opentelemetry.io/hotspot-sa/vmstructs"

import (
	"errors"
	"fmt"

	"github.com/elastic/go-freelru"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"go.opentelemetry.io/hotspot-sa/libpf"
	"go.opentelemetry.io/hotspot-sa/remotememory"
)

const (
	// maxTableEntries bounds the walk of one introspection table when the
	// NULL terminator is missing or the memory is garbage.
	maxTableEntries = 1 << 16

	// stringCacheSize is the capacity of the name cache used while loading.
	stringCacheSize = 4096
)

// Symbols maps the exported libjvm symbol names describing the introspection
// tables to their addresses in the target.
type Symbols map[string]libpf.Address

// column is one field of an introspection table entry. Its position inside the
// entry is published by the target in the symbol named by offsetSymbol.
type column struct {
	offsetSymbol string
	size         int // 0 means pointer-sized
}

// tableLayout names the symbols describing one introspection table.
type tableLayout struct {
	name    string
	base    string
	stride  string
	columns map[string]column
}

func layout(name, entry string, cols map[string]int) tableLayout {
	l := tableLayout{
		name:    name,
		base:    name,
		stride:  entry + "ArrayStride",
		columns: make(map[string]column, len(cols)),
	}
	for col, size := range cols {
		l.columns[col] = column{offsetSymbol: entry + col + "Offset", size: size}
	}
	return l
}

var (
	structsLayout = layout("gHotSpotVMStructs", "gHotSpotVMStructEntry", map[string]int{
		"TypeName":   0,
		"FieldName":  0,
		"TypeString": 0,
		"IsStatic":   4,
		"Offset":     8,
		"Address":    0,
	})
	typesLayout = layout("gHotSpotVMTypes", "gHotSpotVMTypeEntry", map[string]int{
		"TypeName":       0,
		"SuperclassName": 0,
		"IsOopType":      4,
		"IsIntegerType":  4,
		"IsUnsigned":     4,
		"Size":           8,
	})
	intConstantsLayout = layout("gHotSpotVMIntConstants", "gHotSpotVMIntConstantEntry",
		map[string]int{
			"Name":  0,
			"Value": 4,
		})
	longConstantsLayout = layout("gHotSpotVMLongConstants", "gHotSpotVMLongConstantEntry",
		map[string]int{
			"Name":  0,
			"Value": 8,
		})

	allLayouts = []tableLayout{structsLayout, typesLayout, intConstantsLayout, longConstantsLayout}
)

// SymbolNames returns all libjvm symbols Load requires.
func SymbolNames() []string {
	var names []string
	for _, l := range allLayouts {
		names = append(names, l.base, l.stride)
		for _, c := range l.columns {
			names = append(names, c.offsetSymbol)
		}
	}
	return names
}

// ResolveSymbols looks up every symbol from SymbolNames and relocates it by
// bias. All missing symbols are reported together.
func ResolveSymbols(lookup func(name string) (libpf.Address, error),
	bias libpf.Address) (Symbols, error) {
	syms := make(Symbols)
	var err error
	for _, name := range SymbolNames() {
		addr, lookupErr := lookup(name)
		if lookupErr != nil {
			err = multierr.Append(err, fmt.Errorf("symbol '%v' not found: %w", name, lookupErr))
			continue
		}
		syms[name] = addr + bias
	}
	if err != nil {
		return nil, err
	}
	return syms, nil
}

// table is a resolved introspection table ready to be walked.
type table struct {
	name    string
	base    libpf.Address
	stride  uint64
	offsets map[string]uint64
	sizes   map[string]int
}

func resolveTable(rm remotememory.RemoteMemory, syms Symbols, l tableLayout) (*table, error) {
	sym := func(name string) (libpf.Address, error) {
		addr, ok := syms[name]
		if !ok {
			return 0, fmt.Errorf("symbol '%v': %w", name, ErrNotFound)
		}
		return addr, nil
	}

	baseSym, err := sym(l.base)
	if err != nil {
		return nil, err
	}
	base, err := rm.Address(baseSym)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read base: %w", l.name, err)
	}
	strideSym, err := sym(l.stride)
	if err != nil {
		return nil, err
	}
	stride, err := rm.CInteger(strideSym, 8, true)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read stride: %w", l.name, err)
	}
	if base == 0 || stride == 0 || stride > 4096 {
		return nil, fmt.Errorf("bad introspection table %s (%#x / %d)", l.name, base, stride)
	}

	t := &table{
		name:    l.name,
		base:    base,
		stride:  stride,
		offsets: make(map[string]uint64, len(l.columns)),
		sizes:   make(map[string]int, len(l.columns)),
	}
	for col, c := range l.columns {
		offSym, err := sym(c.offsetSymbol)
		if err != nil {
			return nil, err
		}
		off, err := rm.CInteger(offSym, 8, true)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to read %s: %w", l.name, c.offsetSymbol, err)
		}
		size := c.size
		if size == 0 {
			size = rm.PointerSize()
		}
		if off+uint64(size) > stride {
			return nil, fmt.Errorf("%s: column %s at %d exceeds stride %d",
				l.name, col, off, stride)
		}
		t.offsets[col] = off
		t.sizes[col] = size
	}
	return t, nil
}

// entry is one raw introspection table record.
type entry struct {
	t   *table
	rm  remotememory.RemoteMemory
	buf []byte
}

func (e entry) u64(col string) uint64 {
	off := e.t.offsets[col]
	b := e.buf[off : off+uint64(e.t.sizes[col])]
	switch len(b) {
	case 4:
		return uint64(e.rm.Order().Uint32(b))
	default:
		return e.rm.Order().Uint64(b)
	}
}

func (e entry) int32(col string) int32 {
	return int32(e.u64(col))
}

func (e entry) ptr(col string) libpf.Address {
	return libpf.Address(e.u64(col))
}

// each calls fn for every record until the terminating one, which has a NULL
// in its first column.
func (t *table) each(rm remotememory.RemoteMemory, first string, fn func(entry) error) error {
	buf := make([]byte, t.stride)
	addr := t.base
	for i := 0; i < maxTableEntries; i++ {
		if err := rm.Read(addr, buf); err != nil {
			return fmt.Errorf("%s[%d]: %w", t.name, i, err)
		}
		e := entry{t: t, rm: rm, buf: buf}
		if e.ptr(first) == 0 {
			return nil
		}
		if err := fn(e); err != nil {
			return fmt.Errorf("%s[%d]: %w", t.name, i, err)
		}
		addr = addr.AddOffset(t.stride)
	}
	return fmt.Errorf("%s: no terminator within %d entries", t.name, maxTableEntries)
}

// loader carries the state of one Load call.
type loader struct {
	rm      remotememory.RemoteMemory
	strings *freelru.LRU[libpf.Address, string]
}

// str reads a C string, caching by address. Type names repeat heavily across
// the structs table.
func (l *loader) str(addr libpf.Address) (string, error) {
	if addr == 0 {
		return "", nil
	}
	if s, ok := l.strings.Get(addr); ok {
		return s, nil
	}
	s, err := l.rm.CString(addr)
	if err != nil {
		return "", err
	}
	l.strings.Add(addr, s)
	return s, nil
}

// Load reads the introspection tables of the target into a new Database.
// Types are loaded first so that every struct entry can be attached to its
// containing type.
func Load(rm remotememory.RemoteMemory, syms Symbols) (*Database, error) {
	if !rm.Valid() {
		return nil, errors.New("no target memory")
	}
	cache, err := freelru.New[libpf.Address, string](stringCacheSize, libpf.Address.Hash32)
	if err != nil {
		return nil, err
	}
	l := &loader{rm: rm, strings: cache}
	db := newDatabase(rm)

	if err := l.loadTypes(db, syms); err != nil {
		return nil, err
	}
	if err := l.loadStructs(db, syms); err != nil {
		return nil, err
	}
	if err := l.loadIntConstants(db, syms); err != nil {
		return nil, err
	}
	if err := l.loadLongConstants(db, syms); err != nil {
		return nil, err
	}

	log.Debugf("Loaded %d types, %d int and %d long constants",
		len(db.types), len(db.intConstants), len(db.longConstants))
	return db, nil
}

func (l *loader) loadTypes(db *Database, syms Symbols) error {
	t, err := resolveTable(l.rm, syms, typesLayout)
	if err != nil {
		return err
	}
	return t.each(l.rm, "TypeName", func(e entry) error {
		name, err := l.str(e.ptr("TypeName"))
		if err != nil {
			return err
		}
		super, err := l.str(e.ptr("SuperclassName"))
		if err != nil {
			return err
		}
		db.addType(&Type{
			Name:          name,
			Superclass:    super,
			Size:          e.u64("Size"),
			IsOopType:     e.int32("IsOopType") != 0,
			IsIntegerType: e.int32("IsIntegerType") != 0,
			IsUnsigned:    e.int32("IsUnsigned") != 0,
		})
		return nil
	})
}

func (l *loader) loadStructs(db *Database, syms Symbols) error {
	t, err := resolveTable(l.rm, syms, structsLayout)
	if err != nil {
		return err
	}
	return t.each(l.rm, "TypeName", func(e entry) error {
		typeName, err := l.str(e.ptr("TypeName"))
		if err != nil {
			return err
		}
		owner, ok := db.types[typeName]
		if !ok {
			return fmt.Errorf("field of unknown type %s: %w", typeName, ErrNotFound)
		}
		fieldName, err := l.str(e.ptr("FieldName"))
		if err != nil {
			return err
		}
		typeString, err := l.str(e.ptr("TypeString"))
		if err != nil {
			return err
		}
		f := &Field{
			Name:       fieldName,
			TypeString: typeString,
			IsStatic:   e.int32("IsStatic") != 0,
		}
		if f.IsStatic {
			f.StaticAddress = e.ptr("Address")
		} else {
			f.Offset = e.u64("Offset")
		}
		owner.addField(f)
		return nil
	})
}

func (l *loader) loadIntConstants(db *Database, syms Symbols) error {
	t, err := resolveTable(l.rm, syms, intConstantsLayout)
	if err != nil {
		return err
	}
	return t.each(l.rm, "Name", func(e entry) error {
		name, err := l.str(e.ptr("Name"))
		if err != nil {
			return err
		}
		if _, ok := db.intConstants[name]; !ok {
			db.intConstants[name] = int64(e.int32("Value"))
		}
		return nil
	})
}

func (l *loader) loadLongConstants(db *Database, syms Symbols) error {
	t, err := resolveTable(l.rm, syms, longConstantsLayout)
	if err != nil {
		return err
	}
	return t.each(l.rm, "Name", func(e entry) error {
		name, err := l.str(e.ptr("Name"))
		if err != nil {
			return err
		}
		if _, ok := db.longConstants[name]; !ok {
			db.longConstants[name] = e.u64("Value")
		}
		return nil
	})
}
