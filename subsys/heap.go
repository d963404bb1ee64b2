// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package subsys // import "go.opentelemetry.io/hotspot-sa/subsys"

import (
	"go.opentelemetry.io/hotspot-sa/libpf"
)

// Universe holds the global heap anchors and the compressed reference
// encodings.
type Universe struct {
	CollectedHeap    libpf.Address
	NarrowOopBase    libpf.Address
	NarrowOopShift   int
	NarrowKlassBase  libpf.Address
	NarrowKlassShift int
}

// NewUniverse reads the Universe statics.
func NewUniverse(vm VM) (*Universe, error) {
	db := vm.TypeDataBase()
	addrs, err := staticAddresses(db, "Universe",
		"_collectedHeap", "_narrow_oop._base", "_narrow_klass._base")
	if err != nil {
		return nil, err
	}
	oopShift, err := staticInt(db, "Universe", "_narrow_oop._shift")
	if err != nil {
		return nil, err
	}
	klassShift, err := staticInt(db, "Universe", "_narrow_klass._shift")
	if err != nil {
		return nil, err
	}
	return &Universe{
		CollectedHeap:    addrs[0],
		NarrowOopBase:    addrs[1],
		NarrowOopShift:   int(oopShift),
		NarrowKlassBase:  addrs[2],
		NarrowKlassShift: int(klassShift),
	}, nil
}

// ObjectHeap describes how objects are laid out in the Java heap.
type ObjectHeap struct {
	// OopSize is the size of a reference stored in an object.
	OopSize int
	// KlassPtrSize is the size of the klass pointer in an object header.
	KlassPtrSize int
	// MarkOffset and KlassOffset locate the header words.
	MarkOffset  uint64
	KlassOffset uint64
	// HeaderSize is the object header size in bytes.
	HeaderSize uint64
}

// NewObjectHeap derives the object header layout from oopDesc.
func NewObjectHeap(vm VM) (*ObjectHeap, error) {
	db := vm.TypeDataBase()
	oopDesc, err := db.LookupType("oopDesc")
	if err != nil {
		return nil, err
	}
	mark, err := oopDesc.Field("_mark")
	if err != nil {
		return nil, err
	}
	klassName := "_metadata._klass"
	if vm.IsCompressedKlassPointersEnabled() {
		klassName = "_metadata._compressed_klass"
	}
	klass, err := oopDesc.Field(klassName)
	if err != nil {
		return nil, err
	}

	header := oopDesc.Size
	if vm.IsCompressedKlassPointersEnabled() {
		header -= uint64(vm.IntSize())
	}
	return &ObjectHeap{
		OopSize:      vm.HeapOopSize(),
		KlassPtrSize: vm.KlassPtrSize(),
		MarkOffset:   mark.Offset,
		KlassOffset:  klass.Offset,
		HeaderSize:   header,
	}, nil
}
