// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package subsys // import "go.opentelemetry.io/hotspot-sa/subsys"

import (
	"go.opentelemetry.io/hotspot-sa/libpf"
)

// SymbolTable is the VM's interned Symbol table.
type SymbolTable struct {
	TheTable libpf.Address
}

// NewSymbolTable reads the address of SymbolTable::_the_table.
func NewSymbolTable(vm VM) (*SymbolTable, error) {
	addr, err := staticAddress(vm.TypeDataBase(), "SymbolTable", "_the_table")
	if err != nil {
		return nil, err
	}
	return &SymbolTable{TheTable: addr}, nil
}

// StringTable is the VM's interned java.lang.String table.
type StringTable struct {
	TheTable libpf.Address
}

// NewStringTable reads the address of StringTable::_the_table.
func NewStringTable(vm VM) (*StringTable, error) {
	addr, err := staticAddress(vm.TypeDataBase(), "StringTable", "_the_table")
	if err != nil {
		return nil, err
	}
	return &StringTable{TheTable: addr}, nil
}

// SystemDictionary holds the loaded classes.
type SystemDictionary struct {
	Dictionary libpf.Address
}

// NewSystemDictionary reads the address of SystemDictionary::_dictionary.
func NewSystemDictionary(vm VM) (*SystemDictionary, error) {
	addr, err := staticAddress(vm.TypeDataBase(), "SystemDictionary", "_dictionary")
	if err != nil {
		return nil, err
	}
	return &SystemDictionary{Dictionary: addr}, nil
}

// Threads is the list of Java threads.
type Threads struct {
	First libpf.Address
	Count int
}

// NewThreads reads the head of the thread list and the thread count.
func NewThreads(vm VM) (*Threads, error) {
	db := vm.TypeDataBase()
	first, err := staticAddress(db, "Threads", "_thread_list")
	if err != nil {
		return nil, err
	}
	n, err := staticInt(db, "Threads", "_number_of_threads")
	if err != nil {
		return nil, err
	}
	return &Threads{First: first, Count: int(n)}, nil
}

// ObjectSynchronizer holds the inflated monitor blocks.
type ObjectSynchronizer struct {
	BlockList libpf.Address
}

// NewObjectSynchronizer reads the address of ObjectSynchronizer::gBlockList.
func NewObjectSynchronizer(vm VM) (*ObjectSynchronizer, error) {
	addr, err := staticAddress(vm.TypeDataBase(), "ObjectSynchronizer", "gBlockList")
	if err != nil {
		return nil, err
	}
	return &ObjectSynchronizer{BlockList: addr}, nil
}

// JNIHandles holds the global JNI handle blocks.
type JNIHandles struct {
	GlobalHandles     libpf.Address
	WeakGlobalHandles libpf.Address
}

// NewJNIHandles reads the global and weak global handle blocks.
func NewJNIHandles(vm VM) (*JNIHandles, error) {
	addrs, err := staticAddresses(vm.TypeDataBase(), "JNIHandles",
		"_global_handles", "_weak_global_handles")
	if err != nil {
		return nil, err
	}
	return &JNIHandles{GlobalHandles: addrs[0], WeakGlobalHandles: addrs[1]}, nil
}
