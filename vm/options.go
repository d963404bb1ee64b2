// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package vm // import "go.opentelemetry.io/hotspot-sa/vm"

import "go.opentelemetry.io/hotspot-sa/subsys"

// Factories construct the subsystems a Session hands out. Each is called at
// most once per successful construction and per session.
type Factories struct {
	Universe           func(subsys.VM) (*subsys.Universe, error)
	ObjectHeap         func(subsys.VM) (*subsys.ObjectHeap, error)
	SymbolTable        func(subsys.VM) (*subsys.SymbolTable, error)
	StringTable        func(subsys.VM) (*subsys.StringTable, error)
	SystemDictionary   func(subsys.VM) (*subsys.SystemDictionary, error)
	Threads            func(subsys.VM) (*subsys.Threads, error)
	ObjectSynchronizer func(subsys.VM) (*subsys.ObjectSynchronizer, error)
	JNIHandles         func(subsys.VM) (*subsys.JNIHandles, error)
	Interpreter        func(subsys.VM) (*subsys.Interpreter, error)
	StubRoutines       func(subsys.VM) (*subsys.StubRoutines, error)
	CodeCache          func(subsys.VM) (*subsys.CodeCache, error)
	Runtime1           func(subsys.VM) (*subsys.Runtime1, error)
	VMRegImpl          func(subsys.VM) (*subsys.VMRegImpl, error)
}

// DefaultFactories returns the constructors of package subsys.
func DefaultFactories() Factories {
	return Factories{
		Universe:           subsys.NewUniverse,
		ObjectHeap:         subsys.NewObjectHeap,
		SymbolTable:        subsys.NewSymbolTable,
		StringTable:        subsys.NewStringTable,
		SystemDictionary:   subsys.NewSystemDictionary,
		Threads:            subsys.NewThreads,
		ObjectSynchronizer: subsys.NewObjectSynchronizer,
		JNIHandles:         subsys.NewJNIHandles,
		Interpreter:        subsys.NewInterpreter,
		StubRoutines:       subsys.NewStubRoutines,
		CodeCache:          subsys.NewCodeCache,
		Runtime1:           subsys.NewRuntime1,
		VMRegImpl:          subsys.NewVMRegImpl,
	}
}

// merge replaces the entries of f that are set in o.
func (f *Factories) merge(o Factories) {
	mergeOne(&f.Universe, o.Universe)
	mergeOne(&f.ObjectHeap, o.ObjectHeap)
	mergeOne(&f.SymbolTable, o.SymbolTable)
	mergeOne(&f.StringTable, o.StringTable)
	mergeOne(&f.SystemDictionary, o.SystemDictionary)
	mergeOne(&f.Threads, o.Threads)
	mergeOne(&f.ObjectSynchronizer, o.ObjectSynchronizer)
	mergeOne(&f.JNIHandles, o.JNIHandles)
	mergeOne(&f.Interpreter, o.Interpreter)
	mergeOne(&f.StubRoutines, o.StubRoutines)
	mergeOne(&f.CodeCache, o.CodeCache)
	mergeOne(&f.Runtime1, o.Runtime1)
	mergeOne(&f.VMRegImpl, o.VMRegImpl)
}

func mergeOne[T any](dst *func(subsys.VM) (T, error), src func(subsys.VM) (T, error)) {
	if src != nil {
		*dst = src
	}
}

// Option configures a Manager.
type Option interface {
	applyOption(*Manager) *Manager
}

type managerOptionFunc func(*Manager) *Manager

func (f managerOptionFunc) applyOption(m *Manager) *Manager {
	return f(m)
}

// WithFactories replaces the subsystem constructors that are set in f.
// This defaults to [DefaultFactories].
func WithFactories(f Factories) Option {
	return managerOptionFunc(func(m *Manager) *Manager {
		m.factories.merge(f)
		return m
	})
}
