// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package vm // import "go.opentelemetry.io/hotspot-sa/vm"

import (
	"go.opentelemetry.io/hotspot-sa/subsys"
)

// lazily returns the value of sl, constructing it with factory on first use.
func lazily[T any](s *Session, sl *slot[T], factory func(subsys.VM) (T, error)) (T, error) {
	return sl.get(func() (T, error) {
		return factory(s)
	})
}

func (s *Session) Universe() (*subsys.Universe, error) {
	return lazily(s, &s.universe, s.factories.Universe)
}

func (s *Session) ObjectHeap() (*subsys.ObjectHeap, error) {
	return lazily(s, &s.objectHeap, s.factories.ObjectHeap)
}

func (s *Session) SymbolTable() (*subsys.SymbolTable, error) {
	return lazily(s, &s.symbolTable, s.factories.SymbolTable)
}

func (s *Session) StringTable() (*subsys.StringTable, error) {
	return lazily(s, &s.stringTable, s.factories.StringTable)
}

func (s *Session) SystemDictionary() (*subsys.SystemDictionary, error) {
	return lazily(s, &s.systemDictionary, s.factories.SystemDictionary)
}

func (s *Session) Threads() (*subsys.Threads, error) {
	return lazily(s, &s.threads, s.factories.Threads)
}

func (s *Session) ObjectSynchronizer() (*subsys.ObjectSynchronizer, error) {
	return lazily(s, &s.objectSynchronizer, s.factories.ObjectSynchronizer)
}

func (s *Session) JNIHandles() (*subsys.JNIHandles, error) {
	return lazily(s, &s.jniHandles, s.factories.JNIHandles)
}

func (s *Session) Interpreter() (*subsys.Interpreter, error) {
	return lazily(s, &s.interpreter, s.factories.Interpreter)
}

func (s *Session) StubRoutines() (*subsys.StubRoutines, error) {
	return lazily(s, &s.stubRoutines, s.factories.StubRoutines)
}

// CodeCache returns the compiled code bounds. A core build has no code
// cache and calling this is a bug.
func (s *Session) CodeCache() (*subsys.CodeCache, error) {
	if s.IsCore() {
		panic("bug: no code cache in a core build")
	}
	return lazily(s, &s.codeCache, s.factories.CodeCache)
}

// Runtime1 returns the C1 runtime stubs. Only a client build has them.
func (s *Session) Runtime1() (*subsys.Runtime1, error) {
	if !s.IsClientCompiler() {
		panic("bug: C1 runtime requested in a build without C1")
	}
	return lazily(s, &s.runtime1, s.factories.Runtime1)
}

func (s *Session) VMRegImpl() (*subsys.VMRegImpl, error) {
	return lazily(s, &s.vmRegImpl, s.factories.VMRegImpl)
}

// Bytes returns the byte order helper of the target.
func (s *Session) Bytes() *subsys.Bytes {
	b, _ := s.bytes.get(func() (*subsys.Bytes, error) {
		return subsys.NewBytes(s.bigEndian), nil
	})
	return b
}
