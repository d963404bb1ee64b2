// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package vm implements the VM session: the foundational facts about an
// attached HotSpot target (sizes, encodings, byte order, compiler
// configuration, command line flags) and the on-demand subsystems built on
// them.
//
// A Manager owns at most one Session at a time and the observers that are
// notified whenever a new target is attached.
package vm // import "go.opentelemetry.io/hotspot-sa/vm"

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/hotspot-sa/config"
	"go.opentelemetry.io/hotspot-sa/debugger"
	"go.opentelemetry.io/hotspot-sa/vmstructs"
)

// Manager tracks the attach state of one logical debugging session.
type Manager struct {
	cfg       config.Config
	factories Factories
	observers initializedObservers

	mu          sync.Mutex
	session     *Session
	fingerprint uint64
}

// NewManager returns an unattached manager.
func NewManager(cfg config.Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg,
		factories: DefaultFactories(),
	}
	for _, opt := range opts {
		m = opt.applyOption(m)
	}
	return m
}

// Initialize attaches to the target described by db without a debugger, as an
// in-process runtime would. It fails if a VM is already attached.
func (m *Manager) Initialize(db vmstructs.TypeDataBase, bigEndian bool) error {
	m.mu.Lock()
	if m.session != nil {
		m.mu.Unlock()
		return ErrAlreadyInitialized
	}
	s, err := newSession(m.cfg, db, nil, bigEndian, m.factories)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.publish(s)
	m.mu.Unlock()

	m.observers.fire()
	return nil
}

// InitializeDebugger attaches to the target behind dbg. If a VM is already
// attached this is a no-op, so that several tools sharing one debugger can
// each bootstrap it. After the observers ran, the heap encoding constants are
// pushed to the debugger.
func (m *Manager) InitializeDebugger(db vmstructs.TypeDataBase, dbg Debugger) error {
	m.mu.Lock()
	if m.session != nil {
		m.mu.Unlock()
		log.Debugf("VM already initialized, ignoring debugger attach")
		return nil
	}
	s, err := newSession(m.cfg, db, dbg, dbg.MachineDescription().BigEndian, m.factories)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	u, err := s.Universe()
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to read heap constants: %w", err)
	}
	m.publish(s)
	m.mu.Unlock()

	m.observers.fire()
	dbg.PutHeapConst(debugger.HeapConst{
		OopSize:          s.HeapOopSize(),
		KlassPtrSize:     s.KlassPtrSize(),
		NarrowOopBase:    u.NarrowOopBase,
		NarrowOopShift:   u.NarrowOopShift,
		NarrowKlassBase:  u.NarrowKlassBase,
		NarrowKlassShift: u.NarrowKlassShift,
	})
	return nil
}

// publish makes s the attached session. Caller holds m.mu.
func (m *Manager) publish(s *Session) {
	m.session = s
	fp, ok := s.db.(interface{ Fingerprint() uint64 })
	if !ok {
		return
	}
	next := fp.Fingerprint()
	if m.fingerprint != 0 && m.fingerprint != next {
		log.Infof("Type database layout changed (%016x -> %016x)", m.fingerprint, next)
	}
	m.fingerprint = next
	log.Debugf("Attached VM %s, layout %016x", s.VMRelease(), next)
}

// Shutdown detaches the current VM. Nobody is notified.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
}

// VM returns the attached session.
func (m *Manager) VM() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, ErrNotInitialized
	}
	return m.session, nil
}

// Attached reports whether a VM is attached.
func (m *Manager) Attached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// RegisterVMInitializedObserver adds fn to the observers notified on every
// attach and calls it once immediately, whether or not a VM is attached.
func (m *Manager) RegisterVMInitializedObserver(fn func()) {
	m.observers.register(fn)
}
