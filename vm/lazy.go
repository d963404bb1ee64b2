// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package vm // import "go.opentelemetry.io/hotspot-sa/vm"

import (
	"sync"
	"sync/atomic"
)

// slot holds a value that is computed at most once.
//
// If the init function fails, the error is returned and the slot stays empty,
// so the next get retries. Only one goroutine runs init at a time. init must
// not call get on the same slot.
type slot[T any] struct {
	done  atomic.Bool
	mu    sync.Mutex
	value T
}

func (s *slot[T]) get(init func() (T, error)) (T, error) {
	if s.done.Load() {
		return s.value, nil
	}
	// Outlined slow path so that the fast path can be inlined.
	return s.initSlow(init)
}

func (s *slot[T]) initSlow(init func() (T, error)) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done.Load() {
		return s.value, nil
	}
	v, err := init()
	if err != nil {
		var zero T
		return zero, err
	}
	s.value = v
	s.done.Store(true)
	return v, nil
}

// peek returns the value if it has been computed.
func (s *slot[T]) peek() (T, bool) {
	if !s.done.Load() {
		var zero T
		return zero, false
	}
	return s.value, true
}

// must returns a value that construction is known to have computed.
func (s *slot[T]) must(what string) T {
	v, ok := s.peek()
	if !ok {
		panic("bug: " + what + " not computed at attach")
	}
	return v
}
