// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package vm // import "go.opentelemetry.io/hotspot-sa/vm"

import (
	"slices"
	"sync"
)

// initializedObservers are notified on every attach. A newly registered
// observer is also called right away, so late registrations are never lost.
type initializedObservers struct {
	mu  sync.Mutex
	fns []func()
}

func (o *initializedObservers) register(fn func()) {
	o.mu.Lock()
	o.fns = append(o.fns, fn)
	o.mu.Unlock()
	fn()
}

func (o *initializedObservers) fire() {
	o.mu.Lock()
	fns := slices.Clone(o.fns)
	o.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// executionObservers are notified when the caller reports that the target
// resumed or suspended. Registration never calls the observer.
type executionObservers struct {
	mu  sync.Mutex
	fns []func()
}

func (o *executionObservers) register(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fns = append(o.fns, fn)
}

func (o *executionObservers) fire() {
	o.mu.Lock()
	fns := slices.Clone(o.fns)
	o.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
