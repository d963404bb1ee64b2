//go:build !linux

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package remotememory // import "go.opentelemetry.io/hotspot-sa/remotememory"

import (
	"fmt"
	"runtime"
)

// ReadAt always fails: attaching to a live process needs process_vm_readv.
// Snapshot based targets work on every OS.
func (vm ProcessVirtualMemory) ReadAt(_ []byte, off int64) (int, error) {
	return 0, fmt.Errorf("reading PID %v at 0x%x: unsupported os %s", vm.pid, off, runtime.GOOS)
}
