//go:build linux

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package remotememory // import "go.opentelemetry.io/hotspot-sa/remotememory"

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ReadAt reads from the target with a single process_vm_readv call. The kernel stops
// at the first unreadable page, in which case the bytes read so far are returned
// together with an error so callers can consume a partial C string.
func (vm ProcessVirtualMemory) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	localIov := []unix.Iovec{{Base: &p[0], Len: uint64(len(p))}}
	remoteIov := []unix.RemoteIovec{{Base: uintptr(off), Len: len(p)}}
	n, err := unix.ProcessVMReadv(int(vm.pid), localIov, remoteIov, 0)
	switch {
	case err != nil:
		return 0, fmt.Errorf("failed to read PID %v at 0x%x: %w", vm.pid, off, err)
	case n != len(p):
		return n, fmt.Errorf("failed to read PID %v at 0x%x: got only %d of %d",
			vm.pid, off, n, len(p))
	}
	return n, nil
}
