// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package vm // import "go.opentelemetry.io/hotspot-sa/vm"

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyInitialized is returned by Manager.Initialize when a VM is
	// already attached.
	ErrAlreadyInitialized = errors.New("attempt to initialize VM twice")
	// ErrNotInitialized is returned when the VM is requested before a
	// successful attach.
	ErrNotInitialized = errors.New("VM not initialized")
	// ErrVersionUnknown wraps failures reading the target's version strings.
	ErrVersionUnknown = errors.New("can't determine target's VM version")
	// ErrUnsupportedFlagType is returned for flags of a type other than
	// bool, intx and uintx.
	ErrUnsupportedFlagType = errors.New("unsupported flag type")
)

// ConfigError reports a target configuration that is not supported.
type ConfigError struct {
	// What names the offending setting, e.g. "address size"
	What string
	// Value is the value found in the target
	Value int64
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s %d not yet supported", e.What, e.Value)
}

// VersionMismatchError is returned when the target runs a release this agent
// was not built for.
type VersionMismatchError struct {
	SAVersion string
	VMVersion string
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("supported versions are %s, target VM is %s", e.SAVersion, e.VMVersion)
}
