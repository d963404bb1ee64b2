// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package config holds the serviceability agent settings: the version check
// opt-outs and the agent's own build version.
package config // import "go.opentelemetry.io/hotspot-sa/config"

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/magiconair/properties"
	log "github.com/sirupsen/logrus"
)

const (
	// SABuildVersionKey is the property holding the agent build version.
	SABuildVersionKey = "sun.jvm.hotspot.runtime.VM.saBuildVersion"

	// EnvDisableVersionCheck disables the target version check when set. It
	// lives outside the HOTSPOT_SA_ namespace the command line flags own.
	EnvDisableVersionCheck = "SA_DISABLE_VERSION_CHECK"
	// EnvDisableDerivedPointerTableCheck disables the derived pointer table
	// when set.
	EnvDisableDerivedPointerTableCheck = "SA_DISABLE_DERIVED_POINTER_TABLE_CHECK"
)

//go:embed sa.properties
var saProperties []byte

// Config is the structure to pass the configuration into a vm.Manager.
type Config struct {
	// DisableVersionCheck attaches to any target release, logging a warning.
	DisableVersionCheck bool
	// DisableDerivedPointerTableCheck turns off use of the derived pointer
	// table when walking compiled frames.
	DisableDerivedPointerTableCheck bool
	// SABuildVersion is the release the target is expected to run. Empty
	// means unknown, which fails the version check unless it is disabled.
	SABuildVersion string
}

// Parse reads the agent build version from a properties resource.
func Parse(buf []byte) (Config, error) {
	p, err := properties.Load(buf, properties.UTF8)
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse properties: %w", err)
	}
	var cfg Config
	if v, ok := p.Get(SABuildVersionKey); ok {
		cfg.SABuildVersion = v
	}
	return cfg, nil
}

// Default returns the configuration built into the agent.
func Default() Config {
	cfg, err := Parse(saProperties)
	if err != nil {
		// The embedded resource is part of the build.
		panic(fmt.Sprintf("bug: embedded sa.properties: %v", err))
	}
	return cfg
}

// FromEnvironment returns Default amended by the opt-out environment
// variables. A variable being present turns the check off, whatever its value.
func FromEnvironment() Config {
	cfg := Default()
	if _, ok := os.LookupEnv(EnvDisableVersionCheck); ok {
		cfg.DisableVersionCheck = true
	}
	if _, ok := os.LookupEnv(EnvDisableDerivedPointerTableCheck); ok {
		cfg.DisableDerivedPointerTableCheck = true
	}
	log.Debugf("SA build version %q, version check disabled: %v",
		cfg.SABuildVersion, cfg.DisableVersionCheck)
	return cfg
}
