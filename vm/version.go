// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package vm // import "go.opentelemetry.io/hotspot-sa/vm"

import (
	"errors"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/hotspot-sa/config"
)

// buildFlavor matches the build flavor suffixes a release string may carry.
var buildFlavor = regexp.MustCompile(`(-fastdebug)|(-debug)|(-jvmg)|(-optimized)|(-profiled)`)

// errMissingSAVersion is returned when the agent has no build version to
// compare the target against.
var errMissingSAVersion = errors.New("missing property " + config.SABuildVersionKey)

// checkVMVersion compares the target release with the release the agent was
// built for. Releases with at most one '-' must match exactly, development
// builds only produce a warning.
func checkVMVersion(cfg config.Config, vmRelease string) error {
	if cfg.DisableVersionCheck {
		log.Warn("You have disabled SA and VM version check. You may be " +
			"using incompatible version of SA and you may see unexpected results.")
		return nil
	}
	if cfg.SABuildVersion == "" {
		return errMissingSAVersion
	}

	vmVersion := buildFlavor.ReplaceAllString(vmRelease, "")
	if cfg.SABuildVersion == vmVersion {
		return nil
	}
	if strings.Count(cfg.SABuildVersion, "-") <= 1 && strings.Count(vmVersion, "-") <= 1 {
		return &VersionMismatchError{SAVersion: cfg.SABuildVersion, VMVersion: vmRelease}
	}
	log.Warnf("Hotspot VM version %s does not match with SA version %s. "+
		"You may see unexpected results.", vmRelease, cfg.SABuildVersion)
	return nil
}
