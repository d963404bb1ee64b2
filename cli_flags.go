// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/peterbourgon/ff/v3"

	"go.opentelemetry.io/hotspot-sa/config"
	"go.opentelemetry.io/hotspot-sa/libpf"
)

const envVarPrefix = "HOTSPOT_SA"

// Help strings for command line arguments
var (
	pidHelp                 = "Comma-separated list of HotSpot JVM process IDs to attach to."
	flagsHelp               = "Print the command line flags of each target."
	flagHelp                = "Print a single command line flag of each target."
	disableVersionCheckHelp = "Attach to targets of any release, only warning " +
		"when it differs from the SA build version. Same as setting " +
		config.EnvDisableVersionCheck + "."
	configHelp    = "Path to a plain configuration file with one 'flag value' per line."
	saVersionHelp = "Override the release the target is expected to run."
	verboseHelp   = "Enable verbose logging."
	versionHelp   = "Show version."
)

type arguments struct {
	pids                string
	printFlags          bool
	flag                string
	disableVersionCheck bool
	saVersion           string
	verbose             bool
	version             bool

	fs *flag.FlagSet
}

func parseArgs(argv []string) (*arguments, error) {
	var args arguments

	fs := flag.NewFlagSet("hotspot-sa", flag.ContinueOnError)

	// Please keep the parameters ordered alphabetically in the source-code.
	fs.String("config", "", configHelp)
	fs.BoolVar(&args.disableVersionCheck, "disable-version-check", false,
		disableVersionCheckHelp)
	fs.StringVar(&args.flag, "flag", "", flagHelp)
	fs.BoolVar(&args.printFlags, "flags", false, flagsHelp)
	fs.StringVar(&args.pids, "pid", "", pidHelp)
	fs.StringVar(&args.saVersion, "sa-version", "", saVersionHelp)
	fs.BoolVar(&args.verbose, "v", false, "Shorthand for -verbose.")
	fs.BoolVar(&args.verbose, "verbose", false, verboseHelp)
	fs.BoolVar(&args.version, "version", false, versionHelp)

	fs.Usage = func() {
		fs.PrintDefaults()
	}

	args.fs = fs

	return &args, ff.Parse(fs, argv,
		ff.WithEnvVarPrefix(envVarPrefix),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithAllowMissingConfigFile(true),
	)
}

// config returns the agent configuration amended by the command line.
func (args *arguments) config() config.Config {
	cfg := config.FromEnvironment()
	if args.disableVersionCheck {
		cfg.DisableVersionCheck = true
	}
	if args.saVersion != "" {
		cfg.SABuildVersion = args.saVersion
	}
	return cfg
}

// parsePIDs parses the comma separated -pid argument.
func parsePIDs(s string) ([]libpf.PID, error) {
	var pids []libpf.PID
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		pid, err := strconv.ParseUint(field, 10, 32)
		if err != nil || pid == 0 {
			return nil, fmt.Errorf("invalid PID '%s'", field)
		}
		pids = append(pids, libpf.PID(pid))
	}
	if len(pids) == 0 {
		return nil, errors.New("no PID given")
	}
	return pids, nil
}
