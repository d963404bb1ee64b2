// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/hotspot-sa/config"
	"go.opentelemetry.io/hotspot-sa/debugger"
	"go.opentelemetry.io/hotspot-sa/libpf"
	"go.opentelemetry.io/hotspot-sa/testsupport/fakejvm"
	"go.opentelemetry.io/hotspot-sa/vm"
)

func TestParsePIDs(t *testing.T) {
	tests := map[string]struct {
		in   string
		pids []libpf.PID
		err  bool
	}{
		"single":     {in: "1234", pids: []libpf.PID{1234}},
		"list":       {in: "1,2, 3,", pids: []libpf.PID{1, 2, 3}},
		"empty":      {in: "", err: true},
		"only comma": {in: ",", err: true},
		"zero":       {in: "0", err: true},
		"negative":   {in: "-5", err: true},
		"garbage":    {in: "12,abc", err: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			pids, err := parsePIDs(tc.in)
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.pids, pids)
		})
	}
}

func TestParseArgs(t *testing.T) {
	t.Setenv(envVarPrefix+"_SA_VERSION", "1.8.0-b10")
	args, err := parseArgs([]string{"-pid", "42", "-flags", "-v"})
	require.NoError(t, err)
	assert.Equal(t, "42", args.pids)
	assert.True(t, args.printFlags)
	assert.True(t, args.verbose)
	assert.Equal(t, "1.8.0-b10", args.saVersion)

	cfg := args.config()
	assert.Equal(t, "1.8.0-b10", cfg.SABuildVersion)
	assert.False(t, cfg.DisableVersionCheck)

	args, err = parseArgs([]string{"-disable-version-check"})
	require.NoError(t, err)
	assert.True(t, args.config().DisableVersionCheck)

	_, err = parseArgs([]string{"-no-such-flag"})
	assert.Error(t, err)
}

func TestParseArgsVersionCheckEnv(t *testing.T) {
	tests := map[string]struct {
		env      map[string]string
		disabled bool
		err      bool
	}{
		"flag env false": {
			env: map[string]string{envVarPrefix + "_DISABLE_VERSION_CHECK": "false"},
		},
		"flag env true": {
			env:      map[string]string{envVarPrefix + "_DISABLE_VERSION_CHECK": "true"},
			disabled: true,
		},
		"flag env not a bool": {
			env: map[string]string{envVarPrefix + "_DISABLE_VERSION_CHECK": "yes"},
			err: true,
		},
		"opt-out present": {
			env:      map[string]string{config.EnvDisableVersionCheck: ""},
			disabled: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			args, err := parseArgs(nil)
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.disabled, args.config().DisableVersionCheck)
		})
	}
}

func TestParseArgsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hotspot-sa.conf")
	require.NoError(t, os.WriteFile(path, []byte("pid 77,78\nflag UseTLAB\n"), 0o600))

	args, err := parseArgs([]string{"-config", path, "-v"})
	require.NoError(t, err)
	assert.Equal(t, "77,78", args.pids)
	assert.Equal(t, "UseTLAB", args.flag)
	assert.True(t, args.verbose)

	_, err = parseArgs([]string{"-config", filepath.Join(t.TempDir(), "missing")})
	assert.NoError(t, err)
}

func TestWriteReport(t *testing.T) {
	jvm := fakejvm.New(fakejvm.Config{
		Compiler: fakejvm.Server,
		Flags: []fakejvm.Flag{
			{Type: "bool", Name: "UseCompressedOops", Value: 1, Origin: 5},
			{Type: "intx", Name: "MaxInlineSize", Value: 35, Origin: 1},
			{Type: "ccstr", Name: "ErrorFile"},
		},
	})
	db := jvm.Database(t)
	proc := debugger.New(1234, db,
		debugger.MachineDescription{AddressSize: 8, LP64: true}, "linux", "amd64")
	m := vm.NewManager(config.Config{SABuildVersion: fakejvm.DefaultRelease})
	require.NoError(t, m.InitializeDebugger(db, proc))
	s, err := m.VM()
	require.NoError(t, err)

	var sb strings.Builder
	require.NoError(t, writeReport(&sb, 1234, s, &arguments{printFlags: true}))
	out := sb.String()
	assert.Contains(t, out, "PID 1234: HotSpot "+fakejvm.DefaultRelease+" (server compiler) on linux/amd64")
	assert.Contains(t, out, "compressed oops true")
	assert.Contains(t, out, "7 Java threads")
	assert.Contains(t, out, "  MaxInlineSize = 35 (command line)\n")
	assert.Contains(t, out, "  UseCompressedOops = true (ergonomic)\n")
	assert.Contains(t, out, "  ErrorFile = <ccstr> (default)\n")

	sb.Reset()
	require.NoError(t, writeReport(&sb, 1234, s, &arguments{flag: "MaxInlineSize"}))
	assert.Contains(t, sb.String(), "MaxInlineSize = 35")
	assert.Error(t, writeReport(&sb, 1234, s, &arguments{flag: "Missing"}))

	hc, ok := proc.HeapConst()
	require.True(t, ok)
	assert.Equal(t, 4, hc.OopSize)
}
