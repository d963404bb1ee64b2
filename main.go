// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"go.opentelemetry.io/hotspot-sa/config"
	"go.opentelemetry.io/hotspot-sa/debugger"
	"go.opentelemetry.io/hotspot-sa/libpf"
	"go.opentelemetry.io/hotspot-sa/vc"
	"go.opentelemetry.io/hotspot-sa/vm"
)

type exitCode int

const (
	exitSuccess exitCode = 0
	exitFailure exitCode = 1

	// Go 'flag' package calls os.Exit(2) on flag parse errors, if ExitOnError is set
	exitParseError exitCode = 2
)

// maxConcurrentAttach bounds the number of targets read at the same time.
const maxConcurrentAttach = 8

func main() {
	os.Exit(int(mainWithExitCode()))
}

func mainWithExitCode() exitCode {
	args, err := parseArgs(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitSuccess
		}
		return parseError("Failure to parse arguments: %v", err)
	}

	if args.version {
		fmt.Printf("%s\n", vc.String())
		return exitSuccess
	}

	if args.verbose {
		log.SetLevel(log.DebugLevel)
	}

	pids, err := parsePIDs(args.pids)
	if err != nil {
		return parseError("Invalid argument for pid: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer cancel()

	reports, err := inspectAll(ctx, args.config(), pids, args)
	for _, r := range reports {
		fmt.Print(r)
	}
	if err != nil {
		return failure("%v", err)
	}
	return exitSuccess
}

// inspectAll attaches to every pid concurrently. Each target gets its own
// Manager. Reports are returned in pid order, empty for failed targets.
func inspectAll(ctx context.Context, cfg config.Config, pids []libpf.PID,
	args *arguments) ([]string, error) {
	reports := make([]string, len(pids))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentAttach)
	for i, pid := range pids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var sb strings.Builder
			if err := inspect(&sb, cfg, pid, args); err != nil {
				return fmt.Errorf("PID %d: %w", pid, err)
			}
			reports[i] = sb.String()
			return nil
		})
	}
	return reports, g.Wait()
}

func inspect(w io.Writer, cfg config.Config, pid libpf.PID, args *arguments) error {
	proc, err := debugger.Attach(pid)
	if err != nil {
		return err
	}
	m := vm.NewManager(cfg)
	if err = m.InitializeDebugger(proc.Database(), proc); err != nil {
		return err
	}
	defer m.Shutdown()
	s, err := m.VM()
	if err != nil {
		return err
	}
	return writeReport(w, pid, s, args)
}

func compilerName(s *vm.Session) string {
	switch {
	case s.IsServerCompiler():
		return "server"
	case s.IsClientCompiler():
		return "client"
	}
	return "core"
}

func writeReport(w io.Writer, pid libpf.PID, s *vm.Session, args *arguments) error {
	fmt.Fprintf(w, "PID %d: HotSpot %s (%s compiler) on %s/%s\n",
		pid, s.VMRelease(), compilerName(s), s.OS(), s.CPU())
	fmt.Fprintf(w, "  %s\n", s.VMInternalInfo())
	fmt.Fprintf(w, "  address size %d, LP64 %v, big endian %v\n",
		s.AddressSize(), s.IsLP64(), s.IsBigEndian())
	fmt.Fprintf(w, "  object alignment %d, heap oop size %d, klass pointer size %d\n",
		s.MinObjAlignmentInBytes(), s.HeapOopSize(), s.KlassPtrSize())
	fmt.Fprintf(w, "  compressed oops %v, compressed class pointers %v\n",
		s.IsCompressedOopsEnabled(), s.IsCompressedKlassPointersEnabled())
	if sharing, err := s.IsSharingEnabled(); err == nil {
		fmt.Fprintf(w, "  class data sharing %v\n", sharing)
	}
	if u, err := s.Universe(); err == nil {
		fmt.Fprintf(w, "  narrow oop base 0x%x shift %d, narrow klass base 0x%x shift %d\n",
			u.NarrowOopBase, u.NarrowOopShift, u.NarrowKlassBase, u.NarrowKlassShift)
	}
	if th, err := s.Threads(); err == nil {
		fmt.Fprintf(w, "  %d Java threads\n", th.Count)
	}

	if args.flag != "" {
		f, err := s.CommandLineFlag(args.flag)
		if err != nil {
			return err
		}
		if f == nil {
			return fmt.Errorf("no flag named %s", args.flag)
		}
		writeFlag(w, f)
	}
	if args.printFlags {
		flags, err := s.CommandLineFlags()
		if err != nil {
			return err
		}
		for _, f := range flags {
			writeFlag(w, f)
		}
	}
	return nil
}

func writeFlag(w io.Writer, f *vm.Flag) {
	value, err := f.Value()
	if err != nil {
		value = "<" + f.Type() + ">"
	}
	fmt.Fprintf(w, "  %s = %s (%v)\n", f.Name(), value, f.Origin())
}

func parseError(msg string, args ...any) exitCode {
	log.Errorf(msg, args...)
	return exitParseError
}

func failure(msg string, args ...any) exitCode {
	log.Errorf(msg, args...)
	return exitFailure
}
