// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package vm // import "go.opentelemetry.io/hotspot-sa/vm"

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/hotspot-sa/libpf"
	"go.opentelemetry.io/hotspot-sa/remotememory"
	"go.opentelemetry.io/hotspot-sa/vmstructs"
)

// maxFlags bounds the flag table size read from the target.
const maxFlags = 1 << 14

// Origin tells where the value of a flag came from.
type Origin uint32

const (
	OriginDefault Origin = iota
	OriginCommandLine
	OriginEnvironment
	OriginConfigFile
	OriginManagement
	OriginErgonomic
	OriginAttachOnDemand
	OriginInternal
)

var originNames = [...]string{
	OriginDefault:        "default",
	OriginCommandLine:    "command line",
	OriginEnvironment:    "environment",
	OriginConfigFile:     "config file",
	OriginManagement:     "management",
	OriginErgonomic:      "ergonomic",
	OriginAttachOnDemand: "attach on demand",
	OriginInternal:       "internal",
}

func (o Origin) String() string {
	if int(o) < len(originNames) {
		return originNames[o]
	}
	return "origin " + strconv.Itoa(int(o))
}

// Flag is one command line flag of the target. The value is read from the
// target on every call.
type Flag struct {
	typ   string
	name  string
	addr  libpf.Address
	flags uint32
	s     *Session
}

// Type returns the C type of the flag, e.g. "bool" or "ccstr".
func (f *Flag) Type() string { return f.typ }

func (f *Flag) Name() string { return f.name }

// Address returns the location of the flag value in the target.
func (f *Flag) Address() libpf.Address { return f.addr }

func (f *Flag) Origin() Origin { return Origin(f.flags & 0xF) }

func (f *Flag) IsBool() bool  { return f.typ == "bool" }
func (f *Flag) IsIntx() bool  { return f.typ == "intx" }
func (f *Flag) IsUIntx() bool { return f.typ == "uintx" }

// Bool reads a bool flag.
func (f *Flag) Bool() (bool, error) {
	if !f.IsBool() {
		panic(fmt.Sprintf("bug: flag %s of type %s read as bool", f.name, f.typ))
	}
	t := f.s.boolType
	v, err := f.s.Memory().CInteger(f.addr, int(t.Size), t.IsUnsigned)
	if err != nil {
		return false, fmt.Errorf("flag %s: %w", f.name, err)
	}
	return v != 0, nil
}

// Intx reads an intx flag.
func (f *Flag) Intx() (int64, error) {
	if !f.IsIntx() {
		panic(fmt.Sprintf("bug: flag %s of type %s read as intx", f.name, f.typ))
	}
	v, err := f.s.Memory().CInteger(f.addr, int(f.s.intxType.Size), false)
	if err != nil {
		return 0, fmt.Errorf("flag %s: %w", f.name, err)
	}
	return int64(v), nil
}

// UIntx reads an uintx flag.
func (f *Flag) UIntx() (uint64, error) {
	if !f.IsUIntx() {
		panic(fmt.Sprintf("bug: flag %s of type %s read as uintx", f.name, f.typ))
	}
	v, err := f.s.Memory().CInteger(f.addr, int(f.s.uintxType.Size), true)
	if err != nil {
		return 0, fmt.Errorf("flag %s: %w", f.name, err)
	}
	return v, nil
}

// Value formats the flag value. Only bool, intx and uintx flags can be
// formatted, others return ErrUnsupportedFlagType.
func (f *Flag) Value() (string, error) {
	switch {
	case f.IsBool():
		v, err := f.Bool()
		return strconv.FormatBool(v), err
	case f.IsIntx():
		v, err := f.Intx()
		return strconv.FormatInt(v, 10), err
	case f.IsUIntx():
		v, err := f.UIntx()
		return strconv.FormatUint(v, 10), err
	}
	return "", fmt.Errorf("flag %s of type %s: %w", f.name, f.typ, ErrUnsupportedFlagType)
}

func (f *Flag) String() string {
	return f.name
}

// readCommandLineFlags walks the target's Flag::flags array. The last entry
// of the array is an all-NULL sentinel and is skipped.
func (s *Session) readCommandLineFlags() ([]*Flag, error) {
	flagType, err := s.db.LookupType("Flag")
	if err != nil {
		return nil, err
	}
	numFlags, err := flagType.Field("numFlags")
	if err != nil {
		return nil, err
	}
	flagsField, err := flagType.Field("flags")
	if err != nil {
		return nil, err
	}
	n, err := numFlags.CIntegerAt(0)
	if err != nil {
		return nil, err
	}
	if n == 0 || n > maxFlags {
		return nil, fmt.Errorf("invalid flag count %d", n)
	}
	base, err := flagsField.Value()
	if err != nil {
		return nil, err
	}

	typeField, err := flagType.Field("_type")
	if err != nil {
		return nil, err
	}
	nameField, err := flagType.Field("_name")
	if err != nil {
		return nil, err
	}
	addrField, err := flagType.Field("_addr")
	if err != nil {
		return nil, err
	}
	flagsBits, err := flagType.Field("_flags")
	if err != nil {
		return nil, err
	}

	rm := s.Memory()
	flags := make([]*Flag, 0, n-1)
	for i := uint64(0); i < n-1; i++ {
		rec := base.AddOffset(i * flagType.Size)
		typ, err := readCString(rm, typeField, rec)
		if err != nil {
			return nil, fmt.Errorf("flag %d type: %w", i, err)
		}
		name, err := readCString(rm, nameField, rec)
		if err != nil {
			return nil, fmt.Errorf("flag %d name: %w", i, err)
		}
		addr, err := addrField.AddressAt(rec)
		if err != nil {
			return nil, err
		}
		bits, err := flagsBits.CIntegerAt(rec)
		if err != nil {
			return nil, err
		}
		flags = append(flags, &Flag{
			typ:   typ,
			name:  name,
			addr:  addr,
			flags: uint32(bits),
			s:     s,
		})
	}
	slices.SortStableFunc(flags, func(a, b *Flag) int {
		return strings.Compare(a.name, b.name)
	})
	log.Debugf("Read %d command line flags", len(flags))
	return flags, nil
}

// readCString reads the string a char* field of the object at base points to.
func readCString(rm remotememory.RemoteMemory, f *vmstructs.Field,
	base libpf.Address) (string, error) {
	ptr, err := f.AddressAt(base)
	if err != nil {
		return "", err
	}
	return rm.CString(ptr)
}

// CommandLineFlags returns the flags of the target sorted by name. The table
// is read once.
func (s *Session) CommandLineFlags() ([]*Flag, error) {
	return s.flags.get(s.readCommandLineFlags)
}

// CommandLineFlag looks up a flag by name. The result is nil if the target
// has no such flag.
func (s *Session) CommandLineFlag(name string) (*Flag, error) {
	index, err := s.flagIndex.get(func() (map[string]*Flag, error) {
		flags, err := s.CommandLineFlags()
		if err != nil {
			return nil, err
		}
		index := make(map[string]*Flag, len(flags))
		// The last record wins for duplicated names.
		for _, f := range flags {
			index[f.name] = f
		}
		return index, nil
	})
	if err != nil {
		return nil, err
	}
	return index[name], nil
}

// boolFlag reads a bool flag, falling back to def when the target does not
// have it.
func (s *Session) boolFlag(name string, def bool) (bool, error) {
	f, err := s.CommandLineFlag(name)
	if err != nil || f == nil {
		return def, err
	}
	if !f.IsBool() {
		return false, fmt.Errorf("flag %s of type %s: %w", name, f.typ, ErrUnsupportedFlagType)
	}
	return f.Bool()
}

// intxFlag reads an intx flag, falling back to def when the target does not
// have it.
func (s *Session) intxFlag(name string, def int64) (int64, error) {
	f, err := s.CommandLineFlag(name)
	if err != nil || f == nil {
		return def, err
	}
	if !f.IsIntx() {
		return 0, fmt.Errorf("flag %s of type %s: %w", name, f.typ, ErrUnsupportedFlagType)
	}
	return f.Intx()
}

func (s *Session) objectAlignmentInBytes() (int, error) {
	return s.objectAlignment.get(func() (int, error) {
		v, err := s.intxFlag("ObjectAlignmentInBytes", 8)
		return int(v), err
	})
}

// ObjectAlignmentInBytes returns the ObjectAlignmentInBytes flag.
func (s *Session) ObjectAlignmentInBytes() int {
	return s.objectAlignment.must("ObjectAlignmentInBytes")
}

func (s *Session) compressedOops() (bool, error) {
	return s.compressedOopsEnabled.get(func() (bool, error) {
		return s.boolFlag("UseCompressedOops", false)
	})
}

func (s *Session) compressedKlassPointers() (bool, error) {
	return s.compressedKlassEnabled.get(func() (bool, error) {
		return s.boolFlag("UseCompressedClassPointers", false)
	})
}

// IsCompressedOopsEnabled reports the UseCompressedOops flag.
func (s *Session) IsCompressedOopsEnabled() bool {
	return s.compressedOopsEnabled.must("UseCompressedOops")
}

// IsCompressedKlassPointersEnabled reports the UseCompressedClassPointers flag.
func (s *Session) IsCompressedKlassPointersEnabled() bool {
	return s.compressedKlassEnabled.must("UseCompressedClassPointers")
}

// IsSharingEnabled reports the UseSharedSpaces flag.
func (s *Session) IsSharingEnabled() (bool, error) {
	return s.sharingEnabled.get(func() (bool, error) {
		return s.boolFlag("UseSharedSpaces", false)
	})
}

// UseTLAB reports the UseTLAB flag, false if the target does not have it. It
// is read from the target on every call.
func (s *Session) UseTLAB() (bool, error) {
	return s.boolFlag("UseTLAB", false)
}
