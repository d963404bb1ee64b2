// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "go.opentelemetry.io/hotspot-sa/process"

import (
	"bufio"
	"debug/elf"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/hotspot-sa/libpf"
)

// LibjvmRegex matches the HotSpot shared object.
var LibjvmRegex = regexp.MustCompile(`.*/libjvm\.so$`)

// trimMappingPath removes the " (deleted)" suffix the kernel appends to
// mappings of unlinked files.
func trimMappingPath(path string) string {
	return strings.TrimSuffix(path, " (deleted)")
}

// parseMappings parses the content of /proc/<pid>/maps. Only readable or
// executable file backed mappings are returned. Malformed lines are counted
// and skipped.
func parseMappings(mapsFile io.Reader) ([]Mapping, uint32, error) {
	numParseErrors := uint32(0)
	mappings := make([]Mapping, 0, 32)
	scanner := bufio.NewScanner(mapsFile)
	scanner.Buffer(make([]byte, 0, 8192), 64*1024)

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 {
			numParseErrors++
			continue
		}
		addrs := strings.SplitN(fields[0], "-", 2)
		if len(addrs) < 2 {
			numParseErrors++
			continue
		}

		mapsFlags := fields[1]
		if len(mapsFlags) < 3 {
			numParseErrors++
			continue
		}
		flags := elf.ProgFlag(0)
		if mapsFlags[0] == 'r' {
			flags |= elf.PF_R
		}
		if mapsFlags[1] == 'w' {
			flags |= elf.PF_W
		}
		if mapsFlags[2] == 'x' {
			flags |= elf.PF_X
		}
		// Ignore non-readable and non-executable mappings
		if flags&(elf.PF_R|elf.PF_X) == 0 {
			continue
		}

		inode, err := strconv.ParseUint(fields[4], 10, 64)
		if err != nil {
			log.Debugf("inode: failed to convert %s to uint64: %v", fields[4], err)
			numParseErrors++
			continue
		}
		// Anonymous and pseudo-file mappings carry nothing we can resolve symbols from
		if inode == 0 || len(fields) < 6 {
			continue
		}

		devs := strings.SplitN(fields[3], ":", 2)
		if len(devs) < 2 {
			numParseErrors++
			continue
		}
		major, err := strconv.ParseUint(devs[0], 16, 64)
		if err != nil {
			log.Debugf("major device: failed to convert %s to uint64: %v", devs[0], err)
			numParseErrors++
			continue
		}
		minor, err := strconv.ParseUint(devs[1], 16, 64)
		if err != nil {
			log.Debugf("minor device: failed to convert %s to uint64: %v", devs[1], err)
			numParseErrors++
			continue
		}

		vaddr, err := strconv.ParseUint(addrs[0], 16, 64)
		if err != nil {
			numParseErrors++
			continue
		}
		vend, err := strconv.ParseUint(addrs[1], 16, 64)
		if err != nil || vend < vaddr {
			numParseErrors++
			continue
		}
		fileOffset, err := strconv.ParseUint(fields[2], 16, 64)
		if err != nil {
			numParseErrors++
			continue
		}

		mappings = append(mappings, Mapping{
			Vaddr:      vaddr,
			Length:     vend - vaddr,
			Flags:      flags,
			FileOffset: fileOffset,
			Device:     major<<8 + minor,
			Inode:      inode,
			// The path may contain spaces
			Path: trimMappingPath(strings.Join(fields[5:], " ")),
		})
	}
	return mappings, numParseErrors, scanner.Err()
}

// GetMappings reads and parses /proc/<pid>/maps.
func GetMappings(pid libpf.PID) ([]Mapping, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	mappings, numParseErrors, err := parseMappings(f)
	if numParseErrors > 0 {
		log.Debugf("PID %d: %d malformed lines in maps", pid, numParseErrors)
	}
	return mappings, err
}

// Library describes one shared object mapped into the target.
type Library struct {
	// Path is the mapped file name as seen by the target
	Path string
	// Base is the mapping of the lowest file offset of the object
	Base Mapping
}

// FindLibrary returns the first shared object whose path matches re.
func FindLibrary(mappings []Mapping, re *regexp.Regexp) (Library, error) {
	for i := range mappings {
		m := &mappings[i]
		if !re.MatchString(m.Path) {
			continue
		}
		// The first mapping of a file may not start at offset zero if the
		// leading segment was not mapped; find the lowest offset mapping.
		lowest := m
		for j := i + 1; j < len(mappings); j++ {
			o := &mappings[j]
			if o.Path == m.Path && o.Inode == m.Inode && o.FileOffset < lowest.FileOffset {
				lowest = o
			}
		}
		return Library{Path: m.Path, Base: *lowest}, nil
	}
	return Library{}, fmt.Errorf("no mapping matching %v", re)
}

// RootPath returns the path under which the target's view of the file system
// is reachable from this process.
func RootPath(pid libpf.PID, path string) string {
	return fmt.Sprintf("/proc/%d/root%s", pid, path)
}
