// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"debug/elf"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//nolint:lll
var testMappings = `55fe82710000-55fe8273c000 r--p 00000000 fd:01 1068432                    /usr/bin/java
55fe8273c000-55fe827be000 r-xp 0002c000 fd:01 1068432                    /usr/bin/java
7f63c8000000-7f63c8021000 rw-p 00000000 00:00 0
7f63c9000000-7f63c9400000 r--p 00000000 08:01 1048922                    /usr/lib/jvm/java-8/jre/lib/amd64/server/libjvm.so
7f63c9400000-7f63c9e00000 r-xp 00400000 08:01 1048922                    /usr/lib/jvm/java-8/jre/lib/amd64/server/libjvm.so
7f63c9e00000-7f63c9e80000 rw-p 00e00000 08:01 1048922                    /usr/lib/jvm/java-8/jre/lib/amd64/server/libjvm.so (deleted)
7f63c8eef000-7f63c8fdf000 r-xp 0001c000 1fd:01
7f63c8eef000-7f63c8fdf000 r-xp 0001c000 1fd.01 1075944 /x
7f63c8eef000-7f63c8fdf000 r- 0001c000 1fd:01 1075944 /x
7f63c8eef000 r-xp 0001c000 1fd:01 1075944 /x
7fff5f7fe000-7fff5f800000 r-xp 00000000 00:00 0                          [vdso]
7f8b929f0000-7f8b92a00000 ---p 00000000 fd:01 12 /tmp/guard`

func TestParseMappings(t *testing.T) {
	mappings, numParseErrors, err := parseMappings(strings.NewReader(testMappings))
	require.NoError(t, err)
	assert.Equal(t, uint32(4), numParseErrors)
	require.Len(t, mappings, 5)

	assert.Equal(t, Mapping{
		Vaddr:      0x55fe8273c000,
		Length:     0x82000,
		Flags:      elf.PF_R + elf.PF_X,
		FileOffset: 0x2c000,
		Device:     0xfd01,
		Inode:      1068432,
		Path:       "/usr/bin/java",
	}, mappings[1])
	assert.True(t, mappings[1].IsExecutable())
	assert.False(t, mappings[0].IsExecutable())
	assert.Equal(t, uint64(0x55fe827be000), mappings[1].End())

	// The kernel's deleted marker is stripped
	assert.Equal(t, "/usr/lib/jvm/java-8/jre/lib/amd64/server/libjvm.so", mappings[4].Path)
}

func TestFindLibrary(t *testing.T) {
	mappings, _, err := parseMappings(strings.NewReader(testMappings))
	require.NoError(t, err)

	lib, err := FindLibrary(mappings, LibjvmRegex)
	require.NoError(t, err)
	assert.Equal(t, "/usr/lib/jvm/java-8/jre/lib/amd64/server/libjvm.so", lib.Path)
	assert.Equal(t, uint64(0x7f63c9000000), lib.Base.Vaddr)
	assert.Equal(t, uint64(0), lib.Base.FileOffset)

	_, err = FindLibrary(mappings, regexp.MustCompile(`libpython`))
	assert.Error(t, err)
}

func TestRootPath(t *testing.T) {
	assert.Equal(t, "/proc/42/root/usr/lib/libjvm.so", RootPath(42, "/usr/lib/libjvm.so"))
}
