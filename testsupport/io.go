// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package testsupport holds helpers shared by tests of packages reading target memory.
package testsupport // import "go.opentelemetry.io/hotspot-sa/testsupport"

import (
	"bytes"
	"io"
	"math/rand/v2"
	"testing"
)

// ValidateReadAtTransparency validates that a `ReadAt` implementation mapping
// reference at address base provides a transparent view into it.
func ValidateReadAtTransparency(
	t *testing.T, iterations uint, base uint64, reference []byte, testee io.ReaderAt) {
	t.Helper()
	size := uint64(len(reference))

	// Samples random slices to validate within the mapping.
	r := rand.New(rand.NewPCG(0, 0)) //nolint:gosec
	for range iterations {
		// Intentionally allow slices that over-read the mapping to test this case.
		length := r.Uint64() % size
		start := r.Uint64() % size

		readBuf := make([]byte, length)
		n, err := testee.ReadAt(readBuf, int64(base+start))

		truncReadLen := min(size-start, length)
		if truncReadLen != length {
			if err != io.EOF {
				t.Fatalf("expected an EOF error at +%#x/%d, got %v", start, length, err)
			}
			if uint64(n) != truncReadLen {
				t.Fatalf("expected truncation to %d, but got %d", truncReadLen, n)
			}
		} else {
			if uint64(n) != length {
				t.Fatalf("read length mismatch (%v vs %v)", n, length)
			}
			if err != nil {
				t.Fatalf("failed to read: %v", err)
			}
		}

		if got, want := readBuf[:truncReadLen], reference[start:][:truncReadLen]; !bytes.Equal(got, want) {
			t.Fatalf("data mismatch at +%#x: got %v, expected %v", start, got, want)
		}
	}
}

// GenerateTestInput generates a test buffer, repeating a number sequence over and over.
func GenerateTestInput(seqLen uint8, outputSize uint) []byte {
	out := make([]byte, 0, outputSize)
	for i := range outputSize {
		out = append(out, byte(i%uint(seqLen)))
	}
	return out
}
