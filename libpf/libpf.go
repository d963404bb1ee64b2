// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package libpf holds the primitive types shared by all packages that look
// into a target process.
package libpf // import "go.opentelemetry.io/hotspot-sa/libpf"
