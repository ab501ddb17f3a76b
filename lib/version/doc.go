// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build version information for winsync.
//
// [Version], [GitCommit], [GitDirty], and [BuildTime] are injected at
// build time with -ldflags -X. When they are not injected, [Info] falls
// back to the VCS settings the Go toolchain embeds in the binary.
package version
