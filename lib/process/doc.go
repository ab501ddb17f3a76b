// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds binary entrypoint helpers: the raw stderr
// writes and exits that happen outside the structured logger, before
// it exists or after a command has returned.
package process
