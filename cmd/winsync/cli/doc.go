// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework behind the winsync binary:
// a tree of [Command] values with pflag-based flag parsing, generated
// help, and typo suggestions for unknown commands and flags.
//
// [NewLogger] builds the structured logger every command uses, and
// [ExitError] lets a command choose its exit code without an extra
// error line.
package cli
