// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"io"
	"os"
)

// Exit terminates the process for the result of a command. A nil err
// exits 0. An error with an ExitCode method exits with that code
// silently, since the command has already reported it. Any other error
// is written to stderr as "error: err" and exits 1.
func Exit(err error) {
	os.Exit(exitCode(err, os.Stderr))
}

func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return 0
	}
	if coder, ok := err.(interface{ ExitCode() int }); ok {
		return coder.ExitCode()
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	return 1
}
