// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/winsync/cmd/winsync/cli"
	"github.com/bureau-foundation/winsync/lib/trace"
)

func traceCommand() *cli.Command {
	var header bool
	return &cli.Command{
		Name:    "trace",
		Summary: "Inspect recorded traces",
		Subcommands: []*cli.Command{
			{
				Name:    "dump",
				Summary: "Print a trace file as JSON lines",
				Description: `Print every record of a trace as one JSON object per line. Each block
is verified against its digest before its records are printed; a
corrupt block stops the dump with an error.`,
				Usage: "winsync trace dump [flags] <file>",
				Flags: func() *pflag.FlagSet {
					flagSet := pflag.NewFlagSet("dump", pflag.ContinueOnError)
					flagSet.BoolVar(&header, "header", false, "print the trace header as the first line")
					return flagSet
				},
				Run: func(args []string) error {
					if len(args) != 1 {
						return fmt.Errorf("expected exactly one trace file")
					}
					return dumpTrace(args[0], header, os.Stdout)
				},
			},
			{
				Name:    "verify",
				Summary: "Check every block digest of a trace file",
				Description: `Read a trace file end to end, verifying each block against its digest.
Prints a one-line summary and exits 1 when any block is corrupt.`,
				Usage: "winsync trace verify <file>",
				Run: func(args []string) error {
					if len(args) != 1 {
						return fmt.Errorf("expected exactly one trace file")
					}
					return verifyTrace(args[0], os.Stdout)
				},
			},
		},
	}
}

// verifyTrace reports the record count of a sound trace, or the first
// corruption found.
func verifyTrace(path string, w io.Writer) error {
	reader, err := trace.Open(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	header := reader.Header()
	records, err := reader.All()
	if errors.Is(err, trace.ErrCorrupt) {
		fmt.Fprintf(w, "%s: recording %s: corrupt after %d records: %v\n", path, header.Recording, len(records), err)
		return &cli.ExitError{Code: 1}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	fmt.Fprintf(w, "%s: recording %s: %d records, ok\n", path, header.Recording, len(records))
	return nil
}

func dumpTrace(path string, header bool, w io.Writer) error {
	reader, err := trace.Open(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	encoder := json.NewEncoder(w)
	if header {
		if err := encoder.Encode(reader.Header()); err != nil {
			return err
		}
	}
	for {
		record, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := encoder.Encode(record); err != nil {
			return err
		}
	}
}
