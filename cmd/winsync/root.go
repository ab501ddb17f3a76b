// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/winsync/cmd/winsync/cli"
	"github.com/bureau-foundation/winsync/lib/config"
	"github.com/bureau-foundation/winsync/lib/version"
)

func root() *cli.Command {
	return &cli.Command{
		Name:    "winsync",
		Summary: "Window state synchronization engine",
		Description: `Winsync mirrors the applications, windows, and screens of a desktop
environment and keeps the mirror current as the environment changes.`,
		Subcommands: []*cli.Command{
			runCommand(),
			simulateCommand(),
			traceCommand(),
			versionCommand(),
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print build information",
		Run: func(args []string) error {
			fmt.Printf("winsync %s\n", version.Full())
			return nil
		},
	}
}

// commonFlags are shared by commands that load configuration.
type commonFlags struct {
	configPath string
	verbose    bool
}

func (f *commonFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&f.configPath, "config", "c", "", "config file (default: $WINSYNC_CONFIG)")
	flagSet.BoolVarP(&f.verbose, "verbose", "v", false, "log at debug level")
}

// load reads and validates the configuration and builds the command's
// logger from it.
func (f *commonFlags) load(command string) (*config.Config, *slog.Logger, error) {
	var (
		cfg *config.Config
		err error
	)
	if f.configPath != "" {
		cfg, err = config.LoadFile(f.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level := cfg.Log.SlogLevel()
	if f.verbose {
		level = slog.LevelDebug
	}
	logger := cli.NewLogger(os.Stderr, level, cfg.Log.Format).With("command", command)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
