// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/winsync/bridge"
	"github.com/bureau-foundation/winsync/cmd/winsync/cli"
	"github.com/bureau-foundation/winsync/lib/clock"
	"github.com/bureau-foundation/winsync/lib/simenv"
)

func simulateCommand() *cli.Command {
	var (
		common     commonFlags
		socketPath string
		watch      bool
	)
	return &cli.Command{
		Name:    "simulate",
		Summary: "Serve a scenario-backed simulated environment on a bridge socket",
		Description: `Build a simulated environment from a JSONC scenario file and serve it
on a bridge socket, so consumers can be developed without a platform
helper. With --watch (the default), edits to the scenario file are
applied as external changes: windows appear, move, and close, and
applications launch and terminate.`,
		Usage: "winsync simulate [flags] <scenario.jsonc>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("simulate", pflag.ContinueOnError)
			common.register(flagSet)
			flagSet.StringVar(&socketPath, "socket", "", "socket to serve on (default: bridge.socket_path)")
			flagSet.BoolVar(&watch, "watch", true, "apply scenario file edits as external changes")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Serve a scenario and mirror it from another terminal",
				Command:     "winsync simulate --socket /tmp/winsync.sock desk.jsonc",
			},
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one scenario file")
			}
			cfg, logger, err := common.load("simulate")
			if err != nil {
				return err
			}
			if socketPath != "" {
				cfg.Bridge.SocketPath = socketPath
			}
			ctx, cancel := signalContext()
			defer cancel()
			return simulate(ctx, args[0], cfg.Bridge.SocketPath, watch, logger)
		},
	}
}

func simulate(ctx context.Context, scenarioPath, socketPath string, watch bool, logger *slog.Logger) error {
	scenario, err := simenv.LoadScenario(scenarioPath)
	if err != nil {
		return err
	}

	environment := simenv.New(logger, clock.Real())
	defer environment.Close()
	player := simenv.NewPlayer(environment)
	if err := player.Apply(scenario); err != nil {
		return fmt.Errorf("applying scenario: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	server := &bridge.Server{
		SocketPath:  socketPath,
		Environment: environment,
		Logger:      logger,
	}
	if err := server.Start(ctx); err != nil {
		return err
	}
	logger.Info("serving simulated environment",
		"socket", socketPath,
		"scenario", scenarioPath,
		"applications", len(scenario.Applications),
		"screens", len(scenario.Screens),
	)

	watchDone := make(chan error, 1)
	if watch {
		go func() {
			watchDone <- simenv.Watch(ctx, scenarioPath, player, logger)
		}()
	}

	select {
	case <-ctx.Done():
	case err = <-watchDone:
		if err != nil {
			err = fmt.Errorf("watching scenario: %w", err)
		}
	}
	server.Stop()
	server.Wait()
	logger.Info("stopped")
	return err
}
