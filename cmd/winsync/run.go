// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/winsync/bridge"
	"github.com/bureau-foundation/winsync/cmd/winsync/cli"
	"github.com/bureau-foundation/winsync/lib/config"
	"github.com/bureau-foundation/winsync/lib/remote"
	"github.com/bureau-foundation/winsync/lib/trace"
	"github.com/bureau-foundation/winsync/state"
)

func runCommand() *cli.Command {
	var (
		common      commonFlags
		socketPath  string
		tracePath   string
		compression string
	)
	return &cli.Command{
		Name:    "run",
		Summary: "Mirror state from a bridge socket and log every event",
		Description: `Connect to the platform helper's bridge socket, discover the running
applications, windows, and screens, and log every event until
interrupted. With --trace, every notice and event is also recorded.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
			common.register(flagSet)
			flagSet.StringVar(&socketPath, "socket", "", "bridge socket (default: bridge.socket_path)")
			flagSet.StringVar(&tracePath, "trace", "", "record a trace to this file (default: trace.path)")
			flagSet.StringVar(&compression, "compression", "", "trace block compression: none, lz4, zstd (default: trace.compression)")
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "Mirror state and record a trace", Command: "winsync run --trace /tmp/session.trace"},
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			cfg, logger, err := common.load("run")
			if err != nil {
				return err
			}
			if socketPath != "" {
				cfg.Bridge.SocketPath = socketPath
			}
			if tracePath != "" {
				cfg.Trace.Path = tracePath
			}
			if compression != "" {
				cfg.Trace.Compression = compression
			}
			ctx, cancel := signalContext()
			defer cancel()
			return mirror(ctx, cfg, logger)
		},
	}
}

// mirror runs the engine against the configured bridge until ctx is
// done.
func mirror(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	options, err := cfg.Engine.Options()
	if err != nil {
		return err
	}
	options.Logger = logger

	recorder := &eventLogger{logger: logger}
	if cfg.Trace.Path != "" {
		compression, err := trace.ParseCompression(cfg.Trace.Compression)
		if err != nil {
			return err
		}
		writer, err := trace.Create(cfg.Trace.Path, trace.Options{
			Compression:  compression,
			BlockRecords: cfg.Trace.BlockRecords,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error("closing trace", "path", cfg.Trace.Path, "error", err)
			}
		}()
		recorder.trace = writer
		logger.Info("recording trace",
			"path", cfg.Trace.Path,
			"recording", writer.Header().Recording,
			"compression", compression,
		)
	}
	options.Recorder = recorder

	client, err := bridge.Dial(ctx, cfg.Bridge.SocketPath, cfg.Bridge.DialTimeoutDuration(), logger)
	if err != nil {
		return err
	}
	defer client.Close()

	engine, err := state.New(ctx, client, options)
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	defer engine.Close()

	logger.Info("state discovered",
		"applications", len(engine.RunningApplications()),
		"windows", len(engine.KnownWindows()),
		"screens", len(engine.Screens()),
	)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// eventLogger logs every dispatched event and forwards notices and
// events to an optional trace.
type eventLogger struct {
	logger *slog.Logger
	trace  *trace.Writer
}

func (r *eventLogger) RecordNotice(at time.Time, notice remote.Notice) error {
	r.logger.Debug("notice", "kind", notice.Kind, "pid", notice.PID, "handle", notice.Handle)
	if r.trace == nil {
		return nil
	}
	return r.trace.RecordNotice(at, notice)
}

func (r *eventLogger) RecordEvent(at time.Time, kind string, external bool, detail map[string]any) error {
	attributes := make([]any, 0, 2+2*len(detail))
	attributes = append(attributes, "external", external)
	for key, value := range detail {
		attributes = append(attributes, key, value)
	}
	r.logger.Info(kind, attributes...)
	if r.trace == nil {
		return nil
	}
	if err := r.trace.RecordEvent(at, kind, external, detail); err != nil {
		return fmt.Errorf("recording %s: %w", kind, err)
	}
	return nil
}
