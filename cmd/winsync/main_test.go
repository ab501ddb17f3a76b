// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/winsync/cmd/winsync/cli"
	"github.com/bureau-foundation/winsync/lib/config"
	"github.com/bureau-foundation/winsync/lib/remote"
	"github.com/bureau-foundation/winsync/lib/testutil"
	"github.com/bureau-foundation/winsync/lib/trace"
)

// syncBuffer is a bytes.Buffer safe for a logger writing from several
// goroutines while the test reads.
type syncBuffer struct {
	mu     sync.Mutex
	buffer bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.String()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, description string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", description)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDumpTrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.trace")
	writer, err := trace.Create(path, trace.Options{Compression: trace.CompressionLZ4, Recording: "dump-test"})
	if err != nil {
		t.Fatal(err)
	}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := writer.RecordNotice(at, remote.Notice{PID: 7, Handle: 3, Kind: remote.NotifyWindowCreated}); err != nil {
		t.Fatal(err)
	}
	if err := writer.RecordEvent(at, "window_created", true, map[string]any{"pid": 7, "window": 3}); err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}

	var output bytes.Buffer
	if err := dumpTrace(path, true, &output); err != nil {
		t.Fatalf("dumpTrace: %v", err)
	}

	var lines []map[string]any
	scanner := bufio.NewScanner(&output)
	for scanner.Scan() {
		var line map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			t.Fatalf("line %q: %v", scanner.Text(), err)
		}
		lines = append(lines, line)
	}
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header and two records:\n%s", len(lines), output.String())
	}
	if lines[0]["recording"] != "dump-test" || lines[0]["compression"] != "lz4" {
		t.Errorf("header line = %v", lines[0])
	}
	if lines[1]["type"] != "notice" {
		t.Errorf("first record = %v", lines[1])
	}
	notice, _ := lines[1]["notice"].(map[string]any)
	if notice["kind"] != string(remote.NotifyWindowCreated) {
		t.Errorf("notice = %v", lines[1]["notice"])
	}
	if lines[2]["type"] != "event" || lines[2]["kind"] != "window_created" || lines[2]["external"] != true {
		t.Errorf("second record = %v", lines[2])
	}
}

func TestDumpTraceMissingFile(t *testing.T) {
	if err := dumpTrace(filepath.Join(t.TempDir(), "absent.trace"), false, io.Discard); err == nil {
		t.Fatal("dumpTrace of a missing file succeeded")
	}
}

func TestEventLoggerWithoutTrace(t *testing.T) {
	var output syncBuffer
	recorder := &eventLogger{logger: slog.New(slog.NewJSONHandler(&output, &slog.HandlerOptions{Level: slog.LevelDebug}))}
	if err := recorder.RecordNotice(time.Now(), remote.Notice{Kind: remote.NotifySpaceChanged}); err != nil {
		t.Fatal(err)
	}
	if err := recorder.RecordEvent(time.Now(), "space_did_change", true, map[string]any{"spaces": []int{1, 2}}); err != nil {
		t.Fatal(err)
	}
	logged := output.String()
	if !strings.Contains(logged, `"kind":"space_changed"`) {
		t.Errorf("notice not logged: %s", logged)
	}
	if !strings.Contains(logged, `"msg":"space_did_change"`) || !strings.Contains(logged, `"spaces":[1,2]`) {
		t.Errorf("event not logged with detail: %s", logged)
	}
}

const scenarioOneWindow = `{
  // simulated desk
  "screens": [{"id": 1, "frame": {"origin": {"x": 0, "y": 0}, "size": {"width": 1920, "height": 1080}}, "space_id": 1}],
  "applications": [{
    "pid": 100,
    "bundle_id": "org.example.editor",
    "windows": [{"id": "a", "title": "first", "frame": {"origin": {"x": 0, "y": 0}, "size": {"width": 400, "height": 300}}}],
  }],
}`

const scenarioTwoWindows = `{
  "screens": [{"id": 1, "frame": {"origin": {"x": 0, "y": 0}, "size": {"width": 1920, "height": 1080}}, "space_id": 1}],
  "applications": [{
    "pid": 100,
    "bundle_id": "org.example.editor",
    "windows": [
      {"id": "a", "title": "first", "frame": {"origin": {"x": 0, "y": 0}, "size": {"width": 400, "height": 300}}},
      {"id": "b", "title": "second", "frame": {"origin": {"x": 500, "y": 0}, "size": {"width": 400, "height": 300}}},
    ],
  }],
}`

func TestSimulateAndMirror(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "bridge.sock")
	directory := t.TempDir()
	scenarioPath := filepath.Join(directory, "desk.jsonc")
	tracePath := filepath.Join(directory, "session.trace")
	if err := os.WriteFile(scenarioPath, []byte(scenarioOneWindow), 0o644); err != nil {
		t.Fatal(err)
	}

	simulateContext, stopSimulate := context.WithCancel(context.Background())
	simulateDone := make(chan error, 1)
	go func() {
		simulateDone <- simulate(simulateContext, scenarioPath, socketPath, true, discardLogger())
	}()
	t.Cleanup(func() {
		stopSimulate()
		<-simulateDone
	})
	waitFor(t, "bridge socket", func() bool {
		_, err := os.Stat(socketPath)
		return err == nil
	})

	cfg := config.Default()
	cfg.Bridge.SocketPath = socketPath
	cfg.Trace.Path = tracePath
	cfg.Trace.Compression = "zstd"

	var logged syncBuffer
	logger := slog.New(slog.NewTextHandler(&logged, nil))
	mirrorContext, stopMirror := context.WithCancel(context.Background())
	defer stopMirror()
	mirrorDone := make(chan error, 1)
	go func() {
		mirrorDone <- mirror(mirrorContext, cfg, logger)
	}()
	waitFor(t, "discovery", func() bool {
		return strings.Contains(logged.String(), "state discovered")
	})
	if !strings.Contains(logged.String(), "windows=1") {
		t.Errorf("discovery log: %s", logged.String())
	}

	// The scenario watch may not be registered yet; rewriting the same
	// contents again is a no-op once it has been applied.
	waitFor(t, "window creation event", func() bool {
		temporary := scenarioPath + ".tmp"
		if err := os.WriteFile(temporary, []byte(scenarioTwoWindows), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Rename(temporary, scenarioPath); err != nil {
			t.Fatal(err)
		}
		deadline := time.Now().Add(300 * time.Millisecond)
		for time.Now().Before(deadline) {
			if strings.Contains(logged.String(), "msg=window_created") {
				return true
			}
			time.Sleep(10 * time.Millisecond)
		}
		return false
	})

	stopMirror()
	select {
	case err := <-mirrorDone:
		if err != nil {
			t.Fatalf("mirror: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("mirror did not return after cancellation")
	}

	reader, err := trace.Open(tracePath)
	if err != nil {
		t.Fatalf("opening trace: %v", err)
	}
	defer reader.Close()
	records, err := reader.All()
	if err != nil {
		t.Fatalf("reading trace: %v", err)
	}
	var sawNotice, sawEvent bool
	for _, record := range records {
		if record.Type == trace.RecordNotice && record.Notice.Kind == remote.NotifyWindowCreated {
			sawNotice = true
		}
		if record.Type == trace.RecordEvent && record.Kind == "window_created" {
			sawEvent = true
		}
	}
	if !sawNotice || !sawEvent {
		t.Errorf("trace notice=%v event=%v, records: %+v", sawNotice, sawEvent, records)
	}
}

func TestRootHelp(t *testing.T) {
	command := root()
	var output bytes.Buffer
	command.Output = &output
	if err := command.Execute([]string{"--help"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, name := range []string{"run", "simulate", "trace", "version"} {
		if !strings.Contains(output.String(), name) {
			t.Errorf("help missing %q:\n%s", name, output.String())
		}
	}
}

func TestVerifyTrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.trace")
	writer, err := trace.Create(path, trace.Options{Compression: trace.CompressionNone, BlockRecords: 1, Recording: "verify-test"})
	if err != nil {
		t.Fatal(err)
	}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, title := range []string{"first-title", "second-title"} {
		if err := writer.RecordEvent(at, "window_title_changed", true, map[string]any{"new": title}); err != nil {
			t.Fatal(err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}

	var output bytes.Buffer
	if err := verifyTrace(path, &output); err != nil {
		t.Fatalf("verifyTrace: %v", err)
	}
	if !strings.Contains(output.String(), "2 records, ok") {
		t.Errorf("output = %q", output.String())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	index := bytes.Index(data, []byte("second-title"))
	if index < 0 {
		t.Fatal("record payload not found")
	}
	data[index] = 'S'
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	output.Reset()
	err = verifyTrace(path, &output)
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 1 {
		t.Fatalf("verifyTrace of corrupt trace = %v, want exit code 1", err)
	}
	if !strings.Contains(output.String(), "corrupt after 1 records") {
		t.Errorf("output = %q", output.String())
	}
}
