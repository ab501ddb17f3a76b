// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/winsync/lib/remote"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func writeSample(t *testing.T, writer *Writer, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		at := testStart.Add(time.Duration(i) * time.Millisecond)
		if i%2 == 0 {
			notice := remote.Notice{
				PID:    remote.ProcessID(100 + i),
				Handle: remote.Handle(i + 1),
				Kind:   remote.NotifyWindowMoved,
			}
			if err := writer.RecordNotice(at, notice); err != nil {
				t.Fatalf("RecordNotice: %v", err)
			}
			continue
		}
		detail := map[string]any{"window": uint64(i), "title": strings.Repeat("x", i)}
		if err := writer.RecordEvent(at, "window_title_changed", i%3 == 0, detail); err != nil {
			t.Fatalf("RecordEvent: %v", err)
		}
	}
}

func checkSample(t *testing.T, records []Record, count int) {
	t.Helper()
	if len(records) != count {
		t.Fatalf("got %d records, want %d", len(records), count)
	}
	for i, record := range records {
		want := testStart.Add(time.Duration(i) * time.Millisecond)
		if !record.At.Equal(want) {
			t.Errorf("record %d: At = %v, want %v", i, record.At, want)
		}
		if i%2 == 0 {
			if record.Type != RecordNotice || record.Notice == nil {
				t.Fatalf("record %d: want notice, got %+v", i, record)
			}
			if record.Notice.PID != remote.ProcessID(100+i) || record.Notice.Handle != remote.Handle(i+1) {
				t.Errorf("record %d: notice = %+v", i, *record.Notice)
			}
			if record.Notice.Kind != remote.NotifyWindowMoved {
				t.Errorf("record %d: kind = %q", i, record.Notice.Kind)
			}
			continue
		}
		if record.Type != RecordEvent || record.Kind != "window_title_changed" {
			t.Fatalf("record %d: want event, got %+v", i, record)
		}
		if record.External != (i%3 == 0) {
			t.Errorf("record %d: External = %v", i, record.External)
		}
		if title, _ := record.Detail["title"].(string); title != strings.Repeat("x", i) {
			t.Errorf("record %d: title = %q", i, title)
		}
		if window, _ := record.Detail["window"].(uint64); window != uint64(i) {
			t.Errorf("record %d: window = %v", i, record.Detail["window"])
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(string(compression), func(t *testing.T) {
			var buffer bytes.Buffer
			writer, err := NewWriter(&buffer, Options{
				Compression:  compression,
				BlockRecords: 7,
				Started:      testStart,
			})
			if err != nil {
				t.Fatalf("NewWriter: %v", err)
			}
			writeSample(t, writer, 50)
			if err := writer.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			reader, err := NewReader(&buffer)
			if err != nil {
				t.Fatalf("NewReader: %v", err)
			}
			header := reader.Header()
			if header.Version != FormatVersion || header.Compression != compression {
				t.Errorf("header = %+v", header)
			}
			if header.Recording != writer.Header().Recording || header.Recording == "" {
				t.Errorf("recording = %q, want %q", header.Recording, writer.Header().Recording)
			}
			if !header.Started.Equal(testStart) {
				t.Errorf("started = %v", header.Started)
			}
			records, err := reader.All()
			if err != nil {
				t.Fatalf("All: %v", err)
			}
			checkSample(t, records, 50)
		})
	}
}

func TestCreateAndOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.trace")
	writer, err := Create(path, Options{Recording: "fixed-id"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	writeSample(t, writer, 10)
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := writer.RecordNotice(testStart, remote.Notice{}); err == nil {
		t.Error("RecordNotice after Close succeeded")
	}

	reader, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()
	if reader.Header().Recording != "fixed-id" {
		t.Errorf("recording = %q", reader.Header().Recording)
	}
	if reader.Header().Compression != CompressionZstd {
		t.Errorf("default compression = %q", reader.Header().Compression)
	}
	records, err := reader.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	checkSample(t, records, 10)
}

func TestFlushWritesPartialBlock(t *testing.T) {
	var buffer bytes.Buffer
	writer, err := NewWriter(&buffer, Options{BlockRecords: 100})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	writeSample(t, writer, 3)
	if err := writer.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// Read from a snapshot while the writer is still open.
	reader, err := NewReader(bytes.NewReader(buffer.Bytes()))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	records, err := reader.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	checkSample(t, records, 3)
}

func TestCorruptBlockDetected(t *testing.T) {
	var buffer bytes.Buffer
	writer, err := NewWriter(&buffer, Options{Compression: CompressionNone, BlockRecords: 1})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := writer.RecordEvent(testStart, "window_created", true, map[string]any{"title": "first-block"}); err != nil {
		t.Fatal(err)
	}
	if err := writer.RecordEvent(testStart, "window_created", true, map[string]any{"title": "second-block"}); err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}

	data := buffer.Bytes()
	index := bytes.Index(data, []byte("second-block"))
	if index < 0 {
		t.Fatal("payload not found in uncompressed trace")
	}
	data[index] = 'S'

	reader, err := NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	first, err := reader.Next()
	if err != nil {
		t.Fatalf("first block: %v", err)
	}
	if first.Detail["title"] != "first-block" {
		t.Errorf("first title = %v", first.Detail["title"])
	}
	if _, err := reader.Next(); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("second block: got %v, want ErrCorrupt", err)
	}
}

func TestIncompressibleBlockStoredRaw(t *testing.T) {
	random := make([]byte, 4096)
	if _, err := rand.Read(random); err != nil {
		t.Fatal(err)
	}
	for _, compression := range []Compression{CompressionLZ4, CompressionZstd} {
		stored, used, err := compressBlock(random, compression)
		if err != nil {
			t.Fatalf("%s: %v", compression, err)
		}
		if used != CompressionNone {
			t.Errorf("%s: used %q for random data, want none", compression, used)
		}
		if !bytes.Equal(stored, random) {
			t.Errorf("%s: stored bytes differ from input", compression)
		}
	}

	compressible := bytes.Repeat([]byte("window_moved "), 400)
	for _, compression := range []Compression{CompressionLZ4, CompressionZstd} {
		stored, used, err := compressBlock(compressible, compression)
		if err != nil {
			t.Fatalf("%s: %v", compression, err)
		}
		if used != compression || len(stored) >= len(compressible) {
			t.Errorf("%s: used %q, %d bytes", compression, used, len(stored))
		}
		restored, err := decompressBlock(stored, used, len(compressible))
		if err != nil {
			t.Fatalf("%s: decompress: %v", compression, err)
		}
		if !bytes.Equal(restored, compressible) {
			t.Errorf("%s: round trip mismatch", compression)
		}
	}
}

func TestRejectsForeignData(t *testing.T) {
	if _, err := NewReader(strings.NewReader("definitely not a trace")); err == nil {
		t.Error("NewReader accepted foreign data")
	}
	if _, err := NewReader(strings.NewReader("")); err == nil {
		t.Error("NewReader accepted empty input")
	}
	if _, err := NewWriter(io.Discard, Options{Compression: "brotli"}); err == nil {
		t.Error("NewWriter accepted unknown compression")
	}
}

func TestEmptyTrace(t *testing.T) {
	var buffer bytes.Buffer
	writer, err := NewWriter(&buffer, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}
	reader, err := NewReader(&buffer)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reader.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("Next = %v, want io.EOF", err)
	}
}
