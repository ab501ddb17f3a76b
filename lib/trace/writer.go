// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/winsync/lib/codec"
	"github.com/bureau-foundation/winsync/lib/remote"
)

// DefaultBlockRecords is the block size used when Options leaves it
// zero.
const DefaultBlockRecords = 256

// Options configures a Writer.
type Options struct {
	// Compression applies to every block. Empty means zstd.
	Compression Compression

	// BlockRecords is the number of records buffered before a block is
	// written.
	BlockRecords int

	// Recording identifies the trace. Empty generates a random UUID.
	Recording string

	// Started is stored in the header. Zero means the current time.
	Started time.Time
}

// Writer appends records to a trace. It is safe for concurrent use.
type Writer struct {
	mu       sync.Mutex
	out      *bufio.Writer
	closer   io.Closer
	header   Header
	options  Options
	pending  bytes.Buffer
	encoder  *codec.Encoder
	buffered int
	closed   bool
}

// Create creates (or truncates) the file at path and writes a trace
// header to it.
func Create(path string, options Options) (*Writer, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating trace file: %w", err)
	}
	writer, err := newWriter(file, file, options)
	if err != nil {
		file.Close()
		return nil, err
	}
	return writer, nil
}

// NewWriter writes a trace header to w and returns a Writer appending to
// it. Close flushes but does not close w.
func NewWriter(w io.Writer, options Options) (*Writer, error) {
	return newWriter(w, nil, options)
}

func newWriter(w io.Writer, closer io.Closer, options Options) (*Writer, error) {
	if options.Compression == "" {
		options.Compression = CompressionZstd
	}
	if _, err := ParseCompression(string(options.Compression)); err != nil {
		return nil, err
	}
	if options.BlockRecords <= 0 {
		options.BlockRecords = DefaultBlockRecords
	}
	if options.Recording == "" {
		options.Recording = uuid.New().String()
	}
	if options.Started.IsZero() {
		options.Started = time.Now()
	}

	writer := &Writer{
		out:     bufio.NewWriter(w),
		closer:  closer,
		options: options,
		header: Header{
			Version:     FormatVersion,
			Recording:   options.Recording,
			Started:     options.Started.UTC(),
			Compression: options.Compression,
		},
	}
	writer.encoder = codec.NewEncoder(&writer.pending)

	if _, err := writer.out.Write(magic[:]); err != nil {
		return nil, fmt.Errorf("writing trace magic: %w", err)
	}
	if err := codec.NewEncoder(writer.out).Encode(writer.header); err != nil {
		return nil, fmt.Errorf("writing trace header: %w", err)
	}
	if err := writer.out.Flush(); err != nil {
		return nil, fmt.Errorf("writing trace header: %w", err)
	}
	return writer, nil
}

// Header returns the header written at the start of the trace.
func (w *Writer) Header() Header {
	return w.header
}

// RecordNotice appends a notice record.
func (w *Writer) RecordNotice(at time.Time, notice remote.Notice) error {
	return w.Append(Record{Type: RecordNotice, At: at, Notice: &notice})
}

// RecordEvent appends an event record.
func (w *Writer) RecordEvent(at time.Time, kind string, external bool, detail map[string]any) error {
	return w.Append(Record{Type: RecordEvent, At: at, Kind: kind, External: external, Detail: detail})
}

// Append buffers a record, writing a block once BlockRecords records are
// pending.
func (w *Writer) Append(record Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("trace writer is closed")
	}
	if err := w.encoder.Encode(record); err != nil {
		return fmt.Errorf("encoding trace record: %w", err)
	}
	w.buffered++
	if w.buffered >= w.options.BlockRecords {
		return w.flushLocked()
	}
	return nil
}

// Flush writes any buffered records as a block.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	return w.flushLocked()
}

// Close flushes buffered records and closes the underlying file when
// the Writer was made by Create. Calling Close more than once is safe.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.flushLocked()
	if w.closer != nil {
		err = errors.Join(err, w.closer.Close())
	}
	return err
}

func (w *Writer) flushLocked() error {
	if w.buffered == 0 {
		return nil
	}
	data := w.pending.Bytes()
	digest := blake3.Sum256(data)
	payload, compression, err := compressBlock(data, w.options.Compression)
	if err != nil {
		return fmt.Errorf("compressing trace block: %w", err)
	}
	entry := block{
		Compression: compression,
		Records:     w.buffered,
		Size:        len(data),
		Digest:      digest[:],
		Payload:     payload,
	}
	if err := codec.NewEncoder(w.out).Encode(entry); err != nil {
		return fmt.Errorf("writing trace block: %w", err)
	}
	if err := w.out.Flush(); err != nil {
		return fmt.Errorf("writing trace block: %w", err)
	}
	w.pending.Reset()
	w.buffered = 0
	return nil
}
