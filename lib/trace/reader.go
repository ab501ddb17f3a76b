// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"bufio"
	"bytes"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/winsync/lib/codec"
)

// ErrCorrupt reports a block whose contents do not match its digest or
// declared size.
var ErrCorrupt = errors.New("trace block is corrupt")

// Reader iterates the records of a trace.
type Reader struct {
	header  Header
	decoder *codec.Decoder
	closer  io.Closer

	// records holds the undecoded remainder of the current block.
	records   *codec.Decoder
	remaining int
	block     int
}

// Open opens the trace file at path.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening trace file: %w", err)
	}
	reader, err := newReader(file, file)
	if err != nil {
		file.Close()
		return nil, err
	}
	return reader, nil
}

// NewReader reads the trace header from r.
func NewReader(r io.Reader) (*Reader, error) {
	return newReader(r, nil)
}

func newReader(r io.Reader, closer io.Closer) (*Reader, error) {
	buffered := bufio.NewReader(r)
	var opening [len(magic)]byte
	if _, err := io.ReadFull(buffered, opening[:]); err != nil {
		return nil, fmt.Errorf("reading trace magic: %w", err)
	}
	if opening != magic {
		return nil, errors.New("not a trace file")
	}
	reader := &Reader{decoder: codec.NewDecoder(buffered), closer: closer}
	if err := reader.decoder.Decode(&reader.header); err != nil {
		return nil, fmt.Errorf("reading trace header: %w", err)
	}
	if reader.header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported trace version %d", reader.header.Version)
	}
	return reader, nil
}

// Header returns the trace header.
func (r *Reader) Header() Header {
	return r.header
}

// Next returns the next record, or io.EOF after the last one. A block
// that fails verification returns an error wrapping ErrCorrupt; none of
// its records are returned.
func (r *Reader) Next() (Record, error) {
	for r.remaining == 0 {
		if err := r.loadBlock(); err != nil {
			return Record{}, err
		}
	}
	var record Record
	if err := r.records.Decode(&record); err != nil {
		return Record{}, fmt.Errorf("block %d: decoding record: %w", r.block, err)
	}
	r.remaining--
	return record, nil
}

// All reads every remaining record.
func (r *Reader) All() ([]Record, error) {
	var records []Record
	for {
		record, err := r.Next()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, record)
	}
}

// Close closes the underlying file when the Reader was made by Open.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

func (r *Reader) loadBlock() error {
	var entry block
	if err := r.decoder.Decode(&entry); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("reading trace block %d: %w", r.block+1, err)
	}
	r.block++
	if entry.Size < 0 || entry.Records < 0 {
		return fmt.Errorf("block %d: %w: negative size", r.block, ErrCorrupt)
	}
	data, err := decompressBlock(entry.Payload, entry.Compression, entry.Size)
	if err != nil {
		return fmt.Errorf("block %d: %w: %w", r.block, ErrCorrupt, err)
	}
	digest := blake3.Sum256(data)
	if subtle.ConstantTimeCompare(digest[:], entry.Digest) != 1 {
		return fmt.Errorf("block %d: %w: digest mismatch", r.block, ErrCorrupt)
	}
	r.records = codec.NewDecoder(bytes.NewReader(data))
	r.remaining = entry.Records
	return nil
}
