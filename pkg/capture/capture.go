// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture records raw bus traffic as a stream of CBOR records for
// offline analysis and replay. CBOR keeps the files compact on long sniff
// sessions and needs no per-line escaping of protocol payloads.
package capture

import (
	"errors"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Record is one captured line with its receive timestamp.
type Record struct {
	Timestamp time.Time `cbor:"ts"`
	Raw       string    `cbor:"raw"`
}

// Writer appends records to a capture stream.
type Writer struct {
	enc *cbor.Encoder
}

// NewWriter wraps w as a capture stream.
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: cbor.NewEncoder(w)}
}

// Write appends one record.
func (w *Writer) Write(ts time.Time, raw string) error {
	return w.enc.Encode(Record{Timestamp: ts, Raw: raw})
}

// Reader iterates a capture stream.
type Reader struct {
	dec *cbor.Decoder
}

// NewReader wraps r as a capture stream.
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF at end of stream.
func (r *Reader) Next() (Record, error) {
	var rec Record
	err := r.dec.Decode(&rec)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		// A truncated trailing record from a killed sniff session ends
		// the stream.
		return Record{}, io.EOF
	}
	return rec, err
}
