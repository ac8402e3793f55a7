// Package parser implements a pull-based parser for the delimited extract
// file format vendors hand off: headerless rows separated by a configurable
// (usually multi-character) row separator, fields within a row separated by
// a configurable field separator, UTF-8 or UTF-16LE encoded.
package parser

import "errors"

const (
	// DefaultFieldSeparator is the field separator used when the caller
	// does not configure one.
	DefaultFieldSeparator = "|^^|"
	// DefaultRowSeparator is the row separator used when the caller does
	// not configure one.
	DefaultRowSeparator = "|~~|"
	// DefaultMaxRowLength bounds a single unterminated row's accumulated
	// length before it is treated as a malformed file.
	DefaultMaxRowLength = 10_000_000
	// DefaultMaxFieldLength bounds a single field's length; fields beyond
	// this are truncated with a warning, never fatal.
	DefaultMaxFieldLength = 5000
	// readChunkSize is the size of each Read call against the underlying
	// stream.
	readChunkSize = 64 * 1024
)

// ErrRowTooLong is returned when an unterminated row exceeds MaxRowLength.
var ErrRowTooLong = errors.New("row exceeds maximum row length")

// ErrMalformedChunk is returned when the underlying byte stream cannot be
// decoded under the detected encoding.
var ErrMalformedChunk = errors.New("malformed chunk in byte stream")

// Options configures a Parser.
type Options struct {
	FieldSeparator string
	RowSeparator   string
	MaxRowLength   int
	MaxFieldLength int
	SkipEmptyRows  bool
	// Columns is the handler's declared column list, in order. Fields are
	// mapped to columns positionally: extra fields in a row are ignored,
	// missing fields are represented as empty strings.
	Columns []string
}

func (o Options) withDefaults() Options {
	if o.FieldSeparator == "" {
		o.FieldSeparator = DefaultFieldSeparator
	}

	if o.RowSeparator == "" {
		o.RowSeparator = DefaultRowSeparator
	}

	if o.MaxRowLength <= 0 {
		o.MaxRowLength = DefaultMaxRowLength
	}

	if o.MaxFieldLength <= 0 {
		o.MaxFieldLength = DefaultMaxFieldLength
	}

	return o
}

// Row is one parsed record: the handler's declared columns, positionally
// mapped to the parsed field values. Deliberately not a map so that column
// order and raw-fidelity bookkeeping (which fields were present vs padded)
// stay explicit at the call site.
type Row struct {
	Columns []string
	Values  []string
}

// Encoding identifies the byte-level encoding a Parser detected for its
// source stream.
type Encoding int

const (
	// EncodingUTF8 is the default encoding when no BOM is present and the
	// even-length heuristic does not fire.
	EncodingUTF8 Encoding = iota
	// EncodingUTF16LE covers both the UTF-16LE BOM (FF FE) and, by
	// documented decision (see DESIGN.md Open Question 1), the UTF-16BE
	// BOM (FE FF) — both are decoded little-endian.
	EncodingUTF16LE
)
