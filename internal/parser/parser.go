package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/nz-health/extract-loader/internal/errs"
)

// Parser pulls rows one at a time from a byte stream, auto-detecting
// encoding on the first read and applying the configured field/row
// separators. It is not safe for concurrent use; the stream-batch
// processor drives one Parser from a single goroutine.
type Parser struct {
	r      io.Reader
	opts   Options
	logger *slog.Logger

	encoding Encoding
	detected bool

	pending []byte // odd trailing byte held back across UTF-16LE chunk boundaries
	textBuf string
	eof     bool
	rowNum  int

	readBuf []byte
}

// New builds a Parser reading from r. logger may be nil, in which case
// slog.Default() is used.
func New(r io.Reader, opts Options, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}

	return &Parser{
		r:       r,
		opts:    opts.withDefaults(),
		logger:  logger,
		readBuf: make([]byte, readChunkSize),
	}
}

// RowNumber returns the count of rows returned so far, 1-indexed after the
// first successful Next call.
func (p *Parser) RowNumber() int {
	return p.rowNum
}

// Encoding returns the encoding detected from the stream's first chunk.
// Only meaningful after the first call to Next.
func (p *Parser) Encoding() Encoding {
	return p.encoding
}

// Next returns the next parsed row in byte-stream order. It returns io.EOF
// once the stream is exhausted. A malformed chunk or an over-length
// unterminated row returns an *errs.Error with Kind KindParse; the caller
// must stop reading this stream after such an error, there is no in-file
// recovery.
func (p *Parser) Next(ctx context.Context) (Row, error) {
	for {
		if idx := strings.Index(p.textBuf, p.opts.RowSeparator); idx >= 0 {
			rowText := p.textBuf[:idx]
			p.textBuf = p.textBuf[idx+len(p.opts.RowSeparator):]

			row, skip := p.buildRow(rowText)
			if skip {
				continue
			}

			return row, nil
		}

		if len(p.textBuf) > p.opts.MaxRowLength {
			return Row{}, errs.New(errs.KindParse, false,
				fmt.Errorf("%w: row %d exceeds %d bytes", ErrRowTooLong, p.rowNum+1, p.opts.MaxRowLength))
		}

		if p.eof {
			if strings.TrimSpace(p.textBuf) != "" {
				rowText := p.textBuf
				p.textBuf = ""

				row, skip := p.buildRow(rowText)
				if skip {
					return Row{}, io.EOF
				}

				return row, nil
			}

			return Row{}, io.EOF
		}

		if err := p.fill(ctx); err != nil {
			return Row{}, err
		}
	}
}

func (p *Parser) fill(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	n, readErr := p.r.Read(p.readBuf)
	if n > 0 {
		chunk := p.readBuf[:n]

		if !p.detected {
			enc, skipBOM := detectEncoding(chunk)
			p.encoding = enc
			p.detected = true
			chunk = chunk[skipBOM:]
		}

		raw := chunk
		if len(p.pending) > 0 {
			raw = append(append([]byte(nil), p.pending...), chunk...)
			p.pending = nil
		}

		switch p.encoding {
		case EncodingUTF16LE:
			if len(raw)%2 != 0 {
				p.pending = append([]byte(nil), raw[len(raw)-1])
				raw = raw[:len(raw)-1]
			}

			p.textBuf += decodeUTF16LE(raw)
		default:
			p.textBuf += string(raw)
		}
	}

	if readErr != nil {
		if errors.Is(readErr, io.EOF) {
			p.eof = true

			return nil
		}

		return errs.New(errs.KindParse, false, fmt.Errorf("%w: %v", ErrMalformedChunk, readErr))
	}

	return nil
}

func (p *Parser) buildRow(rowText string) (Row, bool) {
	fields := strings.Split(rowText, p.opts.FieldSeparator)

	if p.opts.SkipEmptyRows && allFieldsEmpty(fields) {
		return Row{}, true
	}

	if len(p.opts.Columns) == 0 {
		values := make([]string, len(fields))
		for i, f := range fields {
			values[i] = p.cleanAndTruncate(f)
		}

		p.rowNum++

		return Row{Values: values}, false
	}

	values := make([]string, len(p.opts.Columns))

	for i := range p.opts.Columns {
		if i < len(fields) {
			values[i] = p.cleanAndTruncate(fields[i])
		} else {
			values[i] = ""
		}
	}

	p.rowNum++

	return Row{Columns: p.opts.Columns, Values: values}, false
}

// allFieldsEmpty reports whether every field is empty once trimmed, e.g. a
// row consisting only of field separators and whitespace ("  |^^|  ").
func allFieldsEmpty(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}

	return true
}

func (p *Parser) cleanAndTruncate(raw string) string {
	v := cleanField(raw)

	truncated, wasTruncated := truncateField(v, p.opts.MaxFieldLength)
	if wasTruncated {
		p.logger.Warn("field truncated",
			"row", p.rowNum+1,
			"maxFieldLength", p.opts.MaxFieldLength)
	}

	return truncated
}
