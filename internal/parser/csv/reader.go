// Package csv reads delimited phenotype exports into raw rows tagged with the
// physical line they started on. Input is decoded to UTF-8 on the fly: a byte
// order mark always wins, otherwise the configured encoding is used.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Options configures the reader. The zero value reads comma-separated UTF-8
// with a header line.
type Options struct {
	// Comma is the field delimiter. Zero means ','.
	Comma rune
	// LazyQuotes tolerates bare quotes inside unquoted fields.
	LazyQuotes bool
	// Encoding is a WHATWG encoding label ("utf-8", "windows-1252", ...).
	// Empty means UTF-8.
	Encoding string
	// NoHeader treats the first line as data.
	NoHeader bool
}

// Row is one CSV record. Line is the 1-based line the record starts on.
type Row struct {
	Line   int
	Fields []string
}

// Reader streams Rows from a decoded input.
type Reader struct {
	cr     *csv.Reader
	header []string
	opt    Options
	primed bool
}

// NewReader wraps r. It does not read until the first call to Read.
func NewReader(r io.Reader, opt Options) (*Reader, error) {
	enc, err := lookupEncoding(opt.Encoding)
	if err != nil {
		return nil, err
	}
	cr := csv.NewReader(transform.NewReader(r, unicode.BOMOverride(enc.NewDecoder())))
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1 // width is checked by the normalizer, per line
	return &Reader{cr: cr, opt: opt}, nil
}

func lookupEncoding(label string) (encoding.Encoding, error) {
	if strings.TrimSpace(label) == "" {
		return unicode.UTF8, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("csv: unknown encoding %q: %w", label, err)
	}
	return enc, nil
}

// Header returns the header line once Read has been called, or nil.
func (r *Reader) Header() []string { return r.header }

// Read returns the next data row, or io.EOF.
func (r *Reader) Read() (Row, error) {
	if !r.primed {
		r.primed = true
		if !r.opt.NoHeader {
			hdr, err := r.cr.Read()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return Row{}, io.EOF
				}
				return Row{}, fmt.Errorf("csv: read header: %w", err)
			}
			r.header = StripHeaderBOM(hdr)
		}
	}
	rec, err := r.cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Row{}, io.EOF
		}
		return Row{}, fmt.Errorf("csv: %w", err)
	}
	line, _ := r.cr.FieldPos(0)
	return Row{Line: line, Fields: rec}, nil
}

// ReadAll drains the reader, stopping early if ctx is cancelled.
func (r *Reader) ReadAll(ctx context.Context) ([]Row, error) {
	var out []Row
	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, row)
	}
}
