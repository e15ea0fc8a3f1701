package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"phenoload/internal/datasource"
	"phenoload/internal/parser/csv"
	"phenoload/internal/phenotype"
)

// ErrInputMissing is returned when the input file cannot be found. It is
// raised before the store is opened.
var ErrInputMissing = errors.New("input file not found")

// preflight checks that src exists.
func preflight(ctx context.Context, src datasource.Source) error {
	if err := src.Stat(ctx); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %w", ErrInputMissing, err)
		}
		return err
	}
	return nil
}

// readRecords decodes and normalizes every row of src. The first bad row
// aborts the read.
func readRecords(ctx context.Context, src datasource.Source, opt csv.Options) ([]phenotype.Record, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	r, err := csv.NewReader(rc, opt)
	if err != nil {
		return nil, err
	}
	norm := phenotype.NewNormalizer()

	var out []phenotype.Record
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		rec, err := norm.Normalize(row.Line, row.Fields)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}

// readScript returns the whole DDL script behind src.
func readScript(ctx context.Context, src datasource.Source) (string, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
