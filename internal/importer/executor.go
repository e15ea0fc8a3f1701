package importer

import (
	"context"

	"go.uber.org/zap"

	"phenoload/internal/phenotype"
	"phenoload/internal/storage"
)

// Executor writes hierarchy rows. Callers feed it records in sequence order,
// so a record's parent has always been written before the record itself.
type Executor struct {
	Store  storage.Store
	Mode   storage.InsertMode
	DryRun bool
	Log    *zap.SugaredLogger
}

// Insert writes rec. It reports whether a row was written; dry runs write
// nothing.
func (e *Executor) Insert(ctx context.Context, rec phenotype.Record) (bool, error) {
	if e.DryRun {
		if e.Log != nil {
			e.Log.Debugw("dry run: skipping insert", "record", rec.String())
		}
		return false, nil
	}
	if err := e.Store.InsertPhenotype(ctx, rec, e.Mode); err != nil {
		return false, err
	}
	return true, nil
}
