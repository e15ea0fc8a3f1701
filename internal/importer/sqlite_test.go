package importer

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"phenoload/internal/config"
	"phenoload/internal/datasource/file"
	"phenoload/internal/partition"
	"phenoload/internal/storage"
	_ "phenoload/internal/storage/sqlite"
)

// TestRun_SQLiteEndToEnd loads a small forest into a SQLite file twice: a full
// import with fixtures, then a partitions-only rerun that must find every
// layout already consistent.
func TestRun_SQLiteEndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	in := writeInput(t, "phenotypes.csv", "\uFEFF"+header+
		"3,2,Skin Melanoma,skin_melanoma,NULL,ordinal,\n"+
		"1,NULL,Any Cancer,any_cancer,  null  ,binary,\n"+
		"2,1,Melanoma,melanoma,,binary,age_at_dx\n")
	cfg := storage.Config{Kind: "sqlite", DSN: filepath.Join(t.TempDir(), "pheno.db")}
	open := func(ctx context.Context) (storage.Store, error) { return storage.New(ctx, cfg) }

	full := &Driver{
		Input:     file.NewLocal(in),
		Schema:    file.NewLocal(filepath.Join("..", "..", "schema", "sqlite", "main.sql")),
		OpenStore: open,
		Opt:       Options{Fixtures: true, DropTables: config.DefaultDropTables},
		Log:       zaptest.NewLogger(t).Sugar(),
	}
	sum, err := full.Run(ctx)
	if err != nil {
		t.Fatalf("full Run: %v", err)
	}
	if sum.Records != 7 || sum.Inserted != 7 || sum.Recreated != 7 {
		t.Fatalf("full run summary = %+v", sum)
	}

	rerun := *full
	rerun.Opt.PartitionsOnly = true
	sum, err = rerun.Run(ctx)
	if err != nil {
		t.Fatalf("partitions-only Run: %v", err)
	}
	if sum.Consistent != 7 || sum.Recreated != 0 || sum.Inserted != 0 {
		t.Fatalf("rerun summary = %+v", sum)
	}

	st, err := open(ctx)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	for _, id := range []int64{1, 2, 3, 10001, 10004} {
		rows, err := st.PartitionRows(ctx, id)
		if err != nil {
			t.Fatalf("PartitionRows(%d): %v", id, err)
		}
		if !partition.Matches(id, rows) {
			t.Fatalf("layout for %d = %v", id, rows)
		}
	}

	// A second full import recreates the hierarchy table, so inserting the
	// same ids again succeeds and the partitions are left alone.
	sum, err = full.Run(ctx)
	if err != nil {
		t.Fatalf("second full Run: %v", err)
	}
	if sum.Inserted != 7 || sum.Consistent != 7 {
		t.Fatalf("second full run summary = %+v", sum)
	}
}
