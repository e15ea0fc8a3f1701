package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"phenoload/internal/datasource/file"
	"phenoload/internal/phenotype"
	"phenoload/internal/storage"
)

const header = "id,parent_id,display_name,name,description,type,age_name\n"

func writeInput(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

// harness builds a Driver over st and counts how often the store is opened.
type harness struct {
	d     *Driver
	st    *fakeStore
	opens int
}

func newHarness(t *testing.T, input string, st *fakeStore, opt Options) *harness {
	t.Helper()
	h := &harness{st: st}
	h.d = &Driver{
		Input: file.NewLocal(input),
		OpenStore: func(context.Context) (storage.Store, error) {
			h.opens++
			return st, nil
		},
		Opt: opt,
		Log: zaptest.NewLogger(t).Sugar(),
	}
	return h
}

func TestRun_ScenarioA_ParentsAndFixtures(t *testing.T) {
	t.Parallel()

	in := writeInput(t, "a.csv", header+
		"1,NULL,Cancer,cancer,,binary,\n"+
		"2,1,Melanoma,melanoma,,binary,\n")
	st := newFakeStore()
	h := newHarness(t, in, st, Options{Fixtures: true})

	sum, err := h.d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]int64{1, 2, 10001, 10002, 10003, 10004}, st.inserts()); diff != "" {
		t.Fatalf("insert order (-want +got):\n%s", diff)
	}
	if sum.Records != 6 || sum.Inserted != 6 || sum.Fixtures != 4 || sum.Recreated != 6 || sum.Consistent != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if !st.consistent(1, 2, 10001, 10002, 10003, 10004) {
		t.Fatalf("partitions not converged: %v", st.parts)
	}
	if !st.closed {
		t.Fatalf("store not closed")
	}
}

func TestRun_ScenarioB_ChildrenFirst(t *testing.T) {
	t.Parallel()

	in := writeInput(t, "b.csv", header+
		"2,1,Melanoma,melanoma,,binary,\n"+
		"1,NULL,Cancer,cancer,,binary,\n")
	st := newFakeStore()
	h := newHarness(t, in, st, Options{})

	if _, err := h.d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]int64{1, 2}, st.inserts()); diff != "" {
		t.Fatalf("insert order (-want +got):\n%s", diff)
	}
}

func TestRun_ScenarioC_MissingParentWarns(t *testing.T) {
	t.Parallel()

	in := writeInput(t, "c.csv", header+
		"1,NULL,Cancer,cancer,,binary,\n"+
		"3,99,Orphan,orphan,,binary,\n")
	core, logs := observer.New(zapcore.WarnLevel)
	st := newFakeStore()
	h := newHarness(t, in, st, Options{})
	h.d.Log = zap.New(core).Sugar()

	sum, err := h.d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]int64{1, 3}, st.inserts()); diff != "" {
		t.Fatalf("insert order (-want +got):\n%s", diff)
	}
	want := []phenotype.Orphan{{ID: 3, ParentID: 99, Line: 3}}
	if diff := cmp.Diff(want, sum.Orphans); diff != "" {
		t.Fatalf("orphans (-want +got):\n%s", diff)
	}
	if logs.FilterMessage("could not find all parents for record").Len() != 1 {
		t.Fatalf("missing-parent warning not logged: %v", logs.All())
	}
}

func TestRun_OrphanPolicyFail(t *testing.T) {
	t.Parallel()

	in := writeInput(t, "c.csv", header+"3,99,Orphan,orphan,,binary,\n")
	st := newFakeStore()
	h := newHarness(t, in, st, Options{OrphanPolicy: phenotype.OrphanFail})

	_, err := h.d.Run(context.Background())
	if !errors.Is(err, phenotype.ErrMissingParent) {
		t.Fatalf("err = %v, want ErrMissingParent", err)
	}
	if h.opens != 0 {
		t.Fatalf("store opened %d times before sequencing succeeded", h.opens)
	}
}

// TestRun_ScenarioD_PartitionsOnlyTwice reruns partitions-only mode and
// expects no hierarchy writes and no DDL on the second pass.
func TestRun_ScenarioD_PartitionsOnlyTwice(t *testing.T) {
	t.Parallel()

	in := writeInput(t, "d.csv", header+
		"1,NULL,Cancer,cancer,,binary,\n"+
		"2,1,Melanoma,melanoma,,binary,\n")
	schema := writeInput(t, "main.sql", "CREATE TABLE phenotype (id INT);")
	st := newFakeStore()
	h := newHarness(t, in, st, Options{PartitionsOnly: true, DropTables: []string{"phenotype"}})
	h.d.Schema = file.NewLocal(schema)

	first, err := h.d.Run(context.Background())
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if first.Recreated != 2 || first.Inserted != 0 || !st.consistent(1, 2) {
		t.Fatalf("first run summary = %+v", first)
	}

	st.calls = nil
	second, err := h.d.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.Consistent != 2 || second.Recreated != 0 {
		t.Fatalf("second run summary = %+v", second)
	}
	if diff := cmp.Diff([]string{"rows 1", "rows 2"}, st.calls); diff != "" {
		t.Fatalf("second run calls (-want +got):\n%s", diff)
	}
	if len(st.rows) != 0 {
		t.Fatalf("partitions-only wrote hierarchy rows: %v", st.rows)
	}
}

func TestRun_SchemaBeforeInserts(t *testing.T) {
	t.Parallel()

	in := writeInput(t, "a.csv", header+"1,NULL,Cancer,cancer,,binary,\n")
	schema := writeInput(t, "main.sql", "CREATE TABLE phenotype (id INT);\n")
	st := newFakeStore()
	h := newHarness(t, in, st, Options{DropTables: []string{"participant", "phenotype"}})
	h.d.Schema = file.NewLocal(schema)

	if _, err := h.d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{
		"drop tables participant,phenotype",
		"script CREATE TABLE phenotype (id INT);",
		"insert 1",
		"rows 1",
		"add variant/1",
		"add aggregate/1",
	}
	if diff := cmp.Diff(want, st.calls); diff != "" {
		t.Fatalf("calls (-want +got):\n%s", diff)
	}
}

func TestRun_RepairsPartialLayout(t *testing.T) {
	t.Parallel()

	in := writeInput(t, "a.csv", header+"5,NULL,Cancer,cancer,,binary,\n")
	st := newFakeStore()
	st.parts["variant"]["5"] = []string{"5_all"}
	h := newHarness(t, in, st, Options{PartitionsOnly: true})

	if _, err := h.d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]string{"drop variant/5", "add variant/5", "add aggregate/5"}, st.ddl()); diff != "" {
		t.Fatalf("ddl (-want +got):\n%s", diff)
	}
	if !st.consistent(5) {
		t.Fatalf("layout not converged")
	}
}

func TestRun_MissingInput(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	h := newHarness(t, filepath.Join(t.TempDir(), "nope.csv"), st, Options{})

	_, err := h.d.Run(context.Background())
	if !errors.Is(err, ErrInputMissing) {
		t.Fatalf("err = %v, want ErrInputMissing", err)
	}
	if h.opens != 0 || len(st.calls) != 0 {
		t.Fatalf("store touched before pre-flight: opens=%d calls=%v", h.opens, st.calls)
	}
}

func TestRun_MissingSchema(t *testing.T) {
	t.Parallel()

	in := writeInput(t, "a.csv", header+"1,NULL,Cancer,cancer,,binary,\n")
	st := newFakeStore()
	h := newHarness(t, in, st, Options{})
	h.d.Schema = file.NewLocal(filepath.Join(t.TempDir(), "missing.sql"))

	_, err := h.d.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "schema script") {
		t.Fatalf("err = %v, want schema script error", err)
	}
	if h.opens != 0 {
		t.Fatalf("store opened despite missing schema")
	}
}

func TestRun_InputErrorsAreFatal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want error
		line int
	}{
		{"non-numeric id", "1,NULL,a,a,,binary,\nx,1,b,b,,binary,\n", phenotype.ErrInvalidID, 3},
		{"short row", "1,NULL,a\n", phenotype.ErrFieldCount, 2},
		{"conflicting duplicate", "1,NULL,a,a,,binary,\n1,NULL,b,b,,binary,\n", phenotype.ErrDuplicateID, 3},
		{"cycle", "1,2,a,a,,binary,\n2,1,b,b,,binary,\n", phenotype.ErrCycle, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			in := writeInput(t, "in.csv", header+tt.body)
			st := newFakeStore()
			h := newHarness(t, in, st, Options{})

			_, err := h.d.Run(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			var le *phenotype.LineError
			if tt.line > 0 && (!errors.As(err, &le) || le.Line != tt.line) {
				t.Fatalf("err = %v, want line %d", err, tt.line)
			}
			if h.opens != 0 {
				t.Fatalf("store opened despite bad input")
			}
		})
	}
}

func TestRun_IdenticalDuplicateDropped(t *testing.T) {
	t.Parallel()

	in := writeInput(t, "a.csv", header+
		"1,NULL,Cancer,cancer,,binary,\n"+
		"1,NULL,Cancer,cancer,,binary,\n")
	st := newFakeStore()
	h := newHarness(t, in, st, Options{})

	sum, err := h.d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Duplicates != 1 || sum.Records != 1 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestRun_InsertConflict(t *testing.T) {
	t.Parallel()

	in := writeInput(t, "a.csv", header+"1,NULL,Cancer,cancer,,binary,\n")

	st := newFakeStore()
	st.rows[1] = phenotype.Record{ID: 1}
	h := newHarness(t, in, st, Options{})
	if _, err := h.d.Run(context.Background()); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("err = %v, want ErrDuplicateKey", err)
	}
	if len(st.ddl()) != 0 {
		t.Fatalf("partition DDL ran after a failed insert: %v", st.ddl())
	}

	st = newFakeStore()
	st.rows[1] = phenotype.Record{ID: 1}
	h = newHarness(t, in, st, Options{InsertMode: storage.Upsert})
	sum, err := h.d.Run(context.Background())
	if err != nil {
		t.Fatalf("upsert Run: %v", err)
	}
	if sum.Inserted != 1 {
		t.Fatalf("Inserted = %d, want 1", sum.Inserted)
	}
}

func TestPlan_WritesNothing(t *testing.T) {
	t.Parallel()

	in := writeInput(t, "a.csv", header+
		"1,NULL,Cancer,cancer,,binary,\n"+
		"2,1,Melanoma,melanoma,,binary,\n")
	schema := writeInput(t, "main.sql", "CREATE TABLE phenotype (id INT);")
	st := newFakeStore()
	h := newHarness(t, in, st, Options{DropTables: []string{"phenotype"}})
	h.d.Schema = file.NewLocal(schema)

	sum, err := h.d.Plan(context.Background())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if diff := cmp.Diff([]string{"rows 1", "rows 2"}, st.calls); diff != "" {
		t.Fatalf("plan calls (-want +got):\n%s", diff)
	}
	if sum.Inserted != 0 || sum.Recreated != 2 || len(sum.Plans) != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	if got := sum.Plans[1].Actions; len(got) != 2 || got[0].String() != "add variant/2" {
		t.Fatalf("plan for 2 = %v", got)
	}
	if h.d.Opt.DryRun {
		t.Fatalf("Plan mutated the driver options")
	}
}

func TestRun_CancelledContext(t *testing.T) {
	t.Parallel()

	in := writeInput(t, "a.csv", header+"1,NULL,Cancer,cancer,,binary,\n")
	st := newFakeStore()
	h := newHarness(t, in, st, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.d.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(st.calls) != 0 {
		t.Fatalf("store called after cancellation: %v", st.calls)
	}
}
