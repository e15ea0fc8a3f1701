// Package importer drives a phenotype load end to end: input pre-flight,
// reading and normalizing rows, sequencing parents before children, optional
// fixture injection, schema recreation, and the per-record loop that inserts
// the hierarchy row and converges the record's fact-table partitions.
//
// The run is a single sequential pass over one store handle with no wrapping
// transaction. A failure leaves the store partly loaded; partitions converge
// again on a rerun, hierarchy rows do not (use partitions-only mode, or
// upsert).
package importer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"phenoload/internal/datasource"
	"phenoload/internal/metrics"
	"phenoload/internal/parser/csv"
	"phenoload/internal/partition"
	"phenoload/internal/phenotype"
	"phenoload/internal/storage"
)

// FollowUp lists the scripts that must run after a successful import to
// finish loading participant and correlation data.
var FollowUp = []string{
	"import-participant-data.sql",
	"import-participant-data-category.sql",
	"import-phenotype-correlation.sql",
	"update-participant-count.js",
	"update-variants-count.js",
}

// Options control one run.
type Options struct {
	// Job labels metrics.
	Job string

	// PartitionsOnly skips the schema and all hierarchy inserts and only
	// reconciles partitions for every input record.
	PartitionsOnly bool
	// DryRun reads the store but changes nothing.
	DryRun bool
	// Fixtures appends the synthetic test nodes to the sequence.
	Fixtures bool
	// RequireEmpty refuses to drop a partition that holds rows.
	RequireEmpty bool

	OrphanPolicy phenotype.OrphanPolicy
	InsertMode   storage.InsertMode

	// DropTables are dropped, in order, before the schema script runs.
	DropTables []string

	CSV csv.Options
}

// Summary describes a finished (or dry) run.
type Summary struct {
	// Records is the length of the import sequence, fixtures included.
	Records    int
	Duplicates int
	Orphans    []phenotype.Orphan
	Fixtures   int
	Inserted   int
	// Recreated counts records whose partitions needed DDL; Consistent those
	// that already matched.
	Recreated  int
	Consistent int
	// Plans holds the partition plans that required DDL, in sequence order.
	Plans   []partition.Plan
	Elapsed time.Duration
}

// Driver runs the import. Input and Schema are resolved by the caller; Schema
// may be nil when no DDL script is applied. OpenStore is called only after the
// input has been read and sequenced.
type Driver struct {
	Input     datasource.Source
	Schema    datasource.Source
	OpenStore func(ctx context.Context) (storage.Store, error)
	Opt       Options
	Log       *zap.SugaredLogger

	now func() time.Time
}

// Run executes the pipeline.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	start := d.clock()
	var sum Summary
	err := d.run(ctx, start, &sum)
	sum.Elapsed = d.clock().Sub(start)
	return sum, err
}

// Plan is a dry run: it reports the partition DDL a real run would issue and
// writes nothing.
func (d *Driver) Plan(ctx context.Context) (Summary, error) {
	dry := *d
	dry.Opt.DryRun = true
	return dry.Run(ctx)
}

func (d *Driver) run(ctx context.Context, start time.Time, sum *Summary) error {
	log := d.logger()
	job := d.Opt.Job
	withSchema := !d.Opt.PartitionsOnly && d.Schema != nil

	if err := d.step("preflight", func() error {
		if err := preflight(ctx, d.Input); err != nil {
			return err
		}
		if withSchema {
			if err := d.Schema.Stat(ctx); err != nil {
				return fmt.Errorf("schema script: %w", err)
			}
		}
		return nil
	}); err != nil {
		return err
	}

	var recs []phenotype.Record
	if err := d.step("read", func() error {
		log.Infow("parsing records", "elapsed", d.elapsed(start))
		var err error
		if recs, err = readRecords(ctx, d.Input, d.Opt.CSV); err != nil {
			return err
		}
		metrics.RecordRecords(job, "read", len(recs))

		n := len(recs)
		if recs, err = phenotype.Dedup(recs, log); err != nil {
			return err
		}
		sum.Duplicates = n - len(recs)
		metrics.RecordRecords(job, "duplicates", sum.Duplicates)
		return nil
	}); err != nil {
		return err
	}

	var seq []phenotype.Record
	if err := d.step("sequence", func() error {
		s := &phenotype.Sequencer{Policy: d.Opt.OrphanPolicy, Log: log}
		res, err := s.Sequence(recs)
		if err != nil {
			return err
		}
		seq = res.Records
		sum.Orphans = res.Orphans
		metrics.RecordRecords(job, "orphans", len(res.Orphans))

		if d.Opt.Fixtures {
			n := len(seq)
			seq = phenotype.InjectFixtures(seq)
			sum.Fixtures = len(seq) - n
			metrics.RecordRecords(job, "fixtures", sum.Fixtures)
		}
		sum.Records = len(seq)
		return nil
	}); err != nil {
		return err
	}

	st, err := d.OpenStore(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			log.Warnw("closing store", "error", cerr)
		}
	}()

	if withSchema {
		if err := d.step("schema", func() error {
			return d.recreateSchema(ctx, st, start)
		}); err != nil {
			return err
		}
	}

	return d.step("load", func() error {
		return d.load(ctx, st, seq, start, sum)
	})
}

// recreateSchema drops the dependent tables and applies the DDL script.
func (d *Driver) recreateSchema(ctx context.Context, st storage.Store, start time.Time) error {
	log := d.logger()
	script, err := readScript(ctx, d.Schema)
	if err != nil {
		return fmt.Errorf("read schema script: %w", err)
	}
	if d.Opt.DryRun {
		log.Infow("dry run: skipping schema recreation", "drop_tables", d.Opt.DropTables)
		return nil
	}
	log.Infow("recreating schema", "drop_tables", d.Opt.DropTables, "elapsed", d.elapsed(start))
	if err := st.DropTables(ctx, d.Opt.DropTables); err != nil {
		return err
	}
	return st.ApplyScript(ctx, script)
}

// load walks the sequence: insert the record (unless partitions-only), then
// reconcile its partitions.
func (d *Driver) load(ctx context.Context, st storage.Store, seq []phenotype.Record, start time.Time, sum *Summary) error {
	log := d.logger()
	exec := &Executor{Store: st, Mode: d.Opt.InsertMode, DryRun: d.Opt.DryRun, Log: log}
	rec := &partition.Reconciler{Catalog: st, Log: log, DryRun: d.Opt.DryRun, RequireEmpty: d.Opt.RequireEmpty}

	if d.Opt.PartitionsOnly {
		log.Infow("reconciling partitions", "records", len(seq), "elapsed", d.elapsed(start))
	} else {
		log.Infow("inserting records", "records", len(seq), "elapsed", d.elapsed(start))
	}

	for _, r := range seq {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Opt.PartitionsOnly {
			ok, err := exec.Insert(ctx, r)
			if err != nil {
				return err
			}
			if ok {
				sum.Inserted++
			}
		}

		p, err := rec.Plan(ctx, r.ID)
		if err != nil {
			return err
		}
		if !p.Required() {
			sum.Consistent++
			continue
		}
		log.Infow("(re)creating partitions", "record", r.String(), "existing_rows", len(p.Existing), "elapsed", d.elapsed(start))
		if err := rec.Apply(ctx, p); err != nil {
			return err
		}
		sum.Recreated++
		sum.Plans = append(sum.Plans, p)
	}

	metrics.RecordRecords(d.Opt.Job, "inserted", sum.Inserted)
	metrics.RecordPartitions(d.Opt.Job, "consistent", sum.Consistent)
	if d.Opt.DryRun {
		metrics.RecordPartitions(d.Opt.Job, "planned", sum.Recreated)
	} else {
		metrics.RecordPartitions(d.Opt.Job, "recreated", sum.Recreated)
	}
	log.Infow("import finished", "records", len(seq), "inserted", sum.Inserted,
		"partitions_recreated", sum.Recreated, "partitions_consistent", sum.Consistent, "elapsed", d.elapsed(start))
	return nil
}

// step runs fn as a named stage, timing it for metrics and logs.
func (d *Driver) step(name string, fn func() error) error {
	t0 := d.clock()
	err := fn()
	dur := d.clock().Sub(t0)
	metrics.RecordStep(d.Opt.Job, name, err, dur)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	d.logger().Debugw("stage done", "stage", name, "took", dur.Seconds())
	return nil
}

func (d *Driver) elapsed(start time.Time) float64 {
	return d.clock().Sub(start).Seconds()
}

func (d *Driver) clock() time.Time {
	if d.now != nil {
		return d.now()
	}
	return time.Now()
}

func (d *Driver) logger() *zap.SugaredLogger {
	if d.Log == nil {
		return zap.NewNop().Sugar()
	}
	return d.Log
}
