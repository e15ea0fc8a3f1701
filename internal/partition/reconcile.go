package partition

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrPartitionNotEmpty is returned when RequireEmpty is set and a partition
// that would be dropped still holds rows.
var ErrPartitionNotEmpty = errors.New("partition holds rows")

// Catalog is the store surface the Reconciler needs. PartitionRows returns the
// metadata rows of every table in Tables whose partition name is id's.
type Catalog interface {
	PartitionRows(ctx context.Context, id int64) ([]Row, error)
	DropPartition(ctx context.Context, t Table, id int64) error
	AddPartition(ctx context.Context, d Descriptor) error
	PartitionRowCount(ctx context.Context, t Table, id int64) (int64, error)
}

// ActionKind is a single DDL step.
type ActionKind string

const (
	Drop ActionKind = "drop"
	Add  ActionKind = "add"
)

// Action is one planned DDL step.
type Action struct {
	Kind       ActionKind
	Descriptor Descriptor
}

func (a Action) String() string { return fmt.Sprintf("%s %s", a.Kind, a.Descriptor) }

// Plan is the reconciliation decision for one phenotype id. An empty Actions
// list means the layout already matches.
type Plan struct {
	PhenotypeID int64
	Existing    []Row
	Actions     []Action
}

// Required reports whether the plan changes anything.
func (p Plan) Required() bool { return len(p.Actions) > 0 }

// Reconciler converges partition layout one phenotype at a time.
//
// Reconciliation is drop-then-recreate: a table whose layout does not match
// loses its partition for the id and gets a fresh one. This destroys any rows
// in that partition. It is only safe while partitions are being provisioned,
// before bulk data is loaded into them; never run it against a schema whose
// fact partitions already hold production rows unless RequireEmpty is set.
type Reconciler struct {
	Catalog Catalog
	Log     *zap.SugaredLogger

	// DryRun plans and logs actions without executing DDL.
	DryRun bool
	// RequireEmpty refuses to drop a partition that still holds rows.
	RequireEmpty bool
}

// Plan reads the current layout for id and decides the DDL needed. It never
// modifies the store.
func (r *Reconciler) Plan(ctx context.Context, id int64) (Plan, error) {
	rows, err := r.Catalog.PartitionRows(ctx, id)
	if err != nil {
		return Plan{}, fmt.Errorf("read partitions for %d: %w", id, err)
	}
	p := Plan{PhenotypeID: id, Existing: rows}
	if Matches(id, rows) {
		return p, nil
	}
	for _, t := range Tables {
		d := Descriptor{Table: t, PhenotypeID: id}
		if Exists(t, rows) {
			p.Actions = append(p.Actions, Action{Kind: Drop, Descriptor: d})
		}
		p.Actions = append(p.Actions, Action{Kind: Add, Descriptor: d})
	}
	return p, nil
}

// Apply executes the plan's actions in order. The first failing action aborts
// the run; earlier actions are not undone.
func (r *Reconciler) Apply(ctx context.Context, p Plan) error {
	for _, a := range p.Actions {
		if r.DryRun {
			r.logger().Infow("dry run: skipping partition DDL", "action", a.String())
			continue
		}
		switch a.Kind {
		case Drop:
			if r.RequireEmpty {
				n, err := r.Catalog.PartitionRowCount(ctx, a.Descriptor.Table, a.Descriptor.PhenotypeID)
				if err != nil {
					return fmt.Errorf("count rows in %s: %w", a.Descriptor, err)
				}
				if n > 0 {
					return fmt.Errorf("drop %s: %w (%d rows)", a.Descriptor, ErrPartitionNotEmpty, n)
				}
			}
			r.logger().Infow("dropping partition", "table", a.Descriptor.Table, "partition", a.Descriptor.Name())
			if err := r.Catalog.DropPartition(ctx, a.Descriptor.Table, a.Descriptor.PhenotypeID); err != nil {
				return fmt.Errorf("drop %s: %w", a.Descriptor, err)
			}
		case Add:
			if err := r.Catalog.AddPartition(ctx, a.Descriptor); err != nil {
				return fmt.Errorf("add %s: %w", a.Descriptor, err)
			}
		default:
			return fmt.Errorf("unknown partition action %q", a.Kind)
		}
	}
	return nil
}

// Reconcile plans and applies for id, returning the plan that was applied.
func (r *Reconciler) Reconcile(ctx context.Context, id int64) (Plan, error) {
	p, err := r.Plan(ctx, id)
	if err != nil {
		return p, err
	}
	if !p.Required() {
		return p, nil
	}
	r.logger().Infow("(re)creating partitions", "phenotype_id", id, "existing_rows", len(p.Existing))
	return p, r.Apply(ctx, p)
}

func (r *Reconciler) logger() *zap.SugaredLogger {
	if r.Log == nil {
		return zap.NewNop().Sugar()
	}
	return r.Log
}
