package importer

import (
	"context"
	"fmt"
	"strings"

	"phenoload/internal/partition"
	"phenoload/internal/phenotype"
	"phenoload/internal/storage"
)

// fakeStore is an in-memory storage.Store. Partition DDL is as strict as
// MySQL's: adding an existing partition or dropping a missing one fails.
type fakeStore struct {
	parts  map[partition.Table]map[string][]string
	rows   map[int64]phenotype.Record
	calls  []string
	closed bool
}

var _ storage.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		parts: map[partition.Table]map[string][]string{partition.Variant: {}, partition.Aggregate: {}},
		rows:  map[int64]phenotype.Record{},
	}
}

func (f *fakeStore) DropTables(_ context.Context, names []string) error {
	f.calls = append(f.calls, "drop tables "+strings.Join(names, ","))
	return nil
}

func (f *fakeStore) ApplyScript(_ context.Context, script string) error {
	f.calls = append(f.calls, "script "+strings.TrimSpace(script))
	return nil
}

func (f *fakeStore) InsertPhenotype(_ context.Context, rec phenotype.Record, mode storage.InsertMode) error {
	f.calls = append(f.calls, fmt.Sprintf("insert %d", rec.ID))
	if _, ok := f.rows[rec.ID]; ok && mode != storage.Upsert {
		return fmt.Errorf("fake: insert %d: %w", rec.ID, storage.ErrDuplicateKey)
	}
	f.rows[rec.ID] = rec
	return nil
}

func (f *fakeStore) PartitionRows(_ context.Context, id int64) ([]partition.Row, error) {
	f.calls = append(f.calls, fmt.Sprintf("rows %d", id))
	var out []partition.Row
	for _, t := range partition.Tables {
		subs, ok := f.parts[t][partition.PartitionName(id)]
		if !ok {
			continue
		}
		for _, s := range subs {
			out = append(out, partition.Row{Table: t, Partition: partition.PartitionName(id), Subpartition: s})
		}
	}
	return out, nil
}

func (f *fakeStore) DropPartition(_ context.Context, t partition.Table, id int64) error {
	f.calls = append(f.calls, fmt.Sprintf("drop %s/%d", t, id))
	if _, ok := f.parts[t][partition.PartitionName(id)]; !ok {
		return fmt.Errorf("partition %d does not exist on %s", id, t)
	}
	delete(f.parts[t], partition.PartitionName(id))
	return nil
}

func (f *fakeStore) AddPartition(_ context.Context, d partition.Descriptor) error {
	f.calls = append(f.calls, fmt.Sprintf("add %s/%d", d.Table, d.PhenotypeID))
	if _, ok := f.parts[d.Table][d.Name()]; ok {
		return fmt.Errorf("duplicate partition name %s on %s", d.Name(), d.Table)
	}
	f.parts[d.Table][d.Name()] = d.Subpartitions()
	return nil
}

func (f *fakeStore) PartitionRowCount(context.Context, partition.Table, int64) (int64, error) {
	return 0, nil
}

func (f *fakeStore) Close() error {
	f.closed = true
	return nil
}

// inserts returns the ids passed to InsertPhenotype, in order.
func (f *fakeStore) inserts() []int64 {
	var out []int64
	for _, c := range f.calls {
		var id int64
		if _, err := fmt.Sscanf(c, "insert %d", &id); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// ddl returns the partition DDL calls, in order.
func (f *fakeStore) ddl() []string {
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, "add ") || strings.HasPrefix(c, "drop ") && !strings.HasPrefix(c, "drop tables") {
			out = append(out, c)
		}
	}
	return out
}

// consistent reports whether every id has the full layout on both tables.
func (f *fakeStore) consistent(ids ...int64) bool {
	for _, id := range ids {
		rows, _ := f.PartitionRows(context.Background(), id)
		if !partition.Matches(id, rows) {
			return false
		}
	}
	return true
}
