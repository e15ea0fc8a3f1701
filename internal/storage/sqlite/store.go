// Package sqlite implements storage.Store on an embedded SQLite database
// (modernc.org/sqlite, pure Go) for rehearsals and hermetic tests.
//
// SQLite has no table partitioning, so partition metadata lives in a
// partition_catalog table with the strictness of a real catalog: adding a
// partition that exists or dropping one that does not is an error.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"phenoload/internal/partition"
	"phenoload/internal/phenotype"
	"phenoload/internal/storage"
)

// catalogDDL creates the emulated partition catalog.
const catalogDDL = `CREATE TABLE IF NOT EXISTS partition_catalog (
	table_name TEXT NOT NULL,
	partition_name TEXT NOT NULL,
	subpartition_name TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (table_name, partition_name, subpartition_name)
)`

// phenotypeColumn keys fact rows to a phenotype when counting partition rows.
const phenotypeColumn = "phenotype_id"

// Store is a SQLite-backed storage.Store. It holds a single connection so
// ":memory:" databases survive between calls.
type Store struct {
	db  *sql.DB
	cfg storage.Config
}

var _ storage.Store = (*Store)(nil)

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		return Open(ctx, cfg)
	})
}

// Open opens the database at cfg.DSN (a path, "file:" URI or ":memory:") and
// creates the partition catalog.
func Open(ctx context.Context, cfg storage.Config) (*Store, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, catalogDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create partition catalog: %w", err)
	}
	return &Store{db: db, cfg: cfg.WithDefaults()}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// DropTables drops each table if it exists and forgets its catalog entries.
func (s *Store) DropTables(ctx context.Context, names []string) error {
	for _, n := range names {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+ident(n)); err != nil {
			return fmt.Errorf("sqlite: drop table %s: %w", n, err)
		}
		if _, err := s.db.ExecContext(ctx, "DELETE FROM partition_catalog WHERE table_name = ?", n); err != nil {
			return fmt.Errorf("sqlite: clear catalog for %s: %w", n, err)
		}
	}
	return nil
}

// ApplyScript executes every statement in script.
func (s *Store) ApplyScript(ctx context.Context, script string) error {
	if strings.TrimSpace(script) == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("sqlite: apply script: %w", err)
	}
	return nil
}

// InsertPhenotype inserts (or upserts) one hierarchy row.
func (s *Store) InsertPhenotype(ctx context.Context, rec phenotype.Record, mode storage.InsertMode) error {
	if _, err := s.db.ExecContext(ctx, insertSQL(s.cfg.HierarchyTable, mode), rec.Values()...); err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("sqlite: insert phenotype %d: %w: %w", rec.ID, storage.ErrDuplicateKey, err)
		}
		return fmt.Errorf("sqlite: insert phenotype %d: %w", rec.ID, err)
	}
	return nil
}

func isDuplicate(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}

// PartitionRows lists catalog rows for id on both fact tables.
func (s *Store) PartitionRows(ctx context.Context, id int64) ([]partition.Row, error) {
	const q = `SELECT table_name, partition_name, subpartition_name
		FROM partition_catalog
		WHERE table_name IN (?, ?) AND partition_name = ?
		ORDER BY table_name, subpartition_name`
	rows, err := s.db.QueryContext(ctx, q,
		s.cfg.TableName(partition.Variant), s.cfg.TableName(partition.Aggregate), partition.PartitionName(id))
	if err != nil {
		return nil, fmt.Errorf("sqlite: query partitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []partition.Row
	for rows.Next() {
		var table, part, sub string
		if err := rows.Scan(&table, &part, &sub); err != nil {
			return nil, fmt.Errorf("sqlite: scan partition row: %w", err)
		}
		t, ok := s.cfg.LogicalTable(table)
		if !ok {
			continue
		}
		out = append(out, partition.Row{Table: t, Partition: part, Subpartition: sub})
	}
	return out, rows.Err()
}

// DropPartition removes the id's catalog entries for t and deletes the fact
// rows it held.
func (s *Store) DropPartition(ctx context.Context, t partition.Table, id int64) error {
	table := s.cfg.TableName(t)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "DELETE FROM partition_catalog WHERE table_name = ? AND partition_name = ?",
		table, partition.PartitionName(id))
	if err != nil {
		return fmt.Errorf("sqlite: drop partition %d on %s: %w", id, table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: partition %d does not exist on %s", id, table)
	}
	ok, err := tableExists(ctx, tx, table)
	if err != nil {
		return err
	}
	if ok {
		q := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", ident(table), ident(phenotypeColumn))
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("sqlite: truncate partition %d on %s: %w", id, table, err)
		}
	}
	return tx.Commit()
}

// AddPartition records the partition and its three sub-partitions.
func (s *Store) AddPartition(ctx context.Context, d partition.Descriptor) error {
	table := s.cfg.TableName(d.Table)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM partition_catalog WHERE table_name = ? AND partition_name = ?",
		table, d.Name()).Scan(&n); err != nil {
		return fmt.Errorf("sqlite: check partition %s: %w", d, err)
	}
	if n > 0 {
		return fmt.Errorf("sqlite: duplicate partition name %s on %s", d.Name(), table)
	}
	for _, sub := range d.Subpartitions() {
		if _, err := tx.ExecContext(ctx, "INSERT INTO partition_catalog (table_name, partition_name, subpartition_name) VALUES (?, ?, ?)",
			table, d.Name(), sub); err != nil {
			return fmt.Errorf("sqlite: add partition %s: %w", d, err)
		}
	}
	return tx.Commit()
}

// PartitionRowCount counts fact rows for id in t. A fact table the schema did
// not create holds no rows.
func (s *Store) PartitionRowCount(ctx context.Context, t partition.Table, id int64) (int64, error) {
	table := s.cfg.TableName(t)
	ok, err := tableExists(ctx, s.db, table)
	if err != nil || !ok {
		return 0, err
	}
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", ident(table), ident(phenotypeColumn))
	var n int64
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count partition rows: %w", err)
	}
	return n, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func tableExists(ctx context.Context, q queryRower, table string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n); err != nil {
		return false, fmt.Errorf("sqlite: lookup table %s: %w", table, err)
	}
	return n > 0, nil
}

func insertSQL(table string, mode storage.InsertMode) string {
	cols := make([]string, len(phenotype.Columns))
	marks := make([]string, len(phenotype.Columns))
	for i, c := range phenotype.Columns {
		cols[i] = ident(c)
		marks[i] = "?"
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", ident(table), strings.Join(cols, ", "), strings.Join(marks, ", "))
	if mode == storage.Upsert {
		sets := make([]string, 0, len(cols)-1)
		for _, c := range cols[1:] {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
		q += fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", cols[0], strings.Join(sets, ", "))
	}
	return q
}

func ident(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }
