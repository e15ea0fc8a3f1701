// Package postgres implements storage.Store on Postgres using pgx v5.
//
// Postgres has no sub-partition clause, so the layout is modelled with nested
// declarative partitions: each fact table is PARTITION BY LIST (phenotype_id),
// every child "{table}_{id}" is itself PARTITION BY LIST (sex), and its leaves
// are "{table}_{id}_{sex}". Metadata comes from pg_inherits and is reported in
// the same shape MySQL uses ("{id}", "{id}_{sex}").
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"phenoload/internal/partition"
	"phenoload/internal/phenotype"
	"phenoload/internal/storage"
)

// sexColumn is the list key of the second partition level.
const sexColumn = "sex"

// uniqueViolation is SQLSTATE unique_violation.
const uniqueViolation = "23505"

// pgConnLike is the subset of *pgx.Conn the store uses.
type pgConnLike interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close(ctx context.Context) error
}

// Store is a Postgres-backed storage.Store on a single connection.
type Store struct {
	conn pgConnLike
	cfg  storage.Config
}

var _ storage.Store = (*Store)(nil)

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		return Open(ctx, cfg)
	})
}

// Open connects with pgx.Connect. Callers must Close the store.
func Open(ctx context.Context, cfg storage.Config) (*Store, error) {
	c, err := pgx.Connect(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return &Store{conn: c, cfg: cfg.WithDefaults()}, nil
}

// Close closes the connection.
func (s *Store) Close() error { return s.conn.Close(context.Background()) }

// DropTables drops each table if it exists.
func (s *Store) DropTables(ctx context.Context, names []string) error {
	for _, n := range names {
		if _, err := s.conn.Exec(ctx, "DROP TABLE IF EXISTS "+splitFQN(n).Sanitize()); err != nil {
			return fmt.Errorf("postgres: drop table %s: %w", n, err)
		}
	}
	return nil
}

// ApplyScript runs script through the simple protocol, which accepts several
// statements per call.
func (s *Store) ApplyScript(ctx context.Context, script string) error {
	if strings.TrimSpace(script) == "" {
		return nil
	}
	if _, err := s.conn.Exec(ctx, script); err != nil {
		return fmt.Errorf("postgres: apply script: %w", err)
	}
	return nil
}

// InsertPhenotype inserts (or upserts) one hierarchy row.
func (s *Store) InsertPhenotype(ctx context.Context, rec phenotype.Record, mode storage.InsertMode) error {
	if _, err := s.conn.Exec(ctx, insertSQL(s.cfg.HierarchyTable, mode), rec.Values()...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("postgres: insert phenotype %d: %w: %w", rec.ID, storage.ErrDuplicateKey, err)
		}
		return fmt.Errorf("postgres: insert phenotype %d: %w", rec.ID, err)
	}
	return nil
}

const partitionsQuery = `SELECT parent.relname, child.relname, leaf.relname
	FROM pg_inherits i
	JOIN pg_class parent ON parent.oid = i.inhparent
	JOIN pg_class child ON child.oid = i.inhrelid
	JOIN pg_namespace ns ON ns.oid = parent.relnamespace
	LEFT JOIN pg_inherits li ON li.inhparent = child.oid
	LEFT JOIN pg_class leaf ON leaf.oid = li.inhrelid
	WHERE ns.nspname = current_schema()
	  AND parent.relname = ANY($1)
	  AND child.relname = parent.relname || '_' || $2`

// PartitionRows lists the id's child and leaf partitions on both fact tables.
func (s *Store) PartitionRows(ctx context.Context, id int64) ([]partition.Row, error) {
	tables := []string{s.cfg.TableName(partition.Variant), s.cfg.TableName(partition.Aggregate)}
	rows, err := s.conn.Query(ctx, partitionsQuery, tables, partition.PartitionName(id))
	if err != nil {
		return nil, fmt.Errorf("postgres: query partitions: %w", err)
	}
	defer rows.Close()

	var out []partition.Row
	for rows.Next() {
		var parent, child string
		var leaf *string
		if err := rows.Scan(&parent, &child, &leaf); err != nil {
			return nil, fmt.Errorf("postgres: scan partition row: %w", err)
		}
		if r, ok := s.logicalRow(parent, child, leaf); ok {
			out = append(out, r)
		}
	}
	return out, rows.Err()
}

// logicalRow strips the physical table prefix from relation names.
func (s *Store) logicalRow(parent, child string, leaf *string) (partition.Row, bool) {
	t, ok := s.cfg.LogicalTable(parent)
	if !ok {
		return partition.Row{}, false
	}
	prefix := parent + "_"
	r := partition.Row{Table: t, Partition: strings.TrimPrefix(child, prefix)}
	if leaf != nil {
		r.Subpartition = strings.TrimPrefix(*leaf, prefix)
	}
	return r, true
}

// DropPartition drops the id's child table; its leaves go with it.
func (s *Store) DropPartition(ctx context.Context, t partition.Table, id int64) error {
	q := "DROP TABLE " + pgx.Identifier{childName(s.cfg.TableName(t), partition.PartitionName(id))}.Sanitize()
	if _, err := s.conn.Exec(ctx, q); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	return nil
}

// AddPartition creates the child and its three leaves in one implicit
// transaction.
func (s *Store) AddPartition(ctx context.Context, d partition.Descriptor) error {
	if _, err := s.conn.Exec(ctx, addPartitionSQL(s.cfg.TableName(d.Table), d)); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	return nil
}

// PartitionRowCount counts rows in the id's child table.
func (s *Store) PartitionRowCount(ctx context.Context, t partition.Table, id int64) (int64, error) {
	q := "SELECT count(*) FROM " + pgx.Identifier{childName(s.cfg.TableName(t), partition.PartitionName(id))}.Sanitize()
	var n int64
	if err := s.conn.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count partition rows: %w", err)
	}
	return n, nil
}

func childName(table, name string) string { return table + "_" + name }

func addPartitionSQL(table string, d partition.Descriptor) string {
	child := childName(table, d.Name())
	stmts := []string{fmt.Sprintf("CREATE TABLE %s PARTITION OF %s FOR VALUES IN (%d) PARTITION BY LIST (%s)",
		pgx.Identifier{child}.Sanitize(), pgx.Identifier{table}.Sanitize(), d.PhenotypeID, pgx.Identifier{sexColumn}.Sanitize())}
	for i, sub := range d.Subpartitions() {
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE %s PARTITION OF %s FOR VALUES IN ('%s')",
			pgx.Identifier{childName(table, sub)}.Sanitize(), pgx.Identifier{child}.Sanitize(), partition.Sexes[i]))
	}
	return strings.Join(stmts, ";\n")
}

func insertSQL(table string, mode storage.InsertMode) string {
	cols := make([]string, len(phenotype.Columns))
	marks := make([]string, len(phenotype.Columns))
	for i, c := range phenotype.Columns {
		cols[i] = pgx.Identifier{c}.Sanitize()
		marks[i] = fmt.Sprintf("$%d", i+1)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		splitFQN(table).Sanitize(), strings.Join(cols, ", "), strings.Join(marks, ", "))
	if mode == storage.Upsert {
		q += fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", cols[0], strings.Join(updateColumns(cols[1:]), ", "))
	}
	return q
}

// updateColumns renders "col = EXCLUDED.col" for already quoted columns.
func updateColumns(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = fmt.Sprintf("%s = EXCLUDED.%s", c, c)
	}
	return out
}

// splitFQN converts "schema.table" into a pgx.Identifier {"schema","table"}.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			id = append(id, p)
		}
	}
	return id
}
