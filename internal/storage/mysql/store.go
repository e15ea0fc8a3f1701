// Package mysql implements storage.Store on MySQL using go-sql-driver/mysql.
//
// Fact tables are expected to be LIST partitioned by phenotype id with each
// partition SUBPARTITIONed into all/female/male; partition metadata is read
// from INFORMATION_SCHEMA.PARTITIONS of the connected database.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"phenoload/internal/partition"
	"phenoload/internal/phenotype"
	"phenoload/internal/storage"
)

// Store is a MySQL-backed storage.Store. It holds a single connection.
type Store struct {
	db  *sql.DB
	cfg storage.Config
}

var _ storage.Store = (*Store)(nil)

func init() {
	storage.Register("mysql", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		return Open(ctx, cfg)
	})
}

// NormalizeDSN parses dsn and forces the options this loader depends on:
// multi-statement scripts and server-side parsing of DATETIME values.
func NormalizeDSN(dsn string) (string, error) {
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("mysql dsn: %w", err)
	}
	mc.MultiStatements = true
	mc.ParseTime = true
	return mc.FormatDSN(), nil
}

// BuildDSN assembles a DSN from discrete connection settings.
func BuildDSN(host, port, user, password, dbName string) string {
	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = host
	if port != "" {
		mc.Addr = host + ":" + port
	}
	mc.User = user
	mc.Passwd = password
	mc.DBName = dbName
	mc.MultiStatements = true
	mc.ParseTime = true
	return mc.FormatDSN()
}

// Open connects and pings the server.
func Open(ctx context.Context, cfg storage.Config) (*Store, error) {
	dsn, err := NormalizeDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}
	return &Store{db: db, cfg: cfg.WithDefaults()}, nil
}

// Close closes the connection.
func (s *Store) Close() error { return s.db.Close() }

// DropTables drops each table if it exists.
func (s *Store) DropTables(ctx context.Context, names []string) error {
	for _, n := range names {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+ident(n)); err != nil {
			return fmt.Errorf("mysql: drop table %s: %w", n, err)
		}
	}
	return nil
}

// ApplyScript executes script as one multi-statement batch.
func (s *Store) ApplyScript(ctx context.Context, script string) error {
	if strings.TrimSpace(script) == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("mysql: apply script: %w", err)
	}
	return nil
}

// InsertPhenotype inserts (or upserts) one hierarchy row.
func (s *Store) InsertPhenotype(ctx context.Context, rec phenotype.Record, mode storage.InsertMode) error {
	if _, err := s.db.ExecContext(ctx, insertSQL(s.cfg.HierarchyTable, mode), rec.Values()...); err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("mysql: insert phenotype %d: %w: %w", rec.ID, storage.ErrDuplicateKey, err)
		}
		return fmt.Errorf("mysql: insert phenotype %d: %w", rec.ID, err)
	}
	return nil
}

// erDupEntry is MySQL's ER_DUP_ENTRY.
const erDupEntry = 1062

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == erDupEntry
}

// PartitionRows lists partition/sub-partition rows named after id on both
// fact tables.
func (s *Store) PartitionRows(ctx context.Context, id int64) ([]partition.Row, error) {
	const q = `SELECT TABLE_NAME, PARTITION_NAME, SUBPARTITION_NAME
		FROM INFORMATION_SCHEMA.PARTITIONS
		WHERE TABLE_SCHEMA = DATABASE()
		  AND TABLE_NAME IN (?, ?)
		  AND PARTITION_NAME = ?`
	rows, err := s.db.QueryContext(ctx, q,
		s.cfg.TableName(partition.Variant), s.cfg.TableName(partition.Aggregate), partition.PartitionName(id))
	if err != nil {
		return nil, fmt.Errorf("mysql: query partitions: %w", err)
	}
	defer rows.Close()

	var out []partition.Row
	for rows.Next() {
		var table, part string
		var sub sql.NullString
		if err := rows.Scan(&table, &part, &sub); err != nil {
			return nil, fmt.Errorf("mysql: scan partition row: %w", err)
		}
		t, ok := s.cfg.LogicalTable(table)
		if !ok {
			continue
		}
		out = append(out, partition.Row{Table: t, Partition: part, Subpartition: sub.String})
	}
	return out, rows.Err()
}

// DropPartition drops the id's partition (and its sub-partitions) from t.
func (s *Store) DropPartition(ctx context.Context, t partition.Table, id int64) error {
	q := fmt.Sprintf("ALTER TABLE %s DROP PARTITION %s", ident(s.cfg.TableName(t)), ident(partition.PartitionName(id)))
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("mysql: %w", err)
	}
	return nil
}

// AddPartition adds the id's partition with its three sub-partitions.
func (s *Store) AddPartition(ctx context.Context, d partition.Descriptor) error {
	if _, err := s.db.ExecContext(ctx, addPartitionSQL(s.cfg.TableName(d.Table), d)); err != nil {
		return fmt.Errorf("mysql: %w", err)
	}
	return nil
}

// PartitionRowCount counts the rows stored in the id's partition of t.
func (s *Store) PartitionRowCount(ctx context.Context, t partition.Table, id int64) (int64, error) {
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s PARTITION (%s)", ident(s.cfg.TableName(t)), ident(partition.PartitionName(id)))
	var n int64
	if err := s.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("mysql: count partition rows: %w", err)
	}
	return n, nil
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
			sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", c, c))
		}
		q += " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}
	return q
}

func addPartitionSQL(table string, d partition.Descriptor) string {
	subs := d.Subpartitions()
	parts := make([]string, len(subs))
	for i, s := range subs {
		parts[i] = "SUBPARTITION " + ident(s)
	}
	return fmt.Sprintf("ALTER TABLE %s ADD PARTITION (PARTITION %s VALUES IN (%d) (%s))",
		ident(table), ident(d.Name()), d.PhenotypeID, strings.Join(parts, ", "))
}

// ident quotes a MySQL identifier with backticks, escaping embedded ones.
func ident(id string) string { return "`" + strings.ReplaceAll(id, "`", "``") + "`" }
