// Package storage defines the store contract used by the phenotype importer
// and a small registry of backend factories.
//
// Backends live in subpackages (mysql, postgres, sqlite) and register
// themselves from init; import phenoload/internal/storage/all to enable every one of
// them. The importer only ever sees the Store interface, so tests can swap in
// a fake without touching global connection state.
package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"phenoload/internal/partition"
	"phenoload/internal/phenotype"
)

// ErrDuplicateKey marks a write rejected because the key already exists.
// Backends wrap their driver error with it so callers can use errors.Is.
var ErrDuplicateKey = errors.New("duplicate key")

// InsertMode selects how hierarchy rows are written.
type InsertMode string

const (
	// Insert fails on an existing id (primary-key conflict).
	Insert InsertMode = "insert"
	// Upsert overwrites the row with the same id.
	Upsert InsertMode = "upsert"
)

// ParseInsertMode validates s. The empty string maps to Insert.
func ParseInsertMode(s string) (InsertMode, error) {
	switch m := InsertMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return Insert, nil
	case Insert, Upsert:
		return m, nil
	default:
		return "", fmt.Errorf("unknown insert mode %q (want insert or upsert)", s)
	}
}

// Store is a single-writer handle to the relational store.
type Store interface {
	partition.Catalog

	// DropTables drops each named table if it exists, in order.
	DropTables(ctx context.Context, names []string) error
	// ApplyScript executes a multi-statement DDL script verbatim.
	ApplyScript(ctx context.Context, script string) error
	// InsertPhenotype writes one hierarchy row keyed by rec.ID.
	InsertPhenotype(ctx context.Context, rec phenotype.Record, mode InsertMode) error

	Close() error
}

// Config carries backend-agnostic connection and naming settings.
type Config struct {
	Kind string
	DSN  string

	// HierarchyTable is the phenotype hierarchy table (default "phenotype").
	HierarchyTable string
	// VariantTable and AggregateTable are the partitioned fact tables
	// (defaults "phenotype_variant" and "phenotype_aggregate").
	VariantTable   string
	AggregateTable string
}

// WithDefaults fills empty table names.
func (c Config) WithDefaults() Config {
	if c.HierarchyTable == "" {
		c.HierarchyTable = "phenotype"
	}
	if c.VariantTable == "" {
		c.VariantTable = "phenotype_variant"
	}
	if c.AggregateTable == "" {
		c.AggregateTable = "phenotype_aggregate"
	}
	return c
}

// TableName maps a logical fact table to its physical name.
func (c Config) TableName(t partition.Table) string {
	c = c.WithDefaults()
	switch t {
	case partition.Variant:
		return c.VariantTable
	case partition.Aggregate:
		return c.AggregateTable
	default:
		return string(t)
	}
}

// LogicalTable maps a physical fact table name back to its logical table. The
// comparison is case-insensitive because MySQL may report names in either case.
func (c Config) LogicalTable(name string) (partition.Table, bool) {
	for _, t := range partition.Tables {
		if strings.EqualFold(c.TableName(t), name) {
			return t, true
		}
	}
	return "", false
}

// Factory opens a Store for cfg.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the factory for kind.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// New opens a Store of cfg.Kind.
func New(ctx context.Context, cfg Config) (Store, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported store.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg.WithDefaults())
}

// ListKinds returns the registered kinds, sorted.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
