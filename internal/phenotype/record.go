// Package phenotype holds the in-memory model of the phenotype ontology and
// the pure stages that prepare it for loading: row normalization, duplicate
// detection, parent-before-child sequencing and fixture injection.
//
// Nothing in this package touches the store; every function is deterministic
// for a given input so it can be tested without a database.
package phenotype

import (
	"errors"
	"fmt"
)

// Type is the phenotype measurement type.
type Type string

const (
	TypeBinary      Type = "binary"
	TypeCategorical Type = "categorical"
	TypeContinuous  Type = "continuous"
)

// Columns is the fixed positional layout of the input file.
var Columns = []string{"id", "parent_id", "display_name", "name", "description", "type", "age_name"}

// Field positions inside a raw row.
const (
	colID = iota
	colParentID
	colDisplayName
	colName
	colDescription
	colType
	colAgeName
)

// Sentinel errors for input problems. All of them are fatal for a run.
var (
	ErrFieldCount      = errors.New("unexpected number of fields")
	ErrInvalidID       = errors.New("invalid id")
	ErrInvalidParentID = errors.New("invalid parent_id")
	ErrDuplicateID     = errors.New("duplicate id with conflicting fields")
	ErrCycle           = errors.New("parent cycle")
	ErrMissingParent   = errors.New("parent not found")
)

// LineError ties an input error to the 1-based line of the input file.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

func (e *LineError) Unwrap() error { return e.Err }

// Record is one node of the phenotype forest. Pointer fields are nil when the
// input value was absent (empty or a NULL sentinel).
type Record struct {
	ID          int64
	ParentID    *int64
	DisplayName *string
	Name        *string
	Description *string
	Type        *Type
	AgeName     *string

	// Line is the input line the record came from; 0 for synthetic nodes.
	Line int
}

// IsRoot reports whether the record has no parent.
func (r Record) IsRoot() bool { return r.ParentID == nil }

// String renders the record the way log lines refer to it: id:name:display_name.
func (r Record) String() string {
	return fmt.Sprintf("%d:%s:%s", r.ID, deref(r.Name), deref(r.DisplayName))
}

// Values returns the hierarchy-table column values in Columns order, with
// absent fields as nil so drivers bind SQL NULL.
func (r Record) Values() []any {
	out := make([]any, len(Columns))
	out[colID] = r.ID
	if r.ParentID != nil {
		out[colParentID] = *r.ParentID
	}
	out[colDisplayName] = nullable(r.DisplayName)
	out[colName] = nullable(r.Name)
	out[colDescription] = nullable(r.Description)
	if r.Type != nil {
		out[colType] = string(*r.Type)
	}
	out[colAgeName] = nullable(r.AgeName)
	return out
}

// MaxID returns the largest id in recs, or 0 when recs is empty.
func MaxID(recs []Record) int64 {
	var m int64
	for _, r := range recs {
		if r.ID > m {
			m = r.ID
		}
	}
	return m
}

// IDs returns the ids of recs in order.
func IDs(recs []Record) []int64 {
	out := make([]int64, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func deref(s *string) string {
	if s == nil {
		return "NULL"
	}
	return *s
}

func ptr[T any](v T) *T { return &v }
