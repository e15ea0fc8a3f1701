package phenotype

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Rule rewrites a trimmed field value. A nil Replacement means "absent".
type Rule struct {
	Pattern     *regexp.Regexp
	Replacement *string
}

// Apply returns the rewritten value and whether the rule matched.
func (r Rule) Apply(v string) (*string, bool) {
	if !r.Pattern.MatchString(v) {
		return nil, false
	}
	return r.Replacement, true
}

// NullRules turn NULL sentinels and empty strings into absent values. They run
// against every field after trimming.
var NullRules = []Rule{
	{Pattern: regexp.MustCompile(`(?i)^NULL$`)},
	{Pattern: regexp.MustCompile(`^$`)},
}

// TypeRules rewrite type aliases. Values that match no rule pass through.
var TypeRules = []Rule{
	{Pattern: regexp.MustCompile(`^ordinal$`), Replacement: ptr(string(TypeCategorical))},
}

// Normalizer converts raw positional rows into Records.
//
// The zero value is not usable; use NewNormalizer for the default rule set.
type Normalizer struct {
	Null  []Rule
	Types []Rule
}

// NewNormalizer returns a Normalizer with NullRules and TypeRules.
func NewNormalizer() *Normalizer {
	return &Normalizer{Null: NullRules, Types: TypeRules}
}

// Normalize converts one raw row. line is used for error reporting only.
//
// A non-numeric id or parent_id is returned as a *LineError wrapping
// ErrInvalidID / ErrInvalidParentID.
func (n *Normalizer) Normalize(line int, row []string) (Record, error) {
	if len(row) != len(Columns) {
		return Record{}, &LineError{Line: line, Err: fmt.Errorf("%w: got %d, want %d", ErrFieldCount, len(row), len(Columns))}
	}

	vals := make([]*string, len(row))
	for i, raw := range row {
		vals[i] = applyRules(n.Null, strings.TrimSpace(raw))
	}

	rec := Record{Line: line}

	if vals[colID] == nil {
		return Record{}, &LineError{Line: line, Err: fmt.Errorf("%w: missing", ErrInvalidID)}
	}
	id, err := strconv.ParseInt(*vals[colID], 10, 64)
	if err != nil {
		return Record{}, &LineError{Line: line, Err: fmt.Errorf("%w: %q", ErrInvalidID, *vals[colID])}
	}
	rec.ID = id

	if vals[colParentID] != nil {
		p, err := strconv.ParseInt(*vals[colParentID], 10, 64)
		if err != nil {
			return Record{}, &LineError{Line: line, Err: fmt.Errorf("%w: %q", ErrInvalidParentID, *vals[colParentID])}
		}
		rec.ParentID = &p
	}

	rec.DisplayName = vals[colDisplayName]
	rec.Name = vals[colName]
	rec.Description = vals[colDescription]
	rec.AgeName = vals[colAgeName]

	if t := vals[colType]; t != nil {
		t = applyRules(n.Types, *t)
		if t != nil {
			typ := Type(*t)
			rec.Type = &typ
		}
	}

	return rec, nil
}

// applyRules returns the replacement of the first matching rule, or v itself
// when nothing matches.
func applyRules(rules []Rule, v string) *string {
	for _, r := range rules {
		if repl, ok := r.Apply(v); ok {
			return repl
		}
	}
	return &v
}
