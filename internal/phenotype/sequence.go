package phenotype

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// OrphanPolicy decides what happens to a record whose parent is not present
// anywhere in the input.
type OrphanPolicy string

const (
	// OrphanWarn logs the record and keeps it at its current position. The
	// resulting sequence violates parent-before-child for that record and
	// the hierarchy insert will fail if the store enforces the reference.
	OrphanWarn OrphanPolicy = "warn"
	// OrphanFail aborts sequencing with ErrMissingParent.
	OrphanFail OrphanPolicy = "fail"
	// OrphanDetach logs the record and clears its parent so it loads as a root.
	OrphanDetach OrphanPolicy = "detach"
)

// ParseOrphanPolicy validates s. The empty string maps to OrphanWarn.
func ParseOrphanPolicy(s string) (OrphanPolicy, error) {
	switch p := OrphanPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return OrphanWarn, nil
	case OrphanWarn, OrphanFail, OrphanDetach:
		return p, nil
	default:
		return "", fmt.Errorf("unknown orphan policy %q (want warn, fail or detach)", s)
	}
}

// Orphan is a record whose parent could not be found.
type Orphan struct {
	ID       int64
	ParentID int64
	Line     int
}

// Sequence is the ordered import sequence plus what the sequencer had to
// tolerate while building it.
type Sequence struct {
	Records []Record
	Orphans []Orphan
}

// Sequencer orders records so that every parent precedes its children.
type Sequencer struct {
	Policy OrphanPolicy
	Log    *zap.SugaredLogger
}

// Sequence builds the ordered import sequence.
//
// Records are taken in input order. A record whose parent has not been placed
// yet is deferred on an explicit stack until its ancestors are placed, so the
// output keeps input order wherever the hierarchy allows it. A node that is
// reached again while its own ancestors are being resolved closes a cycle and
// yields ErrCycle. Ids must be unique (see Dedup).
func (s *Sequencer) Sequence(recs []Record) (Sequence, error) {
	log := s.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	policy := s.Policy
	if policy == "" {
		policy = OrphanWarn
	}

	recs = append([]Record(nil), recs...)
	pool := make(map[int64]int, len(recs)) // id -> index in recs
	for i, r := range recs {
		pool[r.ID] = i
	}

	var (
		out       = make([]Record, 0, len(recs))
		orphans   []Orphan
		placed    = make(map[int64]int, len(recs)) // id -> index in out
		resolving = make(map[int64]bool)
		stack     []int // indexes into recs
	)

	place := func(i int) {
		placed[recs[i].ID] = len(out)
		out = append(out, recs[i])
	}

	for start := range recs {
		if _, ok := placed[recs[start].ID]; ok {
			continue
		}

		stack = append(stack[:0], start)
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			r := recs[top]

			if _, ok := placed[r.ID]; ok {
				delete(resolving, r.ID)
				stack = stack[:len(stack)-1]
				continue
			}

			if r.ParentID == nil {
				place(top)
				continue
			}
			pid := *r.ParentID
			if _, ok := placed[pid]; ok {
				place(top)
				continue
			}

			pi, inPool := pool[pid]
			if !inPool {
				switch policy {
				case OrphanFail:
					return Sequence{}, &LineError{Line: r.Line, Err: fmt.Errorf("%w: id %d references parent_id %d", ErrMissingParent, r.ID, pid)}
				case OrphanDetach:
					log.Warnw("parent not found, loading record as root", "id", r.ID, "parent_id", pid, "line", r.Line)
					recs[top].ParentID = nil
				default:
					log.Warnw("could not find all parents for record", "record", r.String(), "parent_id", pid, "line", r.Line)
				}
				orphans = append(orphans, Orphan{ID: r.ID, ParentID: pid, Line: r.Line})
				place(top)
				continue
			}

			if resolving[pid] || pid == r.ID {
				return Sequence{}, &LineError{Line: r.Line, Err: fmt.Errorf("%w: %s", ErrCycle, cyclePath(recs, stack, pid))}
			}
			resolving[r.ID] = true
			stack = append(stack, pi)
		}
	}

	return Sequence{Records: out, Orphans: orphans}, nil
}

// cyclePath renders the ids on the stack from the first occurrence of id up
// to the top, closed with id again: "1 -> 2 -> 3 -> 1".
func cyclePath(recs []Record, stack []int, id int64) string {
	from := 0
	for i, idx := range stack {
		if recs[idx].ID == id {
			from = i
			break
		}
	}
	parts := make([]string, 0, len(stack)-from+1)
	for _, idx := range stack[from:] {
		parts = append(parts, fmt.Sprint(recs[idx].ID))
	}
	parts = append(parts, fmt.Sprint(id))
	return strings.Join(parts, " -> ")
}

// Violations returns the records in seq whose parent exists in seq but is
// placed at the same or a later index. It is empty for every sequence built
// from a valid forest.
func Violations(seq []Record) []Record {
	pos := make(map[int64]int, len(seq))
	for i, r := range seq {
		pos[r.ID] = i
	}
	var bad []Record
	for i, r := range seq {
		if r.ParentID == nil {
			continue
		}
		if p, ok := pos[*r.ParentID]; ok && p >= i {
			bad = append(bad, r)
		}
	}
	return bad
}
