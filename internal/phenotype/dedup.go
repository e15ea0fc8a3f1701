package phenotype

import (
	"fmt"
	"strconv"

	"github.com/zeebo/xxh3"
	"go.uber.org/zap"
)

// Fingerprint hashes the record's fields (excluding Line) so that two rows
// carrying the same values hash equal. Absent values encode as "\x00" and
// fields are separated by "\x1f".
func Fingerprint(r Record) uint64 {
	buf := make([]byte, 0, 128)
	buf = strconv.AppendInt(buf, r.ID, 10)
	buf = append(buf, '\x1f')
	if r.ParentID == nil {
		buf = append(buf, '\x00')
	} else {
		buf = strconv.AppendInt(buf, *r.ParentID, 10)
	}
	for _, s := range []*string{r.DisplayName, r.Name, r.Description, (*string)(r.Type), r.AgeName} {
		buf = append(buf, '\x1f')
		if s == nil {
			buf = append(buf, '\x00')
			continue
		}
		buf = append(buf, *s...)
	}
	return xxh3.Hash(buf)
}

// Dedup drops repeated records. A repeat with identical fields is dropped and
// logged; a repeat whose fields differ is an ErrDuplicateID LineError on the
// later line. Input order of the survivors is preserved.
func Dedup(recs []Record, log *zap.SugaredLogger) ([]Record, error) {
	type seen struct {
		line int
		hash uint64
	}
	first := make(map[int64]seen, len(recs))
	out := make([]Record, 0, len(recs))

	for _, r := range recs {
		h := Fingerprint(r)
		if prev, ok := first[r.ID]; ok {
			if prev.hash != h {
				return nil, &LineError{Line: r.Line, Err: fmt.Errorf("%w: id %d first seen on line %d", ErrDuplicateID, r.ID, prev.line)}
			}
			log.Warnw("dropping repeated record", "id", r.ID, "line", r.Line, "first_line", prev.line)
			continue
		}
		first[r.ID] = seen{line: r.Line, hash: h}
		out = append(out, r)
	}
	return out, nil
}
