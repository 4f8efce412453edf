package table

import (
	"errors"
	"fmt"
	"strconv"
)

var ErrDuplicateID = errors.New("duplicate id")

// Exploded is one element of a list column paired with the row it came from.
type Exploded struct {
	Parent Row
	Index  int
	Value  any
}

// Explode yields one entry per element of the list column col. Rows whose
// value is nil or not a list contribute nothing.
func Explode(rows []Row, col string) []Exploded {
	out := make([]Exploded, 0, len(rows))
	for _, r := range rows {
		items := List(r[col])
		for i, v := range items {
			out = append(out, Exploded{Parent: r, Index: i, Value: v})
		}
	}
	return out
}

// DedupByID keeps the first row for each id and drops rows without one.
// It returns the kept rows and the number dropped.
func DedupByID(rows []Row) ([]Row, int) {
	seen := make(map[string]struct{}, len(rows))
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		id := r.ID()
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, r)
	}
	return out, len(rows) - len(out)
}

// CheckUnique fails when two rows share an id.
func CheckUnique(t *EntityTable) error {
	seen := make(map[string]struct{}, len(t.Rows))
	for _, r := range t.Rows {
		id := r.ID()
		if _, ok := seen[id]; ok {
			return fmt.Errorf("table %s: %w %q", t.Name, ErrDuplicateID, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func String(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}

func List(v any) []any {
	switch x := v.(type) {
	case []any:
		return x
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	default:
		return nil
	}
}

func Record(v any) map[string]any {
	switch x := v.(type) {
	case map[string]any:
		return x
	case Row:
		return x
	default:
		return nil
	}
}

// Int converts numeric values to int64.
func Int(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), x == float64(int64(x))
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Pick copies the named fields of rec that are present and non-nil.
func Pick(rec map[string]any, fields ...string) Row {
	out := make(Row, len(fields))
	for _, f := range fields {
		if v, ok := rec[f]; ok && v != nil {
			out[f] = v
		}
	}
	return out
}
