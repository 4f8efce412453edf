package normalize

import (
	"encoding/json"
	"fmt"

	"catalograph/internal/graph"
	"catalograph/internal/logger"
	"catalograph/internal/table"
)

// SchemaError reports a kind whose records lack a required column. It is
// fatal for that kind only.
type SchemaError struct {
	Kind   graph.Kind
	Column string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error: kind %s has no %q column", e.Kind, e.Column)
}

type Options struct {
	IdentifierPattern string
}

type Normalizer struct {
	cleaner *Cleaner
	log     *logger.Logger
}

func New(opts Options, log *logger.Logger) (*Normalizer, error) {
	c, err := NewCleaner(opts.IdentifierPattern)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Normalizer{cleaner: c, log: log}, nil
}

type Result struct {
	Table      *table.EntityTable
	Duplicates int
	MissingID  int
}

// Normalize projects, unwraps, fills defaults, cleans identifiers and
// deduplicates raw records of one kind.
func (n *Normalizer) Normalize(kind graph.Kind, name string, records []map[string]any) (*Result, error) {
	fields, ok := projections[kind]
	if !ok {
		return nil, &graph.ConfigurationError{Kinds: []string{string(kind)}, Reason: "no projection registered"}
	}

	rows := project(records, fields)
	if !hasColumn(rows, table.ColID) {
		return nil, &SchemaError{Kind: kind, Column: table.ColID}
	}
	unwrap(rows, unwraps[kind])
	applyNullPolicy(rows)
	for i, r := range rows {
		rows[i] = n.cleaner.Clean(r).(table.Row)
	}
	if kind == graph.KindInstitution {
		markLineageRoots(rows)
	}

	withID := rows[:0]
	missing := 0
	for _, r := range rows {
		if r.ID() == "" {
			missing++
			continue
		}
		withID = append(withID, r)
	}
	deduped, dups := table.DedupByID(withID)
	if missing > 0 || dups > 0 {
		n.log.Warn("normalize dropped rows", "kind", kind, "table", name, "missing_id", missing, "duplicates", dups)
	}
	return &Result{
		Table:      table.NewEntityTable(name, kind, deduped),
		Duplicates: dups,
		MissingID:  missing,
	}, nil
}

func project(records []map[string]any, fields []string) []table.Row {
	out := make([]table.Row, 0, len(records))
	for _, rec := range records {
		r := make(table.Row, len(fields))
		for _, f := range fields {
			if v, ok := rec[f]; ok {
				r[f] = decodeNumbers(v)
			}
		}
		out = append(out, r)
	}
	return out
}

func hasColumn(rows []table.Row, col string) bool {
	for _, r := range rows {
		if _, ok := r[col]; ok {
			return true
		}
	}
	return false
}

func unwrap(rows []table.Row, lifts []lift) {
	if len(lifts) == 0 {
		return
	}
	wrappers := map[string]struct{}{}
	for _, l := range lifts {
		wrappers[l.wrapper] = struct{}{}
	}
	for _, r := range rows {
		for _, l := range lifts {
			w, ok := r[l.wrapper]
			if !ok {
				continue
			}
			if l.each {
				vals := make([]any, 0)
				for _, item := range table.List(w) {
					if v := dig(item, l.path); v != nil {
						vals = append(vals, v)
					}
				}
				r[l.column] = vals
				continue
			}
			r[l.column] = dig(w, l.path)
		}
		for w := range wrappers {
			delete(r, w)
		}
	}
}

func dig(v any, path []string) any {
	cur := v
	for _, p := range path {
		rec := table.Record(cur)
		if rec == nil {
			return nil
		}
		cur = rec[p]
	}
	return cur
}

type colType int

const (
	colUnknown colType = iota
	colNumeric
	colString
	colOther
)

func applyNullPolicy(rows []table.Row) {
	types := map[string]colType{}
	for _, r := range rows {
		for k, v := range r {
			types[k] = merge(types[k], typeOf(v))
		}
	}
	for _, r := range rows {
		for col, t := range types {
			if v, ok := r[col]; ok && v != nil {
				continue
			}
			switch t {
			case colNumeric:
				r[col] = int64(0)
			case colString:
				r[col] = ""
			}
		}
	}
}

func typeOf(v any) colType {
	switch v.(type) {
	case nil:
		return colUnknown
	case int64, float64:
		return colNumeric
	case string:
		return colString
	default:
		return colOther
	}
}

func merge(a, b colType) colType {
	switch {
	case a == colUnknown:
		return b
	case b == colUnknown || a == b:
		return a
	default:
		return colOther
	}
}

// decodeNumbers turns json.Number leaves into int64 or float64.
func decodeNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		return f
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = decodeNumbers(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = decodeNumbers(item)
		}
		return out
	case int:
		return int64(x)
	default:
		return v
	}
}

// markLineageRoots flags institutions whose lineage is only themselves.
func markLineageRoots(rows []table.Row) {
	for _, r := range rows {
		lineage := table.List(r["lineage"])
		r["lineage_root"] = len(lineage) == 1 && table.String(lineage[0]) == r.ID()
	}
}
