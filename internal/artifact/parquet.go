package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"catalograph/internal/table"
	"catalograph/internal/util"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/apache/arrow/go/v18/parquet"
	"github.com/apache/arrow/go/v18/parquet/compress"
	"github.com/apache/arrow/go/v18/parquet/pqarrow"
)

type colKind int

const (
	kUnknown colKind = iota
	kString
	kInt
	kFloat
	kBool
	kJSON
)

type column struct {
	name string
	kind colKind
	list bool
}

func scalarKind(v any) colKind {
	switch v.(type) {
	case string:
		return kString
	case int64, int:
		return kInt
	case float64:
		return kFloat
	case bool:
		return kBool
	default:
		return kJSON
	}
}

func mergeKind(a, b colKind) colKind {
	switch {
	case a == kUnknown:
		return b
	case b == kUnknown || a == b:
		return a
	case (a == kInt && b == kFloat) || (a == kFloat && b == kInt):
		return kFloat
	default:
		return kJSON
	}
}

// inferColumns derives one typed column per key. Scalars and lists of
// scalars map to native parquet types; anything else is stored as JSON text.
func inferColumns(rows []table.Row) []column {
	type acc struct {
		kind             colKind
		sawList, sawElse bool
	}
	accs := map[string]*acc{}
	for _, r := range rows {
		for k, v := range r {
			a, ok := accs[k]
			if !ok {
				a = &acc{}
				accs[k] = a
			}
			if v == nil {
				continue
			}
			if items, isList := v.([]any); isList {
				a.sawList = true
				for _, item := range items {
					if item == nil {
						continue
					}
					ek := scalarKind(item)
					a.kind = mergeKind(a.kind, ek)
				}
				continue
			}
			a.sawElse = true
			a.kind = mergeKind(a.kind, scalarKind(v))
		}
	}
	names := make([]string, 0, len(accs))
	for k := range accs {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		pi, pj := columnPriority(names[i]), columnPriority(names[j])
		if pi != pj {
			return pi < pj
		}
		return names[i] < names[j]
	})
	out := make([]column, 0, len(names))
	for _, n := range names {
		a := accs[n]
		c := column{name: n, kind: a.kind}
		switch {
		case a.sawList && a.sawElse:
			c.kind = kJSON
		case a.sawList:
			c.list = true
			if c.kind == kUnknown {
				c.kind = kString
			}
		case c.kind == kUnknown:
			c.kind = kString
		}
		out = append(out, c)
	}
	return out
}

func columnPriority(name string) int {
	switch name {
	case table.ColID, table.ColStartID:
		return 0
	case table.ColEndID:
		return 1
	default:
		return 2
	}
}

func arrowType(c column) arrow.DataType {
	var t arrow.DataType
	switch c.kind {
	case kInt:
		t = arrow.PrimitiveTypes.Int64
	case kFloat:
		t = arrow.PrimitiveTypes.Float64
	case kBool:
		t = arrow.FixedWidthTypes.Boolean
	default:
		t = arrow.BinaryTypes.String
	}
	if c.list && c.kind != kJSON {
		return arrow.ListOf(t)
	}
	return t
}

// WriteRows stores rows as a zstd-compressed parquet file, atomically.
// Empty inputs produce no file.
func WriteRows(path string, rows []table.Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	cols := inferColumns(rows)
	fields := make([]arrow.Field, len(cols))
	for i, c := range cols {
		fields[i] = arrow.Field{Name: c.name, Type: arrowType(c), Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	mem := memory.DefaultAllocator
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	for _, r := range rows {
		for i, c := range cols {
			if err := appendValue(b.Field(i), c, r[c.name]); err != nil {
				return 0, fmt.Errorf("column %s: %w", c.name, err)
			}
		}
	}
	rec := b.NewRecord()
	defer rec.Release()

	if err := util.EnsureDir(filepath.Dir(path)); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "tmp-*.parquet")
	if err != nil {
		return 0, fmt.Errorf("create temp parquet: %w", err)
	}
	defer os.Remove(tmp.Name())

	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Zstd))
	fw, err := pqarrow.NewFileWriter(schema, tmp, props, pqarrow.DefaultWriterProps())
	if err != nil {
		_ = tmp.Close()
		return 0, fmt.Errorf("parquet writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		_ = fw.Close()
		_ = tmp.Close()
		return 0, fmt.Errorf("write parquet: %w", err)
	}
	if err := fw.Close(); err != nil {
		_ = tmp.Close()
		return 0, fmt.Errorf("close parquet writer: %w", err)
	}
	if err := tmp.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return 0, fmt.Errorf("close temp parquet: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("rename temp parquet: %w", err)
	}
	return len(rows), nil
}

func appendValue(bld array.Builder, c column, v any) error {
	if v == nil {
		bld.AppendNull()
		return nil
	}
	if c.kind == kJSON {
		s, err := jsonAPI.MarshalToString(v)
		if err != nil {
			return err
		}
		bld.(*array.StringBuilder).Append(s)
		return nil
	}
	if c.list {
		lb := bld.(*array.ListBuilder)
		items := table.List(v)
		lb.Append(true)
		vb := lb.ValueBuilder()
		for _, item := range items {
			appendScalar(vb, c.kind, item)
		}
		return nil
	}
	appendScalar(bld, c.kind, v)
	return nil
}

func appendScalar(bld array.Builder, kind colKind, v any) {
	if v == nil {
		bld.AppendNull()
		return
	}
	switch kind {
	case kInt:
		n, _ := table.Int(v)
		bld.(*array.Int64Builder).Append(n)
	case kFloat:
		switch x := v.(type) {
		case float64:
			bld.(*array.Float64Builder).Append(x)
		default:
			n, _ := table.Int(v)
			bld.(*array.Float64Builder).Append(float64(n))
		}
	case kBool:
		x, _ := v.(bool)
		bld.(*array.BooleanBuilder).Append(x)
	default:
		bld.(*array.StringBuilder).Append(table.String(v))
	}
}

// ReadRows loads a parquet artifact. Null cells are omitted from the rows.
func ReadRows(ctx context.Context, path string) ([]table.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}
	defer f.Close()

	mem := memory.DefaultAllocator
	tbl, err := pqarrow.ReadTable(ctx, f, parquet.NewReaderProperties(mem), pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	defer tbl.Release()

	out := make([]table.Row, 0, tbl.NumRows())
	tr := array.NewTableReader(tbl, 64*1024)
	defer tr.Release()
	for tr.Next() {
		rec := tr.Record()
		schema := rec.Schema()
		n := int(rec.NumRows())
		base := len(out)
		for i := 0; i < n; i++ {
			out = append(out, make(table.Row, rec.NumCols()))
		}
		for c := 0; c < int(rec.NumCols()); c++ {
			name := schema.Field(c).Name
			col := rec.Column(c)
			for i := 0; i < n; i++ {
				if col.IsNull(i) {
					continue
				}
				out[base+i][name] = valueAt(col, i)
			}
		}
	}
	if err := tr.Err(); err != nil {
		return nil, fmt.Errorf("scan parquet %s: %w", path, err)
	}
	return out, nil
}

func valueAt(arr arrow.Array, i int) any {
	switch a := arr.(type) {
	case *array.String:
		return a.Value(i)
	case *array.LargeString:
		return a.Value(i)
	case *array.Int64:
		return a.Value(i)
	case *array.Int32:
		return int64(a.Value(i))
	case *array.Float64:
		return a.Value(i)
	case *array.Boolean:
		return a.Value(i)
	case *array.List:
		start, end := a.ValueOffsets(i)
		vals := a.ListValues()
		items := make([]any, 0, end-start)
		for j := int(start); j < int(end); j++ {
			if vals.IsNull(j) {
				items = append(items, nil)
				continue
			}
			items = append(items, valueAt(vals, j))
		}
		return items
	default:
		return arr.ValueStr(i)
	}
}
