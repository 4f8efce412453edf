package artifact

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"catalograph/internal/graph"
	"catalograph/internal/util"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var jsonAPI = jsoniter.Config{UseNumber: true}.Froze()

// Source is one raw input directory.
type Source struct {
	Kind graph.Kind `json:"kind"`
	Dir  string     `json:"dir"`
}

// DiscoverSources lists the raw input directories under root. Hidden entries
// are ignored; any other unknown directory is a configuration error.
func DiscoverSources(root string) ([]Source, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read input root: %w", err)
	}
	out := make([]Source, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(root, e.Name())
		k, err := InferSourceDir(dir)
		if err != nil {
			return nil, err
		}
		out = append(out, Source{Kind: k, Dir: dir})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

func isRawFile(name string) bool {
	name = strings.TrimSuffix(strings.TrimSuffix(name, ".zst"), ".gz")
	return strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".jsonl") || strings.HasSuffix(name, ".ndjson")
}

// ReadRawDir decodes every record file in dir, in name order.
func ReadRawDir(ctx context.Context, dir string) ([]map[string]any, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read raw dir: %w", err)
	}
	var out []map[string]any
	files := 0
	for _, e := range entries {
		if e.IsDir() || !isRawFile(e.Name()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		files++
		recs, err := ReadRawFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	if files == 0 {
		return nil, fmt.Errorf("%s: %w", dir, util.ErrNoInputFiles)
	}
	return out, nil
}

// ReadRawFile decodes a stream of JSON values. Each value may be a page
// object holding a results array, an array of records or a single record.
func ReadRawFile(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raw file: %w", err)
	}
	defer f.Close()

	var r io.Reader = bufio.NewReaderSize(f, 1<<20)
	switch {
	case strings.HasSuffix(path, ".zst"):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd reader %s: %w", path, err)
		}
		defer zr.Close()
		r = zr
	case strings.HasSuffix(path, ".gz"):
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip reader %s: %w", path, err)
		}
		defer gr.Close()
		r = gr
	}

	dec := jsonAPI.NewDecoder(r)
	var out []map[string]any
	for dec.More() {
		var v any
		err := dec.Decode(&v)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		out = appendRecords(out, v)
	}
	return out, nil
}

func appendRecords(out []map[string]any, v any) []map[string]any {
	switch x := v.(type) {
	case map[string]any:
		if results, ok := x["results"].([]any); ok {
			return appendRecords(out, results)
		}
		return append(out, x)
	case []any:
		for _, item := range x {
			if rec, ok := item.(map[string]any); ok {
				out = append(out, rec)
			}
		}
	}
	return out
}
