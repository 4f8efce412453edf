package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteJSONAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs", "r1.json")
	if err := WriteJSONAtomic(path, map[string]int{"rows": 3}); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(b), `"rows": 3`) {
		t.Fatalf("unexpected content %q", b)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("expected temp files to be gone, found %d entries", len(entries))
	}
}

func TestWriteJSONLinesAtomic(t *testing.T) {
	type row struct {
		Kind string `json:"kind"`
	}
	path := filepath.Join(t.TempDir(), "out.jsonl")
	if err := WriteJSONLinesAtomic(path, []row{{"work"}, {"author"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 2 || lines[1] != `{"kind":"author"}` {
		t.Fatalf("unexpected lines %q", lines)
	}
	if err := WriteJSONLinesAtomic[row](path, nil); err != nil {
		t.Fatalf("write empty: %v", err)
	}
	if st, _ := os.Stat(path); st.Size() != 0 {
		t.Fatalf("expected empty file, got %d bytes", st.Size())
	}
}
