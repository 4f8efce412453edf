package normalize

import (
	"fmt"
	"path"
	"regexp"

	"catalograph/internal/table"
)

// DefaultIdentifierPattern matches canonical catalog URIs. The first capture
// group, when present, is the identifier kept.
const DefaultIdentifierPattern = `^https?://(?:api\.)?openalex\.org/(?:[^/]+/)*([^/?#]+)$`

// Cleaner rewrites canonical URIs to their trailing path segment anywhere in
// a value tree.
type Cleaner struct {
	re *regexp.Regexp
}

func NewCleaner(pattern string) (*Cleaner, error) {
	if pattern == "" {
		pattern = DefaultIdentifierPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile identifier pattern: %w", err)
	}
	return &Cleaner{re: re}, nil
}

func (c *Cleaner) Clean(v any) any {
	switch x := v.(type) {
	case string:
		return c.cleanString(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = c.Clean(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = c.Clean(item)
		}
		return out
	case table.Row:
		out := make(table.Row, len(x))
		for k, item := range x {
			out[k] = c.Clean(item)
		}
		return out
	default:
		return v
	}
}

func (c *Cleaner) cleanString(s string) string {
	m := c.re.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	if len(m) > 1 && m[1] != "" {
		return m[1]
	}
	return path.Base(s)
}
