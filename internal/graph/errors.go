package graph

import (
	"fmt"
	"strings"
)

// ConfigurationError reports an unknown kind, an unregistered kind pair or an
// artifact whose name cannot be mapped to a kind. It is always fatal.
type ConfigurationError struct {
	Kinds    []string
	Artifact string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error: ")
	b.WriteString(e.Reason)
	if len(e.Kinds) > 0 {
		fmt.Fprintf(&b, " (kinds: %s)", strings.Join(e.Kinds, ", "))
	}
	if e.Artifact != "" {
		fmt.Fprintf(&b, " (artifact: %s)", e.Artifact)
	}
	return b.String()
}
