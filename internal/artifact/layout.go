package artifact

import (
	"path/filepath"
	"strings"

	"catalograph/internal/graph"
)

const (
	NodesDir         = "nodes"
	RelationshipsDir = "relationships"
	Ext              = ".parquet"
	Sep              = "__"
)

// Raw input directory names and the kind their records normalize to.
var SourceDirs = map[string]graph.Kind{
	"works":        graph.KindWork,
	"authors":      graph.KindAuthor,
	"institutions": graph.KindInstitution,
	"sources":      graph.KindSource,
	"funders":      graph.KindFunder,
	"publishers":   graph.KindPublisher,
	"topics":       graph.KindTopic,
}

func EntityPath(root string, origin graph.Kind, name string) string {
	return filepath.Join(root, string(origin), NodesDir, name+Ext)
}

func RelationshipPath(root string, origin graph.Kind, name string) string {
	return filepath.Join(root, string(origin), RelationshipsDir, name+Ext)
}

func baseName(path string) string {
	b := filepath.Base(path)
	for _, ext := range []string{Ext, ".zst", ".gz", ".jsonl", ".ndjson", ".json"} {
		b = strings.TrimSuffix(b, ext)
	}
	return b
}

// InferEntityKind maps an entity artifact to its kind: the base name up to
// the first separator, or the whole base name.
func InferEntityKind(path string) (graph.Kind, error) {
	name := baseName(path)
	if i := strings.Index(name, Sep); i >= 0 {
		name = name[:i]
	}
	k := graph.Kind(name)
	if !k.Valid() {
		return "", &graph.ConfigurationError{Artifact: path, Reason: "cannot infer entity kind from artifact name"}
	}
	return k, nil
}

// InferRelationship parses start__end__LABEL and checks the label against
// the registry.
func InferRelationship(reg *graph.Registry, path string) (graph.Kind, graph.Kind, string, error) {
	parts := strings.Split(baseName(path), Sep)
	if len(parts) != 3 {
		return "", "", "", &graph.ConfigurationError{Artifact: path, Reason: "relationship artifact name must be start__end__LABEL"}
	}
	start, end, label := graph.Kind(parts[0]), graph.Kind(parts[1]), parts[2]
	if !start.Valid() || !end.Valid() {
		return "", "", "", &graph.ConfigurationError{Artifact: path, Kinds: []string{parts[0], parts[1]}, Reason: "unknown kind in relationship artifact name"}
	}
	want, err := reg.Resolve(start, end)
	if err != nil {
		return "", "", "", &graph.ConfigurationError{Artifact: path, Kinds: []string{parts[0], parts[1]}, Reason: err.Error()}
	}
	if want != label {
		return "", "", "", &graph.ConfigurationError{Artifact: path, Kinds: []string{parts[0], parts[1]}, Reason: "label " + label + " does not match registry label " + want}
	}
	return start, end, label, nil
}

// InferSourceDir maps a raw input directory name to its kind.
func InferSourceDir(path string) (graph.Kind, error) {
	k, ok := SourceDirs[filepath.Base(path)]
	if !ok {
		return "", &graph.ConfigurationError{Artifact: path, Reason: "unknown source directory"}
	}
	return k, nil
}
