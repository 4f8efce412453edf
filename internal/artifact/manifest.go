package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"catalograph/internal/graph"
	"catalograph/internal/table"
	"catalograph/internal/util"
)

const ManifestFile = "manifest.json"

type EntityArtifact struct {
	Path   string     `json:"path"`
	Origin graph.Kind `json:"origin"`
	Kind   graph.Kind `json:"kind"`
	Rows   int        `json:"rows"`
	SHA256 string     `json:"sha256,omitempty"`
}

type RelationshipArtifact struct {
	Path   string     `json:"path"`
	Origin graph.Kind `json:"origin"`
	Start  graph.Kind `json:"start"`
	End    graph.Kind `json:"end"`
	Label  string     `json:"label"`
	Rows   int        `json:"rows"`
	SHA256 string     `json:"sha256,omitempty"`
}

type Manifest struct {
	Root          string                 `json:"root"`
	Entities      []EntityArtifact       `json:"entities"`
	Relationships []RelationshipArtifact `json:"relationships"`
}

func (m *Manifest) Merge(o Manifest) {
	m.Entities = append(m.Entities, o.Entities...)
	m.Relationships = append(m.Relationships, o.Relationships...)
}

// EntityKinds returns the distinct kinds with at least one entity artifact.
func (m *Manifest) EntityKinds() []graph.Kind {
	seen := map[graph.Kind]struct{}{}
	out := []graph.Kind{}
	for _, e := range m.Entities {
		if _, ok := seen[e.Kind]; ok {
			continue
		}
		seen[e.Kind] = struct{}{}
		out = append(out, e.Kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *Manifest) Sort() {
	sort.Slice(m.Entities, func(i, j int) bool { return m.Entities[i].Path < m.Entities[j].Path })
	sort.Slice(m.Relationships, func(i, j int) bool { return m.Relationships[i].Path < m.Relationships[j].Path })
}

// WriteCollection persists the shrunk source table and its derived tables
// under root/origin.
func WriteCollection(root string, src *table.EntityTable, coll *table.DerivedCollection) (Manifest, error) {
	m := Manifest{Root: root}
	origin := src.Kind
	tables := append([]*table.EntityTable{src}, coll.Entities...)
	for _, t := range tables {
		path := EntityPath(root, origin, t.Name)
		n, err := WriteRows(path, t.Rows)
		if err != nil {
			return Manifest{}, fmt.Errorf("write entity artifact %s: %w", t.Name, err)
		}
		if n == 0 {
			continue
		}
		sum, err := util.FileSHA256(path)
		if err != nil {
			return Manifest{}, err
		}
		m.Entities = append(m.Entities, EntityArtifact{Path: path, Origin: origin, Kind: t.Kind, Rows: n, SHA256: sum})
	}
	for _, t := range coll.Relationships {
		path := RelationshipPath(root, origin, t.Name)
		n, err := WriteRows(path, t.Rows)
		if err != nil {
			return Manifest{}, fmt.Errorf("write relationship artifact %s: %w", t.Name, err)
		}
		if n == 0 {
			continue
		}
		sum, err := util.FileSHA256(path)
		if err != nil {
			return Manifest{}, err
		}
		m.Relationships = append(m.Relationships, RelationshipArtifact{
			Path: path, Origin: origin, Start: t.Start, End: t.End, Label: t.Label, Rows: n, SHA256: sum,
		})
	}
	return m, nil
}

// Scan rebuilds a manifest from the files under root. Every artifact name
// must map to a known kind or pair.
func Scan(root string, reg *graph.Registry) (Manifest, error) {
	m := Manifest{Root: root}
	origins, err := os.ReadDir(root)
	if err != nil {
		return m, fmt.Errorf("read artifact root: %w", err)
	}
	for _, o := range origins {
		if !o.IsDir() {
			continue
		}
		origin, err := graph.ParseKind(o.Name())
		if err != nil {
			return m, &graph.ConfigurationError{Artifact: filepath.Join(root, o.Name()), Reason: "unknown origin directory"}
		}
		nodes, _ := filepath.Glob(filepath.Join(root, o.Name(), NodesDir, "*"+Ext))
		for _, p := range nodes {
			k, err := InferEntityKind(p)
			if err != nil {
				return m, err
			}
			m.Entities = append(m.Entities, EntityArtifact{Path: p, Origin: origin, Kind: k})
		}
		rels, _ := filepath.Glob(filepath.Join(root, o.Name(), RelationshipsDir, "*"+Ext))
		for _, p := range rels {
			start, end, label, err := InferRelationship(reg, p)
			if err != nil {
				return m, err
			}
			m.Relationships = append(m.Relationships, RelationshipArtifact{Path: p, Origin: origin, Start: start, End: end, Label: label})
		}
	}
	m.Sort()
	return m, nil
}

func WriteManifest(m Manifest) error {
	return util.WriteJSONAtomic(filepath.Join(m.Root, ManifestFile), m)
}

// ReadManifest loads root/manifest.json.
func ReadManifest(root string) (Manifest, error) {
	f, err := os.Open(filepath.Join(root, ManifestFile))
	if err != nil {
		return Manifest{}, err
	}
	defer f.Close()
	var m Manifest
	if err := jsonAPI.NewDecoder(f).Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	if m.Root == "" {
		m.Root = root
	}
	return m, nil
}
