package derive

import (
	"catalograph/internal/graph"
	"catalograph/internal/table"
)

type level struct {
	kind      graph.Kind
	key       string // sub-record holding this level; empty for the topic record itself
	parent    graph.Kind
	parentKey string
}

// topicLevels is materialized top-down so a child's parent id always refers
// to a row produced by an earlier level.
var topicLevels = []level{
	{kind: graph.KindDomain, key: "domain"},
	{kind: graph.KindField, key: "field", parent: graph.KindDomain, parentKey: "domain"},
	{kind: graph.KindSubfield, key: "subfield", parent: graph.KindField, parentKey: "field"},
	{kind: graph.KindTopic, parent: graph.KindSubfield, parentKey: "subfield"},
}

// addHierarchy emits domain, field, subfield and (when emitTopics is set)
// topic entities plus the child -> parent edges between them.
func addHierarchy(b *Builder, topics []map[string]any, emitTopics bool) error {
	produced := make(map[graph.Kind]map[string]struct{}, len(topicLevels))
	for _, lv := range topicLevels {
		ids := map[string]struct{}{}
		produced[lv.kind] = ids
		linked := map[string]struct{}{}
		for _, t := range topics {
			rec := t
			if lv.key != "" {
				rec = table.Record(t[lv.key])
			}
			id := table.String(rec["id"])
			if id == "" {
				continue
			}
			if _, seen := ids[id]; !seen && (lv.kind != graph.KindTopic || emitTopics) {
				b.Entity(lv.kind, table.Pick(rec, "id", "display_name"))
			}
			ids[id] = struct{}{}

			if lv.parent == "" {
				continue
			}
			pid := table.String(table.Record(t[lv.parentKey])["id"])
			if pid == "" {
				continue
			}
			if _, ok := produced[lv.parent][pid]; !ok {
				return &table.DanglingError{Table: string(lv.kind) + " hierarchy", Kind: lv.parent, ID: pid, Side: "end", Count: 1}
			}
			if _, dup := linked[id+"\x00"+pid]; dup {
				continue
			}
			linked[id+"\x00"+pid] = struct{}{}
			b.Edge(lv.kind, lv.parent, id, pid, nil)
		}
	}
	return nil
}

// addTopics links each source row to its topics with the given score columns
// and materializes the hierarchy above them.
func addTopics(src *table.EntityTable, b *Builder, props ...string) error {
	exploded := table.Explode(src.Rows, "topics")
	recs := make([]map[string]any, 0, len(exploded))
	for _, ex := range exploded {
		rec := table.Record(ex.Value)
		if rec == nil {
			continue
		}
		recs = append(recs, rec)
		b.Edge(src.Kind, graph.KindTopic, ex.Parent.ID(), table.String(rec["id"]), table.Pick(rec, props...))
	}
	return addHierarchy(b, recs, true)
}
