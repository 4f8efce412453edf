package loader

import (
	"context"
	"fmt"
	"regexp"

	"catalograph/internal/graph"
	"catalograph/internal/table"
)

type SchemaKind string

const (
	SchemaUnique SchemaKind = "unique"
	SchemaIndex  SchemaKind = "index"
)

// SchemaStatement asks the store for a uniqueness constraint or an index on
// one property of one label. Stores apply it create-if-absent.
type SchemaStatement struct {
	Kind     SchemaKind
	Label    string
	Property string
}

// EdgeSpec names the labels and relationship type of a relationship batch.
type EdgeSpec struct {
	StartLabel string
	EndLabel   string
	Type       string
}

// Store is the narrow write surface the loader needs from a graph backend.
// Every call must be idempotent: replaying a batch leaves the store as if it
// ran once.
type Store interface {
	ApplySchema(ctx context.Context, stmt SchemaStatement) error
	// MergeEntities merges rows by id and sets every other column.
	MergeEntities(ctx context.Context, label string, rows []table.Row) (int, error)
	// MergeRelationships matches both endpoints by id and merges one edge per
	// row. The returned count excludes rows whose endpoints were not found.
	MergeRelationships(ctx context.Context, edge EdgeSpec, rows []table.Row) (int, error)
	LinkByProperty(ctx context.Context, rel PropertyRelationship) (int, error)
}

type Policy string

const (
	// PolicyExact links start nodes whose StartProperty equals Value (or,
	// with no Value, equals the end node's EndProperty).
	PolicyExact Policy = "exact"
	// PolicyMembership links when the start node's StartProperty is an
	// element of the end node's EndProperty list.
	PolicyMembership Policy = "membership"
)

type PropertyRelationship struct {
	Start         graph.Kind
	End           graph.Kind
	Policy        Policy
	StartProperty string
	EndProperty   string
	Value         any

	StartLabel string
	EndLabel   string
	Type       string
}

func (p PropertyRelationship) Name() string {
	return table.RelationshipName(p.Start, p.End, p.Type) + "__" + string(p.Policy)
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s can be interpolated into a statement as
// a label, type or property name.
func ValidIdentifier(s string) bool {
	return identRe.MatchString(s)
}

// NewPropertyRelationship resolves the type from the registry and checks the
// property names.
func NewPropertyRelationship(reg *graph.Registry, start, end graph.Kind, policy Policy, startProp, endProp string, value any) (PropertyRelationship, error) {
	typ, err := reg.Resolve(start, end)
	if err != nil {
		return PropertyRelationship{}, err
	}
	p := PropertyRelationship{
		Start: start, End: end, Policy: policy,
		StartProperty: startProp, EndProperty: endProp, Value: value,
		StartLabel: start.Label(), EndLabel: end.Label(), Type: typ,
	}
	switch policy {
	case PolicyExact:
		if value == nil && endProp == "" {
			return p, fmt.Errorf("exact-match %s needs a value or an end property", p.Name())
		}
	case PolicyMembership:
		if endProp == "" {
			return p, fmt.Errorf("membership %s needs an end collection property", p.Name())
		}
	default:
		return p, fmt.Errorf("unknown policy %q", policy)
	}
	for _, s := range []string{startProp, p.StartLabel, p.EndLabel, p.Type} {
		if !ValidIdentifier(s) {
			return p, fmt.Errorf("invalid identifier %q in %s", s, p.Name())
		}
	}
	if endProp != "" && !ValidIdentifier(endProp) {
		return p, fmt.Errorf("invalid identifier %q in %s", endProp, p.Name())
	}
	return p, nil
}

// DefaultPropertyRelationships are evaluated after key-based relationships.
// The seed institution link is only included when seedID is set.
func DefaultPropertyRelationships(reg *graph.Registry, seedID string) ([]PropertyRelationship, error) {
	type link struct {
		start, end         graph.Kind
		policy             Policy
		startProp, endProp string
		value              any
	}
	links := []link{
		{graph.KindAffiliatedInstitution, graph.KindInstitution, PolicyExact, "id", "id", nil},
		{graph.KindPublisher, graph.KindSource, PolicyExact, "id", "host_organization", nil},
		{graph.KindInstitution, graph.KindFunder, PolicyMembership, "id", "role_ids", nil},
		{graph.KindFunder, graph.KindInstitution, PolicyMembership, "id", "role_ids", nil},
		{graph.KindInstitution, graph.KindPublisher, PolicyMembership, "id", "role_ids", nil},
	}
	if seedID != "" {
		links = append([]link{{graph.KindInstitution, graph.KindAuthor, PolicyExact, "id", "", seedID}}, links...)
	}
	out := make([]PropertyRelationship, 0, len(links))
	for _, s := range links {
		p, err := NewPropertyRelationship(reg, s.start, s.end, s.policy, s.startProp, s.endProp, s.value)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
