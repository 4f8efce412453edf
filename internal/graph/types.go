package graph

import (
	"sort"
	"strings"
)

// Kind is one of the closed set of entity kinds the pipeline knows about.
type Kind string

const (
	KindInstitution           Kind = "institution"
	KindAffiliatedInstitution Kind = "affiliated_institution"
	KindLastInstitution       Kind = "last_institution"
	KindAuthor                Kind = "author"
	KindAuthorship            Kind = "authorship"
	KindFunder                Kind = "funder"
	KindPublisher             Kind = "publisher"
	KindSource                Kind = "source"
	KindWork                  Kind = "work"
	KindTopic                 Kind = "topic"
	KindSubfield              Kind = "subfield"
	KindField                 Kind = "field"
	KindDomain                Kind = "domain"
	KindISSN                  Kind = "issn"
	KindYear                  Kind = "year"
	KindGeographic            Kind = "geographic"
)

// Node labels. last_institution is typed separately for relationship
// resolution but lands on the same node as affiliated_institution.
var labels = map[Kind]string{
	KindInstitution:           "Institution",
	KindAffiliatedInstitution: "AffiliatedInstitution",
	KindLastInstitution:       "AffiliatedInstitution",
	KindAuthor:                "Author",
	KindAuthorship:            "Authorship",
	KindFunder:                "Funder",
	KindPublisher:             "Publisher",
	KindSource:                "Source",
	KindWork:                  "Work",
	KindTopic:                 "Topic",
	KindSubfield:              "Subfield",
	KindField:                 "Field",
	KindDomain:                "Domain",
	KindISSN:                  "ISSN",
	KindYear:                  "Year",
	KindGeographic:            "Geographic",
}

func (k Kind) String() string { return string(k) }

func (k Kind) Valid() bool {
	_, ok := labels[k]
	return ok
}

// Label is the node label used by the graph store.
func (k Kind) Label() string {
	return labels[k]
}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", &ConfigurationError{Kinds: []string{s}, Reason: "unknown entity kind"}
	}
	return k, nil
}

// AllKinds returns every kind in a stable order.
func AllKinds() []Kind {
	out := make([]Kind, 0, len(labels))
	for k := range labels {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Labels returns the distinct node labels for kinds, in first-seen order.
func Labels(kinds []Kind) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		l := k.Label()
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}
