package graph

import "fmt"

const (
	RelInLineageWith            = "IN_LINEAGE_WITH"
	RelInstitutionSituatedIn    = "INSTITUTION_SITUATED_IN"
	RelInstitutionIsTheSameAs   = "INSTITUTION_IS_THE_SAME_AS"
	RelAffiliatedWith           = "AFFILIATED_WITH"
	RelHasAuthorship            = "HAS_AUTHORSHIP"
	RelLastAffiliatedWith       = "LAST_AFFILIATED_WITH"
	RelHasWorksConcerning       = "HAS_WORKS_CONCERNING"
	RelHasWork                  = "HAS_WORK"
	RelInYear                   = "IN_YEAR"
	RelAuthorshipHasAffiliation = "AUTHORSHIP_HAS_AFFILIATION_WITH_INSTITUTION"
	RelAuthorshipOnWork         = "AUTHORSHIP_ON_WORK"
	RelInDomain                 = "IN_DOMAIN"
	RelIsARoleOf                = "IS_A_ROLE_OF"
	RelFunds                    = "FUNDS"
	RelHosts                    = "HOSTS"
	RelCanAlsoBe                = "CAN_ALSO_BE"
	RelSituatedIn               = "SITUATED_IN"
	RelHasISSN                  = "HAS_ISSN"
	RelHasTopic                 = "HAS_TOPIC"
	RelInField                  = "IN_FIELD"
	RelInSubfield               = "IN_SUBFIELD"
	RelHostedInISSN             = "HOSTED_IN_ISSN"
	RelReferencesWork           = "REFERENCES_WORK"
	RelAssociatedWith           = "ASSOCIATED_WITH"
)

// Pair is an ordered (start, end) kind pair.
type Pair struct {
	Start Kind
	End   Kind
}

func (p Pair) String() string { return string(p.Start) + "->" + string(p.End) }

// Entry binds an ordered pair to a relationship label.
type Entry struct {
	Start Kind
	End   Kind
	Label string
}

// Registry maps ordered kind pairs to relationship labels. It is built once
// and read concurrently afterwards.
type Registry struct {
	entries []Entry
	byPair  map[Pair]string
}

func NewRegistry(entries []Entry) (*Registry, error) {
	r := &Registry{byPair: make(map[Pair]string, len(entries))}
	for _, e := range entries {
		if !e.Start.Valid() || !e.End.Valid() {
			return nil, &ConfigurationError{Kinds: []string{string(e.Start), string(e.End)}, Reason: "registry entry references unknown kind"}
		}
		if e.Label == "" {
			return nil, &ConfigurationError{Kinds: []string{string(e.Start), string(e.End)}, Reason: "registry entry has empty label"}
		}
		p := Pair{Start: e.Start, End: e.End}
		if _, dup := r.byPair[p]; dup {
			return nil, &ConfigurationError{Kinds: []string{string(e.Start), string(e.End)}, Reason: "duplicate registry entry"}
		}
		r.byPair[p] = e.Label
		r.entries = append(r.entries, e)
	}
	return r, nil
}

// MustRegistry is NewRegistry for static tables.
func MustRegistry(entries []Entry) *Registry {
	r, err := NewRegistry(entries)
	if err != nil {
		panic(err)
	}
	return r
}

// Resolve returns the label for (a, b), falling back to (b, a).
func (r *Registry) Resolve(a, b Kind) (string, error) {
	if l, ok := r.byPair[Pair{Start: a, End: b}]; ok {
		return l, nil
	}
	if l, ok := r.byPair[Pair{Start: b, End: a}]; ok {
		return l, nil
	}
	return "", &ConfigurationError{
		Kinds:  []string{string(a), string(b)},
		Reason: fmt.Sprintf("no relationship registered for %s and %s", a, b),
	}
}

func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

var defaultEntries = []Entry{
	{KindAffiliatedInstitution, KindAffiliatedInstitution, RelInLineageWith},
	{KindAffiliatedInstitution, KindGeographic, RelInstitutionSituatedIn},
	{KindAffiliatedInstitution, KindInstitution, RelInstitutionIsTheSameAs},
	{KindAuthor, KindAffiliatedInstitution, RelAffiliatedWith},
	{KindAuthor, KindAuthorship, RelHasAuthorship},
	{KindAuthor, KindLastInstitution, RelLastAffiliatedWith},
	{KindAuthor, KindTopic, RelHasWorksConcerning},
	{KindAuthor, KindWork, RelHasWork},
	{KindAuthor, KindYear, RelInYear},
	{KindAuthorship, KindAffiliatedInstitution, RelAuthorshipHasAffiliation},
	{KindAuthorship, KindWork, RelAuthorshipOnWork},
	{KindField, KindDomain, RelInDomain},
	{KindFunder, KindInstitution, RelIsARoleOf},
	{KindFunder, KindWork, RelFunds},
	{KindFunder, KindYear, RelInYear},
	{KindPublisher, KindSource, RelHosts},
	{KindPublisher, KindYear, RelInYear},
	{KindInstitution, KindAffiliatedInstitution, RelAssociatedWith},
	{KindInstitution, KindAuthor, RelAffiliatedWith},
	{KindInstitution, KindFunder, RelCanAlsoBe},
	{KindInstitution, KindGeographic, RelSituatedIn},
	{KindInstitution, KindInstitution, RelInLineageWith},
	{KindInstitution, KindPublisher, RelCanAlsoBe},
	{KindInstitution, KindSource, RelHosts},
	{KindInstitution, KindTopic, RelHasWorksConcerning},
	{KindInstitution, KindYear, RelInYear},
	{KindSource, KindISSN, RelHasISSN},
	{KindSource, KindTopic, RelHasTopic},
	{KindSource, KindYear, RelInYear},
	{KindSubfield, KindField, RelInField},
	{KindTopic, KindSubfield, RelInSubfield},
	{KindWork, KindISSN, RelHostedInISSN},
	{KindWork, KindTopic, RelHasTopic},
	{KindWork, KindWork, RelReferencesWork},
	{KindWork, KindYear, RelInYear},
}

var defaultRegistry = MustRegistry(defaultEntries)

// Default returns the process-wide relationship registry.
func Default() *Registry { return defaultRegistry }
