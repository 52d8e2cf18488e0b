// Package sdata holds the relation metadata the engine discovers from
// repository declarations. The relation graph is cyclic by nature
// (bidirectional declarations) so it is kept as an adjacency map keyed by
// collection name, never as linked object references.
package sdata

import (
	"fmt"
	"sort"
)

// Cardinality describes how many target documents a relation resolves to.
type Cardinality string

const (
	CardinalityOne  Cardinality = "one"
	CardinalityMany Cardinality = "many"
)

// flip returns the cardinality of the reverse edge.
func (c Cardinality) flip() Cardinality {
	if c == CardinalityOne {
		return CardinalityMany
	}
	return CardinalityOne
}

// Relation describes a named edge from a source collection to a target
// collection. LocalField lives on the source, ForeignField on the target.
type Relation struct {
	Name         string
	Cardinality  Cardinality
	Target       string
	LocalField   string
	ForeignField string

	// Inverse, when set, also registers the reverse edge under the target
	// collection with swapped join fields and flipped cardinality.
	Inverse string
}

// LookupSpec is the materialized join specification handed to the pipeline
// builder. Overrides supplied by the caller always win over registry values.
type LookupSpec struct {
	From         string
	LocalField   string
	ForeignField string
	As           string
	Cardinality  Cardinality

	// Match holds extra conditions applied to joined documents.
	Match map[string]any

	// PreserveArray disables the single-document unwrap for one-cardinality
	// relations.
	PreserveArray bool
}

// LookupOverrides are caller-supplied adjustments to a lookup spec.
type LookupOverrides struct {
	As            string
	Match         map[string]any
	PreserveArray bool
}

// DuplicateRelationError is returned when a relation name is declared twice
// for the same source collection.
type DuplicateRelationError struct {
	Source string
	Name   string
}

func (e *DuplicateRelationError) Error() string {
	return fmt.Sprintf("relation %q already declared on collection %q", e.Name, e.Source)
}

// UnknownRelationError is returned when a relation name cannot be resolved.
type UnknownRelationError struct {
	Source string
	Name   string
}

func (e *UnknownRelationError) Error() string {
	return fmt.Sprintf("unknown relation %q on collection %q", e.Name, e.Source)
}

// edge is a registered relation plus the collection whose declaration
// created it. Reverse edges carry the declaring source as owner so a rebind
// can remove everything a previous declaration produced.
type edge struct {
	rel   Relation
	owner string
}

// Registry maps collection names to their named relations. It is populated
// during the startup bind phase and read-only afterwards; concurrent
// registration after startup is unsupported.
type Registry struct {
	edges map[string]map[string]edge
}

// NewRegistry returns an empty relation registry.
func NewRegistry() *Registry {
	return &Registry{edges: make(map[string]map[string]edge)}
}

// Add registers a relation edge for the source collection. Declaring a
// relation with an inverse name also registers the reverse edge.
func (r *Registry) Add(source string, rel Relation) error {
	if rel.Name == "" {
		return fmt.Errorf("relation on %q requires a name", source)
	}
	if rel.Target == "" {
		return fmt.Errorf("relation %q on %q requires a target collection", rel.Name, source)
	}
	if rel.Cardinality == "" {
		rel.Cardinality = CardinalityMany
	}

	if err := r.put(source, rel, source); err != nil {
		return err
	}

	if rel.Inverse != "" {
		inv := Relation{
			Name:         rel.Inverse,
			Cardinality:  rel.Cardinality.flip(),
			Target:       source,
			LocalField:   rel.ForeignField,
			ForeignField: rel.LocalField,
			Inverse:      rel.Name,
		}
		if err := r.put(rel.Target, inv, source); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) put(source string, rel Relation, owner string) error {
	m, ok := r.edges[source]
	if !ok {
		m = make(map[string]edge)
		r.edges[source] = m
	}
	if _, ok := m[rel.Name]; ok {
		return &DuplicateRelationError{Source: source, Name: rel.Name}
	}
	m[rel.Name] = edge{rel: rel, owner: owner}
	return nil
}

// Replace drops every edge a previous declaration by source created, then
// registers rels. Rebinding a repository replaces its relations instead of
// duplicating them.
func (r *Registry) Replace(source string, rels []Relation) error {
	for coll, m := range r.edges {
		for name, e := range m {
			if e.owner == source {
				delete(m, name)
			}
		}
		if len(m) == 0 {
			delete(r.edges, coll)
		}
	}
	for _, rel := range rels {
		if err := r.Add(source, rel); err != nil {
			return err
		}
	}
	return nil
}

// Resolve returns the named relation of the source collection.
func (r *Registry) Resolve(source, name string) (Relation, error) {
	if m, ok := r.edges[source]; ok {
		if e, ok := m[name]; ok {
			return e.rel, nil
		}
	}
	return Relation{}, &UnknownRelationError{Source: source, Name: name}
}

// Relations returns the relations declared on source, sorted by name.
func (r *Registry) Relations(source string) []Relation {
	m := r.edges[source]
	rels := make([]Relation, 0, len(m))
	for _, e := range m {
		rels = append(rels, e.rel)
	}
	sort.Slice(rels, func(i, j int) bool { return rels[i].Name < rels[j].Name })
	return rels
}

// LookupSpec resolves a relation into a join specification, merging
// caller-supplied overrides on top of registry defaults.
func (r *Registry) LookupSpec(source, name string, ov *LookupOverrides) (LookupSpec, error) {
	rel, err := r.Resolve(source, name)
	if err != nil {
		return LookupSpec{}, err
	}

	spec := LookupSpec{
		From:         rel.Target,
		LocalField:   rel.LocalField,
		ForeignField: rel.ForeignField,
		As:           rel.Name,
		Cardinality:  rel.Cardinality,
	}
	if ov != nil {
		if ov.As != "" {
			spec.As = ov.As
		}
		if len(ov.Match) != 0 {
			spec.Match = ov.Match
		}
		spec.PreserveArray = ov.PreserveArray
	}
	return spec, nil
}
