package sdata

import "testing"

func TestAddAndResolve(t *testing.T) {
	r := NewRegistry()

	err := r.Add("posts", Relation{
		Name:         "author",
		Cardinality:  CardinalityOne,
		Target:       "users",
		LocalField:   "author_id",
		ForeignField: "_id",
	})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	rel, err := r.Resolve("posts", "author")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if rel.Target != "users" || rel.LocalField != "author_id" {
		t.Errorf("Resolve() = %+v, want users/author_id", rel)
	}

	if _, err := r.Resolve("posts", "nope"); err == nil {
		t.Error("Resolve() expected UnknownRelationError for missing name")
	}
	if _, err := r.Resolve("comments", "author"); err == nil {
		t.Error("Resolve() expected UnknownRelationError for missing source")
	}
}

func TestAddDuplicate(t *testing.T) {
	r := NewRegistry()
	rel := Relation{Name: "author", Target: "users", LocalField: "author_id", ForeignField: "_id"}

	if err := r.Add("posts", rel); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	err := r.Add("posts", rel)
	if _, ok := err.(*DuplicateRelationError); !ok {
		t.Errorf("Add() error = %v, want DuplicateRelationError", err)
	}
}

func TestInverseRelation(t *testing.T) {
	r := NewRegistry()
	err := r.Add("users", Relation{
		Name:         "posts",
		Cardinality:  CardinalityMany,
		Target:       "posts",
		LocalField:   "_id",
		ForeignField: "author_id",
		Inverse:      "author",
	})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	fwd, err := r.Resolve("users", "posts")
	if err != nil {
		t.Fatalf("Resolve(users, posts) error = %v", err)
	}
	inv, err := r.Resolve("posts", "author")
	if err != nil {
		t.Fatalf("Resolve(posts, author) error = %v", err)
	}

	// Inverse edge swaps local and foreign fields and flips cardinality.
	if inv.LocalField != fwd.ForeignField || inv.ForeignField != fwd.LocalField {
		t.Errorf("inverse fields = %s/%s, want swapped %s/%s",
			inv.LocalField, inv.ForeignField, fwd.ForeignField, fwd.LocalField)
	}
	if inv.Cardinality != CardinalityOne {
		t.Errorf("inverse cardinality = %s, want one", inv.Cardinality)
	}
}

func TestReplaceIsIdempotent(t *testing.T) {
	r := NewRegistry()
	rels := []Relation{
		{Name: "posts", Cardinality: CardinalityMany, Target: "posts",
			LocalField: "_id", ForeignField: "author_id", Inverse: "author"},
	}

	// A rebind replaces the previous declarations including reverse edges.
	for i := 0; i < 3; i++ {
		if err := r.Replace("users", rels); err != nil {
			t.Fatalf("Replace() #%d error = %v", i, err)
		}
	}

	if got := len(r.Relations("users")); got != 1 {
		t.Errorf("Relations(users) = %d entries, want 1", got)
	}
	if _, err := r.Resolve("posts", "author"); err != nil {
		t.Errorf("Resolve(posts, author) after rebind error = %v", err)
	}
}

func TestLookupSpecOverrides(t *testing.T) {
	r := NewRegistry()
	if err := r.Add("posts", Relation{
		Name: "author", Cardinality: CardinalityOne,
		Target: "users", LocalField: "author_id", ForeignField: "_id",
	}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	spec, err := r.LookupSpec("posts", "author", nil)
	if err != nil {
		t.Fatalf("LookupSpec() error = %v", err)
	}
	if spec.As != "author" || spec.From != "users" {
		t.Errorf("LookupSpec() = %+v, want as=author from=users", spec)
	}

	spec, err = r.LookupSpec("posts", "author", &LookupOverrides{
		As:            "writer",
		Match:         map[string]any{"active": true},
		PreserveArray: true,
	})
	if err != nil {
		t.Fatalf("LookupSpec() with overrides error = %v", err)
	}
	if spec.As != "writer" {
		t.Errorf("override As = %s, want writer", spec.As)
	}
	if spec.Match["active"] != true {
		t.Errorf("override Match not applied: %+v", spec.Match)
	}
	if !spec.PreserveArray {
		t.Error("override PreserveArray not applied")
	}
}
