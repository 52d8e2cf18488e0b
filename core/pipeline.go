package core

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/docrel/docrel/core/internal/qcode"
	"github.com/docrel/docrel/core/internal/sdata"
)

// LookupOpt adjusts a single Lookup stage.
type LookupOpt func(*sdata.LookupOverrides)

// LookupAs renames the joined field.
func LookupAs(as string) LookupOpt {
	return func(ov *sdata.LookupOverrides) { ov.As = as }
}

// LookupMatch restricts the joined documents with an extra filter.
func LookupMatch(filter bson.M) LookupOpt {
	return func(ov *sdata.LookupOverrides) { ov.Match = filter }
}

// LookupPreserveArray keeps the joined field as an array even for
// single-cardinality relations.
func LookupPreserveArray() LookupOpt {
	return func(ov *sdata.LookupOverrides) { ov.PreserveArray = true }
}

// Pipeline builds an aggregation over a repository's collection. Stage
// methods append in call order; the first error sticks and surfaces on
// Execute.
type Pipeline struct {
	repo   *Repository
	stages []bson.D
	err    error
}

func newPipeline(r *Repository) *Pipeline {
	return &Pipeline{repo: r}
}

func (p *Pipeline) fail(err error) *Pipeline {
	if p.err == nil {
		p.err = err
	}
	return p
}

// Match appends a $match stage compiled from the filter language.
func (p *Pipeline) Match(filter bson.M) *Pipeline {
	if p.err != nil {
		return p
	}
	f, err := p.repo.compileFilter(filter)
	if err != nil {
		return p.fail(err)
	}
	p.stages = append(p.stages, bson.D{{Key: "$match", Value: f}})
	return p
}

// Lookup appends a $lookup stage for the named relation of this
// collection. Relations of cardinality one are unwound into a single
// embedded document unless LookupPreserveArray is given; missing targets
// leave the field absent rather than dropping the parent.
func (p *Pipeline) Lookup(relation string, opts ...LookupOpt) *Pipeline {
	if p.err != nil {
		return p
	}

	var ov sdata.LookupOverrides
	for _, opt := range opts {
		opt(&ov)
	}

	spec, err := p.repo.engine.registry.LookupSpec(p.repo.conf.Collection, relation, &ov)
	if err != nil {
		return p.fail(err)
	}

	stage, err := p.lookupStage(spec)
	if err != nil {
		return p.fail(err)
	}
	p.stages = append(p.stages, stage)

	if spec.Cardinality == sdata.CardinalityOne && !spec.PreserveArray {
		p.stages = append(p.stages, bson.D{{Key: "$unwind", Value: bson.M{
			"path":                       "$" + spec.As,
			"preserveNullAndEmptyArrays": true,
		}}})
	}
	return p
}

func (p *Pipeline) lookupStage(spec sdata.LookupSpec) (bson.D, error) {
	local := storedField(spec.LocalField)
	foreign := storedField(spec.ForeignField)

	if len(spec.Match) == 0 {
		return bson.D{{Key: "$lookup", Value: bson.M{
			"from":         spec.From,
			"localField":   local,
			"foreignField": foreign,
			"as":           spec.As,
		}}}, nil
	}

	// Extra match conditions force the pipeline form of $lookup.
	match, err := compileMatch(spec.Match, p.repo.engine.schemaFor(spec.From))
	if err != nil {
		return nil, err
	}
	return bson.D{{Key: "$lookup", Value: bson.M{
		"from": spec.From,
		"let":  bson.M{"local": "$" + local},
		"pipeline": []bson.D{
			{{Key: "$match", Value: bson.M{
				"$expr": bson.M{"$eq": bson.A{"$" + foreign, "$$local"}},
			}}},
			{{Key: "$match", Value: match}},
		},
		"as": spec.As,
	}}}, nil
}

func compileMatch(filter map[string]any, s *qcode.Schema) (bson.M, error) {
	exp, err := qcode.ParseFilter(filter)
	if err != nil {
		return nil, err
	}
	return qcode.CompileFilter(exp, s)
}

func storedField(name string) string {
	if name == "id" {
		return "_id"
	}
	return name
}

// Unwind appends a $unwind stage for the given field path.
func (p *Pipeline) Unwind(path string, preserveEmpty bool) *Pipeline {
	if p.err != nil {
		return p
	}
	p.stages = append(p.stages, bson.D{{Key: "$unwind", Value: bson.M{
		"path":                       "$" + path,
		"preserveNullAndEmptyArrays": preserveEmpty,
	}}})
	return p
}

// Project appends a $project stage.
func (p *Pipeline) Project(spec bson.M) *Pipeline {
	if p.err != nil {
		return p
	}
	p.stages = append(p.stages, bson.D{{Key: "$project", Value: spec}})
	return p
}

// Sort appends a $sort stage. Keys apply in order.
func (p *Pipeline) Sort(keys bson.D) *Pipeline {
	if p.err != nil {
		return p
	}
	sorted := make(bson.D, len(keys))
	for i, k := range keys {
		sorted[i] = bson.E{Key: storedField(k.Key), Value: k.Value}
	}
	p.stages = append(p.stages, bson.D{{Key: "$sort", Value: sorted}})
	return p
}

// Group appends a $group stage.
func (p *Pipeline) Group(spec bson.M) *Pipeline {
	if p.err != nil {
		return p
	}
	p.stages = append(p.stages, bson.D{{Key: "$group", Value: spec}})
	return p
}

// Skip appends a $skip stage.
func (p *Pipeline) Skip(n int64) *Pipeline {
	if p.err != nil {
		return p
	}
	p.stages = append(p.stages, bson.D{{Key: "$skip", Value: n}})
	return p
}

// Limit appends a $limit stage.
func (p *Pipeline) Limit(n int64) *Pipeline {
	if p.err != nil {
		return p
	}
	p.stages = append(p.stages, bson.D{{Key: "$limit", Value: n}})
	return p
}

// Stage appends a raw stage verbatim, for operators the builder has no
// method for.
func (p *Pipeline) Stage(stage bson.D) *Pipeline {
	if p.err != nil {
		return p
	}
	p.stages = append(p.stages, stage)
	return p
}

// Stages returns the built stage list without executing it.
func (p *Pipeline) Stages() ([]bson.D, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.stages, nil
}

// Execute runs the pipeline and returns the result documents.
func (p *Pipeline) Execute(ctx context.Context) ([]bson.M, error) {
	stages, err := p.Stages()
	if err != nil {
		return nil, err
	}
	docs, err := p.repo.coll.Aggregate(ctx, stages)
	if err != nil {
		return nil, err
	}
	return fromStoredAll(docs), nil
}
