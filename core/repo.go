package core

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mitchellh/hashstructure/v2"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/docrel/docrel/core/internal/qcode"
)

const planCacheSize = 512

// ValidateFunc checks a document before it is written. A nil return means
// the document is acceptable.
type ValidateFunc func(doc bson.M) []FieldViolation

// RepoConfig declares a repository over a single collection.
type RepoConfig struct {
	// Collection is the backing collection name.
	Collection string

	// Connection names the connection the collection lives on. Empty
	// selects the default connection.
	Connection string

	// Fields lists the known document fields. Filters referencing other
	// fields still compile; the list drives identifier coercion only.
	Fields []string

	// IDFields lists fields holding object identifiers in addition to id.
	IDFields []string

	// Relations declared for this collection, replacing any prior
	// declaration by the same collection.
	Relations []RelationConfig

	// Validate, when set, runs against every document before create and
	// against the change set before update.
	Validate ValidateFunc
}

// RelationConfig declares a named link from the owning collection to a
// target collection.
type RelationConfig struct {
	Name         string
	Target       string
	LocalField   string
	ForeignField string
	Many         bool
	Inverse      string
}

// Backend is the storage contract the repository fronts. Decorators wrap
// it to layer behavior such as timestamps and logging.
type Backend interface {
	FindMany(ctx context.Context, args bson.M) ([]bson.M, error)
	FindOne(ctx context.Context, filter bson.M) (bson.M, error)
	CreateOne(ctx context.Context, doc bson.M) (bson.M, error)
	UpdateOne(ctx context.Context, filter bson.M, changes bson.M) (bson.M, error)
	DeleteOne(ctx context.Context, filter bson.M) (bson.M, error)
}

// Decorator wraps a Backend with additional behavior.
type Decorator func(Backend) Backend

// Repository exposes typed access to one collection. All read operations
// accept the filter language and the write operations translate the public
// id field to the stored key.
type Repository struct {
	conf    RepoConfig
	engine  *Engine
	schema  *qcode.Schema
	coll    collection
	backend Backend
	plans   *lru.TwoQueueCache[uint64, *qcode.Query]
	log     *zap.SugaredLogger
}

func newRepository(e *Engine, conf RepoConfig, coll collection) (*Repository, error) {
	plans, err := lru.New2Q[uint64, *qcode.Query](planCacheSize)
	if err != nil {
		return nil, err
	}

	r := &Repository{
		conf:   conf,
		engine: e,
		schema: qcode.NewSchema(conf.Fields, conf.IDFields),
		coll:   coll,
		plans:  plans,
		log:    e.log.With("collection", conf.Collection),
	}

	var b Backend = (*storeBackend)(r)
	if e.conf.AutoTimestamps {
		b = withTimestamps(b)
	}
	if conf.Validate != nil {
		b = withValidation(conf.Collection, conf.Validate, b)
	}
	b = withLogging(r.log, b)
	r.backend = b
	return r, nil
}

// Collection returns the backing collection name.
func (r *Repository) Collection() string { return r.conf.Collection }

// compile resolves args to an executable query, consulting the plan cache
// first. Args maps hash to a stable key regardless of iteration order.
func (r *Repository) compile(args bson.M) (*qcode.Query, error) {
	key, err := hashstructure.Hash(args, hashstructure.FormatV2, nil)
	if err == nil {
		if q, ok := r.plans.Get(key); ok {
			return q, nil
		}
	}

	filter, pg, perr := qcode.SplitArgs(args)
	if perr != nil {
		return nil, perr
	}
	q, cerr := qcode.Compile(filter, pg, r.schema)
	if cerr != nil {
		return nil, cerr
	}
	if err == nil {
		r.plans.Add(key, q)
	}
	return q, nil
}

// compileFilter resolves a bare filter with no pagination block.
func (r *Repository) compileFilter(filter bson.M) (bson.M, error) {
	exp, err := qcode.ParseFilter(filter)
	if err != nil {
		return nil, err
	}
	return qcode.CompileFilter(exp, r.schema)
}

// FindMany returns every document matching args. Args carry filter fields
// plus the optional pagination block (orderBy, skip, first, last, after,
// before).
func (r *Repository) FindMany(ctx context.Context, args bson.M) ([]bson.M, error) {
	return r.backend.FindMany(ctx, args)
}

// FindOne returns the first document matching filter, or nil when no
// document matches.
func (r *Repository) FindOne(ctx context.Context, filter bson.M) (bson.M, error) {
	return r.backend.FindOne(ctx, filter)
}

// CreateOne inserts doc and returns the stored document including its
// generated identifier.
func (r *Repository) CreateOne(ctx context.Context, doc bson.M) (bson.M, error) {
	return r.backend.CreateOne(ctx, doc)
}

// UpdateOne applies changes to the first document matching filter and
// returns the updated document, or nil when no document matches.
func (r *Repository) UpdateOne(ctx context.Context, filter bson.M, changes bson.M) (bson.M, error) {
	return r.backend.UpdateOne(ctx, filter, changes)
}

// DeleteOne removes the first document matching filter and returns it, or
// nil when no document matches.
func (r *Repository) DeleteOne(ctx context.Context, filter bson.M) (bson.M, error) {
	return r.backend.DeleteOne(ctx, filter)
}

// Cursor returns an opaque page token for resuming a FindMany ordered by
// field from the given document.
func (r *Repository) Cursor(doc bson.M, field string) (string, error) {
	return qcode.EncodeCursor(field, doc[field])
}

// Pipeline starts an aggregation pipeline over this collection.
func (r *Repository) Pipeline() *Pipeline {
	return newPipeline(r)
}

// Aggregate builds a pipeline with build and executes it.
func (r *Repository) Aggregate(ctx context.Context, build func(p *Pipeline)) ([]bson.M, error) {
	p := r.Pipeline()
	build(p)
	return p.Execute(ctx)
}

// storeBackend is the innermost Backend, bound to the collection seam.
type storeBackend Repository

func (b *storeBackend) FindMany(ctx context.Context, args bson.M) ([]bson.M, error) {
	r := (*Repository)(b)
	q, err := r.compile(args)
	if err != nil {
		return nil, err
	}
	docs, err := r.coll.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	if q.Reverse {
		for i, j := 0, len(docs)-1; i < j; i, j = i+1, j-1 {
			docs[i], docs[j] = docs[j], docs[i]
		}
	}
	return fromStoredAll(docs), nil
}

func (b *storeBackend) FindOne(ctx context.Context, filter bson.M) (bson.M, error) {
	r := (*Repository)(b)
	f, err := r.compileFilter(filter)
	if err != nil {
		return nil, err
	}
	doc, err := r.coll.FindOne(ctx, f)
	if err != nil {
		return nil, err
	}
	return fromStored(doc), nil
}

func (b *storeBackend) CreateOne(ctx context.Context, doc bson.M) (bson.M, error) {
	r := (*Repository)(b)
	stored, err := r.coll.InsertOne(ctx, toStored(doc))
	if err != nil {
		return nil, err
	}
	return fromStored(stored), nil
}

func (b *storeBackend) UpdateOne(ctx context.Context, filter bson.M, changes bson.M) (bson.M, error) {
	r := (*Repository)(b)
	f, err := r.compileFilter(filter)
	if err != nil {
		return nil, err
	}
	doc, err := r.coll.UpdateOne(ctx, f, toStored(changes))
	if err != nil {
		return nil, err
	}
	return fromStored(doc), nil
}

func (b *storeBackend) DeleteOne(ctx context.Context, filter bson.M) (bson.M, error) {
	r := (*Repository)(b)
	f, err := r.compileFilter(filter)
	if err != nil {
		return nil, err
	}
	doc, err := r.coll.DeleteOne(ctx, f)
	if err != nil {
		return nil, err
	}
	return fromStored(doc), nil
}

// timestampBackend stamps createdAt and updatedAt on writes.
type timestampBackend struct {
	Backend
}

func withTimestamps(next Backend) Backend {
	return &timestampBackend{Backend: next}
}

func (b *timestampBackend) CreateOne(ctx context.Context, doc bson.M) (bson.M, error) {
	now := time.Now().UTC()
	d := cloneDoc(doc)
	if _, ok := d["createdAt"]; !ok {
		d["createdAt"] = now
	}
	if _, ok := d["updatedAt"]; !ok {
		d["updatedAt"] = now
	}
	return b.Backend.CreateOne(ctx, d)
}

func (b *timestampBackend) UpdateOne(ctx context.Context, filter bson.M, changes bson.M) (bson.M, error) {
	c := cloneDoc(changes)
	if _, ok := c["updatedAt"]; !ok {
		c["updatedAt"] = time.Now().UTC()
	}
	return b.Backend.UpdateOne(ctx, filter, c)
}

// validationBackend rejects writes that fail the declared checks.
type validationBackend struct {
	Backend
	collection string
	validate   ValidateFunc
}

func withValidation(collection string, fn ValidateFunc, next Backend) Backend {
	return &validationBackend{Backend: next, collection: collection, validate: fn}
}

func (b *validationBackend) CreateOne(ctx context.Context, doc bson.M) (bson.M, error) {
	if vs := b.validate(doc); len(vs) > 0 {
		return nil, &ValidationError{Collection: b.collection, Violations: vs}
	}
	return b.Backend.CreateOne(ctx, doc)
}

func (b *validationBackend) UpdateOne(ctx context.Context, filter bson.M, changes bson.M) (bson.M, error) {
	if vs := b.validate(changes); len(vs) > 0 {
		return nil, &ValidationError{Collection: b.collection, Violations: vs}
	}
	return b.Backend.UpdateOne(ctx, filter, changes)
}

// logBackend records each operation with its outcome and latency.
type logBackend struct {
	Backend
	log *zap.SugaredLogger
}

func withLogging(log *zap.SugaredLogger, next Backend) Backend {
	return &logBackend{Backend: next, log: log}
}

func (b *logBackend) observe(op string, start time.Time, err error) {
	if err != nil {
		b.log.Warnw("operation failed", "op", op, "elapsed", time.Since(start), "error", err)
		return
	}
	b.log.Debugw("operation", "op", op, "elapsed", time.Since(start))
}

func (b *logBackend) FindMany(ctx context.Context, args bson.M) ([]bson.M, error) {
	start := time.Now()
	docs, err := b.Backend.FindMany(ctx, args)
	b.observe("findMany", start, err)
	return docs, err
}

func (b *logBackend) FindOne(ctx context.Context, filter bson.M) (bson.M, error) {
	start := time.Now()
	doc, err := b.Backend.FindOne(ctx, filter)
	b.observe("findOne", start, err)
	return doc, err
}

func (b *logBackend) CreateOne(ctx context.Context, doc bson.M) (bson.M, error) {
	start := time.Now()
	out, err := b.Backend.CreateOne(ctx, doc)
	b.observe("createOne", start, err)
	return out, err
}

func (b *logBackend) UpdateOne(ctx context.Context, filter bson.M, changes bson.M) (bson.M, error) {
	start := time.Now()
	out, err := b.Backend.UpdateOne(ctx, filter, changes)
	b.observe("updateOne", start, err)
	return out, err
}

func (b *logBackend) DeleteOne(ctx context.Context, filter bson.M) (bson.M, error) {
	start := time.Now()
	out, err := b.Backend.DeleteOne(ctx, filter)
	b.observe("deleteOne", start, err)
	return out, err
}
