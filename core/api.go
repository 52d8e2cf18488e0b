// Package core implements a document data-access layer: named
// repositories over collections, a filter language compiled to native
// queries, relation-aware aggregation pipelines and transactional
// execution across configured connections.
package core

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/docrel/docrel/core/internal/qcode"
	"github.com/docrel/docrel/core/internal/sdata"
)

// Engine ties configuration, connections, the relation registry and the
// registered repositories together. One Engine serves a whole process.
type Engine struct {
	conf     *Config
	log      *zap.SugaredLogger
	conns    *ConnManager
	registry *sdata.Registry

	mu    sync.RWMutex
	repos map[string]*Repository

	// collFor is the binding from a repository declaration to its backing
	// collection. Tests swap it for the in-memory store.
	collFor func(conf RepoConfig) (collection, error)
}

// Option configures the Engine at construction.
type Option func(*Engine)

// WithLogger supplies a logger. Without it the engine builds one from the
// configured level and format.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(e *Engine) { e.log = log }
}

// NewEngine builds an engine from conf. Connections are not opened until
// Open is called.
func NewEngine(conf *Config, opts ...Option) (*Engine, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		conf:     conf,
		registry: sdata.NewRegistry(),
		repos:    make(map[string]*Repository),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		log, err := newLogger(conf)
		if err != nil {
			return nil, err
		}
		e.log = log.Sugar()
	}

	e.conns = newConnManager(conf, e.log)
	e.collFor = e.mongoCollFor
	return e, nil
}

func (e *Engine) mongoCollFor(conf RepoConfig) (collection, error) {
	conn, err := e.conns.Get(conf.Connection)
	if err != nil {
		return nil, err
	}
	return newMongoCollection(conn.DB(), conf.Collection), nil
}

// Open establishes all configured connections.
func (e *Engine) Open(ctx context.Context) error {
	return e.conns.Open(ctx)
}

// Close releases all connections. Idempotent.
func (e *Engine) Close(ctx context.Context) error {
	return e.conns.CloseAll(ctx)
}

// Ping probes the named connection; empty name probes the default.
func (e *Engine) Ping(ctx context.Context, name string) error {
	return e.conns.Ping(ctx, name)
}

// Register declares a repository over a collection. Registering the same
// collection again replaces the previous declaration, including its
// relations.
func (e *Engine) Register(conf RepoConfig) (*Repository, error) {
	coll, err := e.collFor(conf)
	if err != nil {
		return nil, err
	}

	rels := make([]sdata.Relation, 0, len(conf.Relations))
	for _, rc := range conf.Relations {
		rels = append(rels, toRelation(rc))
	}
	if err := e.registry.Replace(conf.Collection, rels); err != nil {
		return nil, err
	}

	repo, err := newRepository(e, conf, coll)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.repos[conf.Collection] = repo
	e.mu.Unlock()
	return repo, nil
}

func toRelation(rc RelationConfig) sdata.Relation {
	card := sdata.CardinalityOne
	if rc.Many {
		card = sdata.CardinalityMany
	}
	return sdata.Relation{
		Name:         rc.Name,
		Cardinality:  card,
		Target:       rc.Target,
		LocalField:   rc.LocalField,
		ForeignField: rc.ForeignField,
		Inverse:      rc.Inverse,
	}
}

// GetRepository returns the repository registered for collection.
func (e *Engine) GetRepository(collection string) (*Repository, error) {
	e.mu.RLock()
	repo, ok := e.repos[collection]
	e.mu.RUnlock()
	if !ok {
		return nil, &UnknownRepositoryError{Collection: collection}
	}
	return repo, nil
}

// AddRelation declares a single relation outside of Register. The name
// must be new for the source collection.
func (e *Engine) AddRelation(source string, rc RelationConfig) error {
	return e.registry.Add(source, toRelation(rc))
}

// ResolveRelation returns the declared relation, converted back to its
// public form.
func (e *Engine) ResolveRelation(source, name string) (RelationConfig, error) {
	rel, err := e.registry.Resolve(source, name)
	if err != nil {
		return RelationConfig{}, err
	}
	return RelationConfig{
		Name:         rel.Name,
		Target:       rel.Target,
		LocalField:   rel.LocalField,
		ForeignField: rel.ForeignField,
		Many:         rel.Cardinality == sdata.CardinalityMany,
		Inverse:      rel.Inverse,
	}, nil
}

// Transaction runs fn on the named connection, inside a session
// transaction when transactional mode is enabled.
func (e *Engine) Transaction(ctx context.Context, fn TxnFunc, name string) error {
	return e.conns.Transaction(ctx, fn, name)
}

// Logger exposes the engine logger for embedding callers.
func (e *Engine) Logger() *zap.SugaredLogger { return e.log }

// Config returns the engine configuration.
func (e *Engine) Config() *Config { return e.conf }

// schemaFor returns the field schema of a registered collection, or a
// bare schema when the collection is unknown.
func (e *Engine) schemaFor(collection string) *qcode.Schema {
	e.mu.RLock()
	repo, ok := e.repos[collection]
	e.mu.RUnlock()
	if ok {
		return repo.schema
	}
	return qcode.NewSchema(nil, nil)
}
