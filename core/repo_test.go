package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	conf := &Config{
		AppName:        "docrel-test",
		AutoTimestamps: true,
		Connections: []ConnConfig{
			{Name: "main", URL: "mongodb://localhost:27017", Database: "test"},
		},
	}
	e, err := NewEngine(conf, WithLogger(zap.NewNop().Sugar()))
	require.NoError(t, err)

	colls := make(map[string]*memCollection)
	e.collFor = func(rc RepoConfig) (collection, error) {
		if c, ok := colls[rc.Collection]; ok {
			return c, nil
		}
		c := newMemCollection()
		colls[rc.Collection] = c
		return c, nil
	}
	return e
}

func TestRepositoryCRUD(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	users, err := e.Register(RepoConfig{Collection: "users"})
	require.NoError(t, err)

	created, err := users.CreateOne(ctx, bson.M{"name": "ada", "score": 10})
	require.NoError(t, err)
	assert.NotEmpty(t, created["id"])
	assert.NotNil(t, created["createdAt"])
	assert.NotNil(t, created["updatedAt"])

	found, err := users.FindOne(ctx, bson.M{"name": "ada"})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created["id"], found["id"])

	updated, err := users.UpdateOne(ctx, bson.M{"name": "ada"}, bson.M{"score": 20})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, 20, updated["score"])
	assert.Equal(t, "ada", updated["name"])

	deleted, err := users.DeleteOne(ctx, bson.M{"name": "ada"})
	require.NoError(t, err)
	require.NotNil(t, deleted)

	gone, err := users.FindOne(ctx, bson.M{"name": "ada"})
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestRepositoryFindOneByID(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	users, err := e.Register(RepoConfig{Collection: "users"})
	require.NoError(t, err)

	created, err := users.CreateOne(ctx, bson.M{"name": "ada"})
	require.NoError(t, err)

	found, err := users.FindOne(ctx, bson.M{"id": created["id"]})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "ada", found["name"])
}

func seedUsers(t *testing.T, e *Engine) *Repository {
	t.Helper()
	ctx := context.Background()

	users, err := e.Register(RepoConfig{Collection: "users"})
	require.NoError(t, err)

	rows := []bson.M{
		{"name": "ada", "role": "admin", "score": 1},
		{"name": "bob", "role": "member", "score": 2},
		{"name": "cyd", "role": "member", "score": 3},
		{"name": "dan", "role": "admin", "score": 4},
		{"name": "eve", "role": "guest", "score": 5},
	}
	for _, r := range rows {
		_, err := users.CreateOne(ctx, r)
		require.NoError(t, err)
	}
	return users
}

func TestFindManyFilters(t *testing.T) {
	e := newTestEngine(t)
	users := seedUsers(t, e)
	ctx := context.Background()

	docs, err := users.FindMany(ctx, bson.M{"role": "member"})
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = users.FindMany(ctx, bson.M{"role": "member", "score_gt": 2})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "cyd", docs[0]["name"])

	docs, err = users.FindMany(ctx, bson.M{
		"OR": []any{
			bson.M{"role": "guest"},
			bson.M{"score_lte": 1},
		},
	})
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	in, err := users.FindMany(ctx, bson.M{"name_in": []any{"ada", "eve"}})
	require.NoError(t, err)
	notIn, err2 := users.FindMany(ctx, bson.M{"name_notIn": []any{"ada", "eve"}})
	require.NoError(t, err2)
	assert.Len(t, in, 2)
	assert.Len(t, notIn, 3)

	docs, err = users.FindMany(ctx, bson.M{"name_startsWith": "a"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "ada", docs[0]["name"])
}

func TestFindManyContainsOnArrayField(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	posts, err := e.Register(RepoConfig{Collection: "posts"})
	require.NoError(t, err)

	for _, doc := range []bson.M{
		{"status": "published", "tags": []any{"go", "db"}},
		{"status": "draft", "tags": []any{"go"}},
	} {
		_, err := posts.CreateOne(ctx, doc)
		require.NoError(t, err)
	}

	docs, err := posts.FindMany(ctx, bson.M{
		"AND": []any{
			bson.M{"status": "published"},
			bson.M{"tags_contains": "go"},
		},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "published", docs[0]["status"])
}

func TestFindManyPagination(t *testing.T) {
	e := newTestEngine(t)
	users := seedUsers(t, e)
	ctx := context.Background()

	names := func(docs []bson.M) []string {
		out := make([]string, len(docs))
		for i, d := range docs {
			out[i] = d["name"].(string)
		}
		return out
	}

	docs, err := users.FindMany(ctx, bson.M{"orderBy": "score_ASC", "first": 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"ada", "bob"}, names(docs))

	// last returns the tail of the ordered set, still in ascending order.
	docs, err = users.FindMany(ctx, bson.M{"orderBy": "score_ASC", "last": 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"dan", "eve"}, names(docs))

	docs, err = users.FindMany(ctx, bson.M{"orderBy": "score_DESC", "first": 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"eve", "dan"}, names(docs))

	docs, err = users.FindMany(ctx, bson.M{"orderBy": "score_ASC", "skip": 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"dan", "eve"}, names(docs))

	_, err = users.FindMany(ctx, bson.M{"skip": 1, "first": 2})
	var perr *InvalidPaginationError
	require.ErrorAs(t, err, &perr)

	_, err = users.FindMany(ctx, bson.M{"first": 1, "last": 1})
	require.ErrorAs(t, err, &perr)
}

func TestFindManyCursor(t *testing.T) {
	e := newTestEngine(t)
	users := seedUsers(t, e)
	ctx := context.Background()

	page, err := users.FindMany(ctx, bson.M{"orderBy": "score_ASC", "first": 2})
	require.NoError(t, err)
	require.Len(t, page, 2)

	cursor, err := users.Cursor(page[1], "score")
	require.NoError(t, err)

	next, err := users.FindMany(ctx, bson.M{"orderBy": "score_ASC", "first": 2, "after": cursor})
	require.NoError(t, err)
	require.Len(t, next, 2)
	assert.Equal(t, "cyd", next[0]["name"])
	assert.Equal(t, "dan", next[1]["name"])
}

func TestValidation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	users, err := e.Register(RepoConfig{
		Collection: "users",
		Validate: func(doc bson.M) []FieldViolation {
			if doc["email"] == nil {
				return []FieldViolation{{Field: "email", Constraint: "required"}}
			}
			return nil
		},
	})
	require.NoError(t, err)

	_, err = users.CreateOne(ctx, bson.M{"name": "ada"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "users", verr.Collection)
	require.Len(t, verr.Violations, 1)
	assert.Equal(t, "email", verr.Violations[0].Field)

	_, err = users.CreateOne(ctx, bson.M{"name": "ada", "email": "ada@example.com"})
	require.NoError(t, err)
}

func TestGetRepository(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Register(RepoConfig{Collection: "users"})
	require.NoError(t, err)

	repo, err := e.GetRepository("users")
	require.NoError(t, err)
	assert.Equal(t, "users", repo.Collection())

	_, err = e.GetRepository("ghosts")
	var uerr *UnknownRepositoryError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "ghosts", uerr.Collection)
}

func TestRegisterRebind(t *testing.T) {
	e := newTestEngine(t)

	decl := RepoConfig{
		Collection: "users",
		Relations: []RelationConfig{
			{Name: "posts", Target: "posts", LocalField: "id", ForeignField: "authorId", Many: true},
		},
	}
	for i := 0; i < 3; i++ {
		_, err := e.Register(decl)
		require.NoError(t, err)
	}

	rel, err := e.ResolveRelation("users", "posts")
	require.NoError(t, err)
	assert.Equal(t, "posts", rel.Target)
	assert.True(t, rel.Many)
}
