package core

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/docrel/docrel/core/internal/qcode"
)

// collection is the seam between the repository layer and the backing
// store. A real deployment binds it to a mongo collection; tests bind it
// to the in-memory store in mock.go.
type collection interface {
	Find(ctx context.Context, q *qcode.Query) ([]bson.M, error)
	FindOne(ctx context.Context, filter bson.M) (bson.M, error)
	InsertOne(ctx context.Context, doc bson.M) (bson.M, error)
	UpdateOne(ctx context.Context, filter bson.M, update bson.M) (bson.M, error)
	DeleteOne(ctx context.Context, filter bson.M) (bson.M, error)
	Aggregate(ctx context.Context, stages []bson.D) ([]bson.M, error)
}

type mongoCollection struct {
	coll *mongo.Collection
}

func newMongoCollection(db *mongo.Database, name string) *mongoCollection {
	return &mongoCollection{coll: db.Collection(name)}
}

func (c *mongoCollection) Find(ctx context.Context, q *qcode.Query) ([]bson.M, error) {
	opts := options.Find()
	if len(q.Sort) > 0 {
		opts.SetSort(q.Sort)
	}
	if q.Skip > 0 {
		opts.SetSkip(q.Skip)
	}
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}

	cur, err := c.coll.Find(ctx, q.Filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (c *mongoCollection) FindOne(ctx context.Context, filter bson.M) (bson.M, error) {
	var doc bson.M
	err := c.coll.FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *mongoCollection) InsertOne(ctx context.Context, doc bson.M) (bson.M, error) {
	res, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, err
	}
	out := bson.M{}
	for k, v := range doc {
		out[k] = v
	}
	if _, ok := out["_id"]; !ok {
		out["_id"] = res.InsertedID
	}
	return out, nil
}

func (c *mongoCollection) UpdateOne(ctx context.Context, filter bson.M, update bson.M) (bson.M, error) {
	after := options.After
	opts := options.FindOneAndUpdate().SetReturnDocument(after)

	var doc bson.M
	err := c.coll.FindOneAndUpdate(ctx, filter, bson.M{"$set": update}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *mongoCollection) DeleteOne(ctx context.Context, filter bson.M) (bson.M, error) {
	var doc bson.M
	err := c.coll.FindOneAndDelete(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *mongoCollection) Aggregate(ctx context.Context, stages []bson.D) ([]bson.M, error) {
	pipeline := make(mongo.Pipeline, len(stages))
	copy(pipeline, stages)

	cur, err := c.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// toStored rewrites the public id field to the stored _id key.
func toStored(doc bson.M) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		if k == "id" {
			k = "_id"
		}
		out[k] = v
	}
	return out
}

// fromStored rewrites the stored _id key back to the public id field and
// renders ObjectIDs as hex strings.
func fromStored(doc bson.M) bson.M {
	if doc == nil {
		return nil
	}
	out := make(bson.M, len(doc))
	for k, v := range doc {
		if k == "_id" {
			k = "id"
		}
		if oid, ok := v.(bson.ObjectID); ok {
			v = oid.Hex()
		}
		out[k] = v
	}
	return out
}

func fromStoredAll(docs []bson.M) []bson.M {
	out := make([]bson.M, len(docs))
	for i, d := range docs {
		out[i] = fromStored(d)
	}
	return out
}
