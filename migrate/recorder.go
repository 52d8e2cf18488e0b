package migrate

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// mongoRecorder keeps migration records in a collection, one document per
// unit, keyed by identifier.
type mongoRecorder struct {
	coll *mongo.Collection
}

// NewRecorder returns a Recorder backed by the named collection of db.
func NewRecorder(db *mongo.Database, collection string) Recorder {
	return &mongoRecorder{coll: db.Collection(collection)}
}

func (r *mongoRecorder) Applied(ctx context.Context) (map[string]Record, error) {
	cur, err := r.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make(map[string]Record)
	for cur.Next(ctx) {
		var rec Record
		if err := cur.Decode(&rec); err != nil {
			return nil, err
		}
		out[rec.Identifier] = rec
	}
	return out, cur.Err()
}

func (r *mongoRecorder) Save(ctx context.Context, rec Record) error {
	opts := options.Replace().SetUpsert(true)
	_, err := r.coll.ReplaceOne(ctx, bson.M{"identifier": rec.Identifier}, rec, opts)
	return err
}

func (r *mongoRecorder) Remove(ctx context.Context, identifier string) error {
	_, err := r.coll.DeleteOne(ctx, bson.M{"identifier": identifier})
	return err
}
