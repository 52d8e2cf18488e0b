package migrate

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// DirSource reads declarative migration units from *.json files in a
// directory. The file name without extension is the unit identifier, so
// lexicographic file order is run order.
//
// A unit file holds two operation lists:
//
//	{
//	  "up":   [{"createCollection": "users"}, ...],
//	  "down": [{"dropCollection": "users"}]
//	}
type DirSource struct {
	fs   afero.Fs
	path string
}

func NewDirSource(fs afero.Fs, path string) *DirSource {
	return &DirSource{fs: fs, path: path}
}

type unitFile struct {
	Up   []operation `json:"up"`
	Down []operation `json:"down"`
}

// operation is one declarative step. Exactly one field is set.
type operation struct {
	CreateCollection string      `json:"createCollection,omitempty"`
	DropCollection   string      `json:"dropCollection,omitempty"`
	CreateIndex      *indexOp    `json:"createIndex,omitempty"`
	DropIndex        *indexOp    `json:"dropIndex,omitempty"`
	InsertMany       *insertOp   `json:"insertMany,omitempty"`
	UpdateMany       *updateOp   `json:"updateMany,omitempty"`
	DeleteMany       *filteredOp `json:"deleteMany,omitempty"`
}

type indexOp struct {
	Collection string         `json:"collection"`
	Name       string         `json:"name"`
	Keys       map[string]int `json:"keys,omitempty"`
	Unique     bool           `json:"unique,omitempty"`
}

type insertOp struct {
	Collection string   `json:"collection"`
	Documents  []bson.M `json:"documents"`
}

type updateOp struct {
	Collection string `json:"collection"`
	Filter     bson.M `json:"filter"`
	Update     bson.M `json:"update"`
}

type filteredOp struct {
	Collection string `json:"collection"`
	Filter     bson.M `json:"filter"`
}

func (s *DirSource) Units(ctx context.Context) ([]Unit, error) {
	infos, err := afero.ReadDir(s.fs, s.path)
	if err != nil {
		return nil, errors.Wrap(err, "migrate: reading source dir")
	}

	var units []Unit
	for _, fi := range infos {
		if fi.IsDir() || !strings.HasSuffix(fi.Name(), ".json") {
			continue
		}
		raw, err := afero.ReadFile(s.fs, filepath.Join(s.path, fi.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "migrate: reading %s", fi.Name())
		}

		var uf unitFile
		if err := json.Unmarshal(raw, &uf); err != nil {
			return nil, errors.Wrapf(err, "migrate: parsing %s", fi.Name())
		}

		id := strings.TrimSuffix(fi.Name(), ".json")
		up, down := uf.Up, uf.Down
		units = append(units, Unit{
			ID: id,
			Up: func(ctx context.Context, db *mongo.Database) error {
				return runOps(ctx, db, up)
			},
			Down: func(ctx context.Context, db *mongo.Database) error {
				return runOps(ctx, db, down)
			},
		})
	}

	sort.Slice(units, func(i, j int) bool { return units[i].ID < units[j].ID })
	return units, nil
}

func runOps(ctx context.Context, db *mongo.Database, ops []operation) error {
	for _, op := range ops {
		if err := runOp(ctx, db, op); err != nil {
			return err
		}
	}
	return nil
}

func runOp(ctx context.Context, db *mongo.Database, op operation) error {
	switch {
	case op.CreateCollection != "":
		return db.CreateCollection(ctx, op.CreateCollection)

	case op.DropCollection != "":
		return db.Collection(op.DropCollection).Drop(ctx)

	case op.CreateIndex != nil:
		keys := make(bson.D, 0, len(op.CreateIndex.Keys))
		fields := make([]string, 0, len(op.CreateIndex.Keys))
		for k := range op.CreateIndex.Keys {
			fields = append(fields, k)
		}
		sort.Strings(fields)
		for _, k := range fields {
			keys = append(keys, bson.E{Key: k, Value: op.CreateIndex.Keys[k]})
		}
		iopts := options.Index()
		if op.CreateIndex.Name != "" {
			iopts.SetName(op.CreateIndex.Name)
		}
		if op.CreateIndex.Unique {
			iopts.SetUnique(true)
		}
		_, err := db.Collection(op.CreateIndex.Collection).
			Indexes().CreateOne(ctx, mongo.IndexModel{Keys: keys, Options: iopts})
		return err

	case op.DropIndex != nil:
		return db.Collection(op.DropIndex.Collection).
			Indexes().DropOne(ctx, op.DropIndex.Name)

	case op.InsertMany != nil:
		docs := make([]any, len(op.InsertMany.Documents))
		for i, d := range op.InsertMany.Documents {
			docs[i] = d
		}
		_, err := db.Collection(op.InsertMany.Collection).InsertMany(ctx, docs)
		return err

	case op.UpdateMany != nil:
		_, err := db.Collection(op.UpdateMany.Collection).
			UpdateMany(ctx, op.UpdateMany.Filter, bson.M{"$set": op.UpdateMany.Update})
		return err

	case op.DeleteMany != nil:
		_, err := db.Collection(op.DeleteMany.Collection).
			DeleteMany(ctx, op.DeleteMany.Filter)
		return err
	}
	return errors.New("migrate: empty operation")
}
