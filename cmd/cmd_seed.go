package main

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/v2/bson"
	"gopkg.in/yaml.v3"

	"github.com/docrel/docrel/core"
	"github.com/docrel/docrel/migrate"
)

// seedFile describes the collections to populate and how to fake each
// field. String values containing {tokens} run through the fake data
// generator; everything else inserts literally.
//
//	collections:
//	  - collection: users
//	    count: 25
//	    fields:
//	      name: "{firstname} {lastname}"
//	      email: "{email}"
//	      active: true
type seedFile struct {
	Collections []seedCollection `yaml:"collections"`
}

type seedCollection struct {
	Collection string         `yaml:"collection"`
	Count      int            `yaml:"count"`
	Fields     map[string]any `yaml:"fields"`
}

func migrationSource() migrate.Source {
	return migrate.NewDirSource(afero.NewOsFs(), conf.AbsolutePath(conf.Migrations.Path))
}

// cmdDBSeed populates the database from the configured seed file
func cmdDBSeed(cmd *cobra.Command, args []string) {
	setup(cpath)
	ctx := context.Background()
	initEngine(ctx)

	raw, err := os.ReadFile(conf.AbsolutePath(conf.Seed.File))
	if err != nil {
		log.Fatalf("Failed to read seed file: %s", err)
	}

	var sf seedFile
	if err := yaml.Unmarshal(raw, &sf); err != nil {
		log.Fatalf("Failed to parse seed file: %s", err)
	}

	for _, sc := range sf.Collections {
		repo, err := engine.Register(core.RepoConfig{Collection: sc.Collection})
		if err != nil {
			log.Fatal(err)
		}
		count := sc.Count
		if count == 0 {
			count = 1
		}
		for i := 0; i < count; i++ {
			doc := bson.M{}
			for field, tmpl := range sc.Fields {
				doc[field] = seedValue(tmpl)
			}
			if _, err := repo.CreateOne(ctx, doc); err != nil {
				log.Fatalf("Seeding %s failed: %s", sc.Collection, err)
			}
		}
		log.Infof("Seeded %d document(s) into %s", count, sc.Collection)
	}
}

func seedValue(tmpl any) any {
	s, ok := tmpl.(string)
	if !ok || !strings.Contains(s, "{") {
		return tmpl
	}
	out := gofakeit.Generate(s)

	// A bare number template yields a numeric field.
	if strings.HasPrefix(s, "{number") || strings.HasPrefix(s, "{year") {
		if n, err := strconv.ParseInt(out, 10, 64); err == nil {
			return n
		}
	}
	return out
}
