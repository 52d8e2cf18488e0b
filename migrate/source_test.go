package migrate

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const createUsers = `{
  "up": [
    {"createCollection": "users"},
    {"createIndex": {"collection": "users", "name": "email_uniq", "keys": {"email": 1}, "unique": true}}
  ],
  "down": [
    {"dropCollection": "users"}
  ]
}`

const seedRoles = `{
  "up": [
    {"insertMany": {"collection": "roles", "documents": [{"name": "admin"}, {"name": "member"}]}}
  ],
  "down": [
    {"deleteMany": {"collection": "roles", "filter": {}}}
  ]
}`

func writeUnit(t *testing.T, fs afero.Fs, name, body string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, "/migrations/"+name, []byte(body), 0o644))
}

func TestDirSourceUnits(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeUnit(t, fs, "0002_seed_roles.json", seedRoles)
	writeUnit(t, fs, "0001_create_users.json", createUsers)
	writeUnit(t, fs, "README.md", "not a unit")

	units, err := NewDirSource(fs, "/migrations").Units(context.Background())
	require.NoError(t, err)
	require.Len(t, units, 2)

	assert.Equal(t, "0001_create_users", units[0].ID)
	assert.Equal(t, "0002_seed_roles", units[1].ID)
	for _, u := range units {
		assert.NotNil(t, u.Up)
		assert.NotNil(t, u.Down)
	}
}

func TestDirSourceBadJSON(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeUnit(t, fs, "0001_broken.json", "{not json")

	_, err := NewDirSource(fs, "/migrations").Units(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0001_broken")
}

func TestDirSourceMissingDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := NewDirSource(fs, "/nope").Units(context.Background())
	require.Error(t, err)
}
