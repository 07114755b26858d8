package snapshot_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/arbor/snapshot"
	"github.com/jacentio/arbor/store"
)

type schema struct {
	db      *store.Database
	town    *store.Table
	address *store.Table
	person  *store.Table
}

func newSchema(t *testing.T, validatePerson func(*store.Record) error) *schema {
	t.Helper()
	s := &schema{db: store.NewDatabase(store.DefaultConfig())}
	var err error
	s.town, err = s.db.Define(store.Definition{
		Name:   "Town",
		Fields: []*store.Field{store.NewField("name", store.Unique())},
	})
	require.NoError(t, err)
	s.address, err = s.db.Define(store.Definition{
		Name: "Address",
		Fields: []*store.Field{
			store.NewField("street", store.Unique()),
			store.NewField("town", store.Indexed()),
		},
	})
	require.NoError(t, err)
	s.person, err = s.db.Define(store.Definition{
		Name: "Person",
		Fields: []*store.Field{
			store.NewField("custno", store.Unique()),
			store.NewField("name", store.Indexed()),
			store.NewField("age", store.Default(20)),
			store.NewField("address", store.Indexed()),
			store.NewField("nickname"),
		},
		Validate: validatePerson,
	})
	require.NoError(t, err)
	return s
}

// decodeInts turns the numeric columns of the test schema back into ints.
func decodeInts(_, field, text string) (store.Value, error) {
	switch field {
	case "custno", "age":
		return strconv.Atoi(text)
	}
	return text, nil
}

func populate(t *testing.T, s *schema) {
	t.Helper()
	london, err := s.town.Create(store.Values{"name": "London"})
	require.NoError(t, err)
	baker, err := s.address.Create(store.Values{"street": "Baker st.", "town": london})
	require.NoError(t, err)
	_, err = s.person.Create(store.Values{"custno": 1, "name": "Holmes", "age": 35, "address": baker, "nickname": nil})
	require.NoError(t, err)
	_, err = s.person.Create(store.Values{"custno": 2, "name": "Watson"})
	require.NoError(t, err)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "arbor.sqlite")
	opts := snapshot.Options{Decode: decodeInts}

	src := newSchema(t, nil)
	populate(t, src)
	require.NoError(t, snapshot.Save(ctx, src.db, path, opts))

	dst := newSchema(t, nil)
	res, err := snapshot.Load(ctx, dst.db, path, opts)
	require.NoError(t, err)
	assert.Equal(t, snapshot.Result{Created: 4, Skipped: 0}, res)

	holmes := dst.person.Get(store.Where{"custno": 1})
	require.Len(t, holmes, 1)
	assert.Equal(t, "Holmes", holmes[0].Get("name"))
	assert.Equal(t, 35, holmes[0].Get("age"))
	assert.Nil(t, holmes[0].Get("nickname"))

	addr, ok := holmes[0].Get("address").(*store.Record)
	require.True(t, ok)
	assert.Equal(t, dst.address, addr.Table())
	assert.Equal(t, "Baker st.", addr.Get("street"))

	town, ok := addr.Get("town").(*store.Record)
	require.True(t, ok)
	assert.Equal(t, "London", town.Get("name"))

	// Reference lookups work through the rebuilt indexes.
	assert.Equal(t, holmes, dst.person.Get(store.Where{"address": addr}))

	watson := dst.person.Get(store.Where{"name": "Watson"})
	require.Len(t, watson, 1)
	assert.Equal(t, store.NotSet, watson[0].Get("address"))
	assert.Equal(t, 20, watson[0].Get("age"))
}

func TestSave_Overwrites(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "arbor.sqlite")

	src := newSchema(t, nil)
	populate(t, src)
	require.NoError(t, snapshot.Save(ctx, src.db, path, snapshot.Options{}))

	src.db.Reset()
	_, err := src.town.Create(store.Values{"name": "Paris"})
	require.NoError(t, err)
	require.NoError(t, snapshot.Save(ctx, src.db, path, snapshot.Options{}))

	dst := newSchema(t, nil)
	res, err := snapshot.Load(ctx, dst.db, path, snapshot.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.True(t, dst.town.Contains(store.Where{"name": "Paris"}))
}

func TestLoad_MissingFile(t *testing.T) {
	s := newSchema(t, nil)
	_, err := snapshot.Load(context.Background(), s.db, filepath.Join(t.TempDir(), "nope.sqlite"), snapshot.Options{})
	require.Error(t, err)
}

func TestLoad_MissingTable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "arbor.sqlite")

	src := newSchema(t, nil)
	populate(t, src)
	require.NoError(t, snapshot.Save(ctx, src.db, path, snapshot.Options{Decode: decodeInts}))

	dst := newSchema(t, nil)
	extra, err := dst.db.Define(store.Definition{Name: "Extra", Fields: []*store.Field{store.NewField("x")}})
	require.NoError(t, err)

	res, err := snapshot.Load(ctx, dst.db, path, snapshot.Options{Decode: decodeInts})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Created)
	assert.Zero(t, extra.Len())
}

func TestLoad_DanglingReference(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "arbor.sqlite")

	src := newSchema(t, nil)
	populate(t, src)
	require.NoError(t, snapshot.Save(ctx, src.db, path, snapshot.Options{}))

	conn, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = conn.Exec(`DELETE FROM "Town"`)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	dst := newSchema(t, nil)
	res, err := snapshot.Load(ctx, dst.db, path, snapshot.Options{Decode: decodeInts})
	require.NoError(t, err)

	// The address loses its town, and Holmes loses his address.
	assert.Equal(t, snapshot.Result{Created: 1, Skipped: 2}, res)
	assert.Zero(t, dst.address.Len())
	assert.True(t, dst.person.Contains(store.Where{"name": "Watson"}))
}

func TestLoad_RejectedRow(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "arbor.sqlite")

	src := newSchema(t, nil)
	populate(t, src)
	require.NoError(t, snapshot.Save(ctx, src.db, path, snapshot.Options{}))

	dst := newSchema(t, func(r *store.Record) error {
		if r.Get("name") == "Watson" {
			return errors.New("no doctors")
		}
		return nil
	})
	res, err := snapshot.Load(ctx, dst.db, path, snapshot.Options{Decode: decodeInts})
	require.NoError(t, err)
	assert.Equal(t, snapshot.Result{Created: 3, Skipped: 1}, res)
	assert.False(t, dst.person.Contains(store.Where{"name": "Watson"}))
}

func TestLoad_ReadErrorFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arbor.sqlite")
	src := newSchema(t, nil)
	populate(t, src)
	require.NoError(t, snapshot.Save(context.Background(), src.db, path, snapshot.Options{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dst := newSchema(t, nil)
	_, err := snapshot.Load(ctx, dst.db, path, snapshot.Options{Decode: decodeInts})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, dst.person.Len())
}
