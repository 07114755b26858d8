package interchange_test

import (
	"encoding/json"
	"errors"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/arbor/interchange"
	"github.com/jacentio/arbor/store"
)

type schema struct {
	db      *store.Database
	town    *store.Table
	address *store.Table
	person  *store.Table
}

func newSchema(t *testing.T) *schema {
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
		},
	})
	require.NoError(t, err)
	return s
}

func decodeInts(_, field, text string) (store.Value, error) {
	switch field {
	case "custno", "age":
		return strconv.Atoi(text)
	}
	return text, nil
}

func populate(t *testing.T, s *schema) (london, baker, holmes *store.Record) {
	t.Helper()
	var err error
	london, err = s.town.Create(store.Values{"name": "London"})
	require.NoError(t, err)
	baker, err = s.address.Create(store.Values{"street": "Baker st.", "town": london})
	require.NoError(t, err)
	holmes, err = s.person.Create(store.Values{"custno": 1, "name": "Holmes", "address": baker})
	require.NoError(t, err)
	return london, baker, holmes
}

func TestExport(t *testing.T) {
	s := newSchema(t)
	london, baker, holmes := populate(t, s)
	c := interchange.New(interchange.Options{})

	dump := c.Export(s.db)

	require.Len(t, dump, 3)
	require.Len(t, dump["person"], 1)
	assert.Equal(t, interchange.Row{
		interchange.UUIDKey: c.UUID(holmes).String(),
		"custno":            "1",
		"name":              "Holmes",
		"age":               "20",
		"address":           c.UUID(baker).String(),
	}, dump["person"][0])
	assert.Equal(t, c.UUID(london).String(), dump["address"][0]["town"])

	// Identifiers are stable across exports.
	again := c.Export(s.db)
	assert.Equal(t, dump, again)
}

func TestExport_NotSetAndNil(t *testing.T) {
	s := newSchema(t)
	r, err := s.person.Create(store.Values{"custno": 1, "name": nil})
	require.NoError(t, err)
	c := interchange.New(interchange.Options{})

	row := c.Export(s.db)["person"][0]
	assert.Nil(t, row["name"])
	assert.Equal(t, 0, row["address"])
	assert.Equal(t, c.UUID(r).String(), row[interchange.UUIDKey])
}

func TestJSON_RoundTrip(t *testing.T) {
	src := newSchema(t)
	_, _, holmes := populate(t, src)
	out := interchange.New(interchange.Options{})

	data, err := out.ExportJSON(src.db)
	require.NoError(t, err)

	dst := newSchema(t)
	in := interchange.New(interchange.Options{Decode: decodeInts})
	res, err := in.ImportJSON(dst.db, data)
	require.NoError(t, err)
	assert.Equal(t, interchange.Result{Created: 3}, res)

	people := dst.person.Get(store.Where{"custno": 1})
	require.Len(t, people, 1)
	p := people[0]
	assert.Equal(t, "Holmes", p.Get("name"))
	assert.Equal(t, 20, p.Get("age"))

	addr := p.Get("address").(*store.Record)
	assert.Equal(t, "Baker st.", addr.Get("street"))
	assert.Equal(t, "London", addr.Get("town").(*store.Record).Get("name"))

	// The imported record keeps its identifier.
	assert.Equal(t, out.UUID(holmes), in.UUID(p))
	got, ok := in.Lookup(out.UUID(holmes))
	require.True(t, ok)
	assert.Equal(t, p, got)

	// Exporting again writes the same document.
	again, err := in.ExportJSON(dst.db)
	require.NoError(t, err)
	var a, b map[string]any
	require.NoError(t, json.Unmarshal(data, &a))
	require.NoError(t, json.Unmarshal(again, &b))
	assert.Equal(t, a, b)
}

func TestImport_SkipsBadRows(t *testing.T) {
	s := newSchema(t)
	c := interchange.New(interchange.Options{Decode: decodeInts})
	town := uuid.NewString()
	missing := uuid.NewString()

	dump := interchange.Dump{
		"TOWN": {
			{interchange.UUIDKey: town, "name": "London"},
		},
		"address": {
			{interchange.UUIDKey: uuid.NewString(), "street": "Baker st.", "town": town},
			{interchange.UUIDKey: uuid.NewString(), "street": "Nowhere", "town": missing},
			{"street": "No id"},
			{interchange.UUIDKey: "not-a-uuid", "street": "Bad id"},
		},
		"planet": {
			{interchange.UUIDKey: uuid.NewString(), "name": "Mars"},
		},
	}

	res := c.Import(s.db, dump)

	assert.Equal(t, interchange.Result{Created: 2, Skipped: 4}, res)
	assert.False(t, s.address.Contains(store.Where{"street": "Nowhere"}))
	assert.False(t, s.address.Contains(store.Where{"town": missing}))

	// Importing the same dump again creates nothing new.
	res = c.Import(s.db, dump)
	assert.Zero(t, res.Created)
	assert.Equal(t, 1, s.town.Len())
}

func TestImport_DanglingReference(t *testing.T) {
	src := newSchema(t)
	populate(t, src)
	out := interchange.New(interchange.Options{})
	dump := out.Export(src.db)

	// The referenced town is missing from the dump and unknown to the importer.
	delete(dump, "town")

	dst := newSchema(t)
	res := interchange.New(interchange.Options{Decode: decodeInts}).Import(dst.db, dump)
	assert.Equal(t, interchange.Result{Created: 0, Skipped: 2}, res)
	assert.Zero(t, dst.address.Len())
	assert.Zero(t, dst.person.Len())
}

func TestApply_DanglingReference(t *testing.T) {
	s := newSchema(t)
	c := interchange.New(interchange.Options{})
	london := uuid.NewString()

	_, err := c.Apply(s.db, "address", interchange.Row{interchange.UUIDKey: uuid.NewString(), "street": "Baker st.", "town": london})
	require.ErrorIs(t, err, interchange.ErrUnresolved)
	assert.Zero(t, s.address.Len())

	// A removed record no longer resolves either.
	_, err = c.Apply(s.db, "town", interchange.Row{interchange.UUIDKey: london, "name": "London"})
	require.NoError(t, err)
	ok, err := c.Remove(uuid.MustParse(london))
	require.NoError(t, err)
	require.True(t, ok)
	_, err = c.Apply(s.db, "address", interchange.Row{interchange.UUIDKey: uuid.NewString(), "street": "Baker st.", "town": london})
	require.ErrorIs(t, err, interchange.ErrUnresolved)
}

func TestImport_FailedDependency(t *testing.T) {
	s := newSchema(t)
	c := interchange.New(interchange.Options{})
	a, b := uuid.NewString(), uuid.NewString()

	dump := interchange.Dump{
		"town": {
			{interchange.UUIDKey: a, "name": "London"},
			{interchange.UUIDKey: b, "name": "London"},
		},
		"address": {
			{interchange.UUIDKey: uuid.NewString(), "street": "High st.", "town": a},
			{interchange.UUIDKey: uuid.NewString(), "street": "Low st.", "town": b},
		},
	}

	res := c.Import(s.db, dump)

	// One of the duplicate towns is rejected, taking its address with it.
	assert.Equal(t, interchange.Result{Created: 2, Skipped: 2}, res)
	assert.Equal(t, 1, s.town.Len())
	assert.Equal(t, 1, s.address.Len())
}

func TestImport_Cycle(t *testing.T) {
	db := store.NewDatabase(store.DefaultConfig())
	node, err := db.Define(store.Definition{
		Name:   "Node",
		Fields: []*store.Field{store.NewField("next")},
	})
	require.NoError(t, err)
	a, b := uuid.NewString(), uuid.NewString()

	res := interchange.New(interchange.Options{}).Import(db, interchange.Dump{
		"node": {
			{interchange.UUIDKey: a, "next": b},
			{interchange.UUIDKey: b, "next": a},
		},
	})
	assert.Zero(t, res.Created)
	assert.Equal(t, 2, res.Skipped)
	assert.Zero(t, node.Len())
}

func TestImportJSON_Malformed(t *testing.T) {
	s := newSchema(t)
	_, err := interchange.New(interchange.Options{}).ImportJSON(s.db, []byte("{"))
	require.Error(t, err)
}

func TestApply(t *testing.T) {
	s := newSchema(t)
	c := interchange.New(interchange.Options{Decode: decodeInts})
	london := uuid.NewString()
	baker := uuid.NewString()

	town, err := c.Apply(s.db, "Town", interchange.Row{interchange.UUIDKey: london, "name": "London"})
	require.NoError(t, err)
	addr, err := c.Apply(s.db, "address", interchange.Row{interchange.UUIDKey: baker, "street": "Baker st.", "town": london})
	require.NoError(t, err)
	assert.Equal(t, town, addr.Get("town"))

	// Applying again updates in place.
	again, err := c.Apply(s.db, "address", interchange.Row{interchange.UUIDKey: baker, "street": "Baker street", "town": float64(0)})
	require.NoError(t, err)
	assert.Same(t, addr, again)
	assert.Equal(t, "Baker street", addr.Get("street"))
	assert.Equal(t, store.NotSet, addr.Get("town"))
	assert.Equal(t, 1, s.address.Len())

	_, err = c.Apply(s.db, "planet", interchange.Row{interchange.UUIDKey: uuid.NewString()})
	require.ErrorIs(t, err, interchange.ErrUnknownTable)

	_, err = c.Apply(s.db, "town", interchange.Row{"name": "Paris"})
	require.ErrorIs(t, err, interchange.ErrMissingUUID)
}

func TestApply_UpdateRejected(t *testing.T) {
	s := newSchema(t)
	c := interchange.New(interchange.Options{})

	_, err := c.Apply(s.db, "town", interchange.Row{interchange.UUIDKey: uuid.NewString(), "name": "London"})
	require.NoError(t, err)
	paris := uuid.NewString()
	_, err = c.Apply(s.db, "town", interchange.Row{interchange.UUIDKey: paris, "name": "Paris"})
	require.NoError(t, err)

	rec, err := c.Apply(s.db, "town", interchange.Row{interchange.UUIDKey: paris, "name": "London"})
	require.ErrorIs(t, err, store.ErrNotUnique)
	assert.Equal(t, "Paris", rec.Get("name"))
}

func TestRemove(t *testing.T) {
	s := newSchema(t)
	c := interchange.New(interchange.Options{})
	london, _, _ := populate(t, s)
	u := c.UUID(london)

	ok, err := c.Remove(uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.Remove(u)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, london.Live())

	_, found := c.Lookup(u)
	assert.False(t, found)
}

func TestRemove_Forbidden(t *testing.T) {
	db := store.NewDatabase(store.DefaultConfig())
	tbl, err := db.Define(store.Definition{
		Name:           "Locked",
		Fields:         []*store.Field{store.NewField("a")},
		ValidateDelete: func(*store.Record) error { return errors.New("locked") },
	})
	require.NoError(t, err)
	r, err := tbl.Create(nil)
	require.NoError(t, err)

	c := interchange.New(interchange.Options{})
	ok, err := c.Remove(c.UUID(r))
	require.ErrorIs(t, err, store.ErrDeleteForbidden)
	assert.False(t, ok)
	assert.True(t, r.Live())
}
