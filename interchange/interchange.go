// Package interchange exports a Database as UUID-keyed rows and imports
// such rows back.
//
// A dump maps lower-cased table names to rows. Each row carries its
// identifier under "_uuid_"; references are written as the referenced
// row's identifier, NotSet as 0, nil as null and every other value as
// text:
//
//	{
//	    "person": [
//	        {"_uuid_": "c8682f76-...", "name": "Holmes", "address": "cfbb21bb-..."}
//	    ]
//	}
//
// A Connector remembers which identifier belongs to which record, so
// identifiers read by Import are written again by later exports.
package interchange

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/jacentio/arbor/internal/textval"
	"github.com/jacentio/arbor/store"
)

// UUIDKey is the row key holding the record identifier.
const UUIDKey = "_uuid_"

var (
	// ErrUnknownTable is returned when a row names a table the database does not have.
	ErrUnknownTable = errors.New("arbor: unknown table in dump")

	// ErrMissingUUID is returned when a row has no usable identifier.
	ErrMissingUUID = errors.New("arbor: row has no valid _uuid_")

	// ErrUnresolved is returned when a cell refers to a record that is
	// neither in the dump nor live in the database.
	ErrUnresolved = errors.New("arbor: unresolved reference")
)

// Row is one exported record.
type Row map[string]any

// Dump is an exported database: table name to rows.
type Dump map[string][]Row

// Result summarizes an import.
type Result struct {
	Created int
	Skipped int
}

// Options configures a Connector.
type Options struct {
	// Logger receives a warning for every skipped row.
	// Default: slog.Default()
	Logger *slog.Logger

	// Decode converts text cells back into field values.
	// Default: keep the text as a string
	Decode textval.Decoder
}

func (o *Options) validate() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Decode == nil {
		o.Decode = textval.Identity
	}
}

// Connector converts between a Database and Dumps. It is not safe for
// concurrent use.
type Connector struct {
	opts     Options
	byRecord map[*store.Record]uuid.UUID
	byUUID   map[uuid.UUID]*store.Record
}

// New creates a Connector.
func New(opts Options) *Connector {
	opts.validate()
	return &Connector{
		opts:     opts,
		byRecord: make(map[*store.Record]uuid.UUID),
		byUUID:   make(map[uuid.UUID]*store.Record),
	}
}

// UUID returns the identifier of r, minting a random one the first time.
func (c *Connector) UUID(r *store.Record) uuid.UUID {
	if u, ok := c.byRecord[r]; ok {
		return u
	}
	u := uuid.New()
	c.bind(r, u)
	return u
}

// Lookup returns the live record with identifier u.
func (c *Connector) Lookup(u uuid.UUID) (*store.Record, bool) {
	r, ok := c.byUUID[u]
	if !ok || !r.Live() {
		return nil, false
	}
	return r, true
}

func (c *Connector) bind(r *store.Record, u uuid.UUID) {
	if old, ok := c.byUUID[u]; ok {
		delete(c.byRecord, old)
	}
	c.byRecord[r] = u
	c.byUUID[u] = r
}

// prune forgets identifiers of deleted records.
func (c *Connector) prune() {
	for r, u := range c.byRecord {
		if !r.Live() {
			delete(c.byRecord, r)
			delete(c.byUUID, u)
		}
	}
}

// Export converts every live record of db into rows.
func (c *Connector) Export(db *store.Database) Dump {
	c.prune()
	ref := func(r *store.Record) any { return c.UUID(r).String() }

	dump := make(Dump, len(db.Tables()))
	for _, t := range db.Tables() {
		fields := t.Fields()
		rows := []Row{}
		for r := range t.All() {
			row := make(Row, len(fields)+1)
			row[UUIDKey] = c.UUID(r).String()
			for _, f := range fields {
				row[f] = textval.Encode(r.Get(f), 0, ref)
			}
			rows = append(rows, row)
		}
		dump[strings.ToLower(t.Name())] = rows
	}
	return dump
}

// ExportJSON is Export encoded as JSON with sorted keys.
func (c *Connector) ExportJSON(db *store.Database) ([]byte, error) {
	return json.Marshal(c.Export(db))
}

// ImportJSON decodes data and imports it. Only a malformed document is an
// error; bad rows are skipped.
func (c *Connector) ImportJSON(db *store.Database, data []byte) (Result, error) {
	var dump Dump
	if err := json.Unmarshal(data, &dump); err != nil {
		return Result{}, fmt.Errorf("decode dump: %w", err)
	}
	return c.Import(db, dump), nil
}

type pending struct {
	table  *store.Table
	row    Row
	state  uint8
	record *store.Record
}

const (
	pendingNew uint8 = iota
	pendingBuilding
	pendingDone
	pendingFailed
)

type importer struct {
	c       *Connector
	rows    map[uuid.UUID]*pending
	skipped int
}

// Import creates a record for every row of dump. Rows are created after
// the rows they refer to. Rows for unknown tables, rows without an
// identifier, rows whose identifier already names a live record, and rows
// the store rejects are logged and skipped.
func (c *Connector) Import(db *store.Database, dump Dump) Result {
	tables := tablesByName(db)
	im := &importer{c: c, rows: make(map[uuid.UUID]*pending)}

	for name, rows := range dump {
		t, ok := tables[strings.ToLower(name)]
		if !ok {
			c.opts.Logger.Warn("skipping unknown table", "table", name, "rows", len(rows))
			im.skipped += len(rows)
			continue
		}
		for _, row := range rows {
			u, err := rowUUID(row)
			if err != nil {
				c.opts.Logger.Warn("skipping row", "table", name, "error", err)
				im.skipped++
				continue
			}
			if _, live := c.Lookup(u); live {
				c.opts.Logger.Warn("skipping row already imported", "table", name, "uuid", u)
				im.skipped++
				continue
			}
			im.rows[u] = &pending{table: t, row: row}
		}
	}

	ids := make([]uuid.UUID, 0, len(im.rows))
	for u := range im.rows {
		ids = append(ids, u)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	var res Result
	for _, u := range ids {
		if im.build(u) != nil {
			res.Created++
		}
	}
	res.Skipped = im.skipped
	c.opts.Logger.Info("dump imported", "created", res.Created, "skipped", res.Skipped)
	return res
}

func (im *importer) build(u uuid.UUID) *store.Record {
	p, ok := im.rows[u]
	if !ok {
		return nil
	}
	switch p.state {
	case pendingDone:
		return p.record
	case pendingFailed:
		return nil
	case pendingBuilding:
		im.c.opts.Logger.Warn("reference cycle", "table", p.table.Name(), "uuid", u)
		return nil
	}
	p.state = pendingBuilding

	resolve := func(ref uuid.UUID) (*store.Record, bool) {
		if _, inDump := im.rows[ref]; inDump {
			r := im.build(ref)
			return r, true
		}
		return im.c.Lookup(ref)
	}
	values, err := im.c.values(p.table, p.row, resolve)
	if err != nil {
		return im.fail(p, u, err)
	}
	rec, err := p.table.Create(values)
	if err != nil {
		return im.fail(p, u, err)
	}
	im.c.bind(rec, u)
	p.state = pendingDone
	p.record = rec
	return rec
}

func (im *importer) fail(p *pending, u uuid.UUID, err error) *store.Record {
	p.state = pendingFailed
	im.skipped++
	im.c.opts.Logger.Warn("skipping row", "table", p.table.Name(), "uuid", u, "error", err)
	return nil
}

// Apply creates or updates the record identified by row's "_uuid_" in the
// named table. Updates set changed fields one at a time in declaration
// order and stop at the first error, which is returned.
func (c *Connector) Apply(db *store.Database, table string, row Row) (*store.Record, error) {
	t, ok := tablesByName(db)[strings.ToLower(table)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	u, err := rowUUID(row)
	if err != nil {
		return nil, err
	}
	values, err := c.values(t, row, c.Lookup)
	if err != nil {
		return nil, err
	}

	if rec, ok := c.Lookup(u); ok && rec.Table() == t {
		for _, f := range t.Fields() {
			v, ok := values[f]
			if !ok {
				continue
			}
			if err := rec.Set(f, v); err != nil {
				return rec, err
			}
		}
		return rec, nil
	}

	rec, err := t.Create(values)
	if err != nil {
		return nil, err
	}
	c.bind(rec, u)
	return rec, nil
}

// Remove deletes the record identified by u. It reports false if no live
// record has that identifier.
func (c *Connector) Remove(u uuid.UUID) (bool, error) {
	rec, ok := c.Lookup(u)
	if !ok {
		return false, nil
	}
	if _, err := rec.Table().DeleteRecords([]*store.Record{rec}, nil); err != nil {
		return false, err
	}
	delete(c.byRecord, rec)
	delete(c.byUUID, u)
	return true, nil
}

// values converts the cells of row into field values for t. Cells for
// fields t does not have are ignored. A string in UUID form is always a
// reference: it fails with ErrUnresolved unless resolve yields a record.
func (c *Connector) values(t *store.Table, row Row, resolve func(uuid.UUID) (*store.Record, bool)) (store.Values, error) {
	out := make(store.Values, len(row))
	for key, cell := range row {
		if key == UUIDKey || t.Field(key) == nil {
			continue
		}
		switch v := cell.(type) {
		case nil:
			out[key] = nil
		case float64:
			if v == 0 {
				out[key] = store.NotSet
				continue
			}
			dv, err := c.opts.Decode(t.Name(), key, fmt.Sprint(v))
			if err != nil {
				return nil, err
			}
			out[key] = dv
		case int:
			if v == 0 {
				out[key] = store.NotSet
				continue
			}
			dv, err := c.opts.Decode(t.Name(), key, fmt.Sprint(v))
			if err != nil {
				return nil, err
			}
			out[key] = dv
		case string:
			if ref, err := uuid.Parse(v); err == nil && len(v) == 36 {
				r, _ := resolve(ref)
				if r == nil {
					return nil, fmt.Errorf("%w: %s=%s", ErrUnresolved, key, v)
				}
				out[key] = r
				continue
			}
			dv, err := c.opts.Decode(t.Name(), key, v)
			if err != nil {
				return nil, err
			}
			out[key] = dv
		default:
			out[key] = v
		}
	}
	return out, nil
}

func rowUUID(row Row) (uuid.UUID, error) {
	s, ok := row[UUIDKey].(string)
	if !ok {
		return uuid.Nil, ErrMissingUUID
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrMissingUUID, s)
	}
	return u, nil
}

func tablesByName(db *store.Database) map[string]*store.Table {
	out := make(map[string]*store.Table)
	for _, t := range db.Tables() {
		out[strings.ToLower(t.Name())] = t
	}
	return out
}
