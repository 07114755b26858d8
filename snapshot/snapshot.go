// Package snapshot writes a Database to a SQLite file and reads it back.
//
// Every table becomes a SQLite table without constraints, with an "_oid_"
// column followed by one column per field. Records are identified by their
// store.ID, references are stored as the referenced record's id, NotSet as
// 0, nil as NULL and every other value as text.
package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/jacentio/arbor/internal/textval"
	"github.com/jacentio/arbor/store"
)

// OIDColumn holds the record id of each row.
const OIDColumn = "_oid_"

// Options configures Save and Load.
type Options struct {
	// Logger receives a warning for every skipped table or row.
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

// Result summarizes a Load.
type Result struct {
	Created int
	Skipped int
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Save replaces the tables of the SQLite database at path with the
// contents of db. All writes happen in one transaction.
func Save(ctx context.Context, db *store.Database, path string, opts Options) error {
	opts.validate()

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, t := range db.Tables() {
		n, err := saveTable(ctx, tx, t)
		if err != nil {
			return fmt.Errorf("save table %q: %w", t.Name(), err)
		}
		opts.Logger.Debug("table saved", "table", t.Name(), "records", n)
	}
	return tx.Commit()
}

func saveTable(ctx context.Context, tx *sql.Tx, t *store.Table) (int, error) {
	fields := t.Fields()
	cols := make([]string, 0, len(fields)+1)
	cols = append(cols, quote(OIDColumn))
	for _, f := range fields {
		cols = append(cols, quote(f))
	}

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quote(t.Name())); err != nil {
		return 0, err
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", quote(t.Name()), strings.Join(cols, ", "))
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return 0, err
	}

	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", quote(t.Name()), marks))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	ref := func(r *store.Record) any { return int64(r.ID()) }
	n := 0
	for r := range t.All() {
		args := make([]any, 0, len(cols))
		args = append(args, int64(r.ID()))
		for _, f := range fields {
			args = append(args, textval.Encode(r.Get(f), int64(0), ref))
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

type rowState uint8

const (
	rowPending rowState = iota
	rowBuilding
	rowDone
	rowFailed
)

type row struct {
	table  *store.Table
	cells  map[string]any
	state  rowState
	record *store.Record
}

type loader struct {
	opts    Options
	rows    map[int64]*row
	skipped int
}

// Load reads the SQLite database at path into db. Tables of db missing
// from the file are skipped, but any other read error fails the load.
// Rows that cannot be created, or that refer to rows that cannot be
// created, are logged and skipped; they never fail the whole load.
func Load(ctx context.Context, db *store.Database, path string, opts Options) (Result, error) {
	opts.validate()
	if _, err := os.Stat(path); err != nil {
		return Result{}, err
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return Result{}, err
	}
	defer conn.Close()

	l := &loader{opts: opts, rows: make(map[int64]*row)}
	for _, t := range db.Tables() {
		if err := l.readTable(ctx, conn, t); err != nil {
			return Result{}, fmt.Errorf("read table %q: %w", t.Name(), err)
		}
	}

	oids := make([]int64, 0, len(l.rows))
	for oid := range l.rows {
		oids = append(oids, oid)
	}
	sort.Slice(oids, func(i, j int) bool { return oids[i] < oids[j] })

	var res Result
	for _, oid := range oids {
		if l.build(oid) != nil {
			res.Created++
		}
	}
	res.Skipped = l.skipped
	opts.Logger.Info("snapshot loaded", "path", path, "created", res.Created, "skipped", res.Skipped)
	return res, nil
}

func (l *loader) readTable(ctx context.Context, conn *sql.DB, t *store.Table) error {
	var found int
	err := conn.QueryRowContext(ctx,
		"SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", t.Name(),
	).Scan(&found)
	if err != nil {
		return err
	}
	if found == 0 {
		l.opts.Logger.Warn("table not found in snapshot", "table", t.Name())
		return nil
	}

	rows, err := conn.QueryContext(ctx, "SELECT * FROM "+quote(t.Name()))
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		cells := make(map[string]any, len(cols))
		for i, c := range cols {
			cells[c] = vals[i]
		}
		oid, ok := cells[OIDColumn].(int64)
		if !ok {
			l.opts.Logger.Warn("row without oid", "table", t.Name())
			l.skipped++
			continue
		}
		delete(cells, OIDColumn)
		l.rows[oid] = &row{table: t, cells: cells}
	}
	return rows.Err()
}

// build creates the record for oid after creating everything it refers
// to. It returns nil if the row, or anything it depends on, failed.
func (l *loader) build(oid int64) *store.Record {
	r, ok := l.rows[oid]
	if !ok {
		return nil
	}
	switch r.state {
	case rowDone:
		return r.record
	case rowFailed:
		return nil
	case rowBuilding:
		l.opts.Logger.Warn("reference cycle", "table", r.table.Name(), "oid", oid)
		return nil
	}
	r.state = rowBuilding

	values := make(store.Values, len(r.cells))
	for col, cell := range r.cells {
		if r.table.Field(col) == nil {
			continue
		}
		v, err := l.value(r.table, col, cell)
		if err != nil {
			return l.fail(r, oid, err)
		}
		values[col] = v
	}

	rec, err := r.table.Create(values)
	if err != nil {
		return l.fail(r, oid, err)
	}
	r.state = rowDone
	r.record = rec
	return rec
}

func (l *loader) value(t *store.Table, field string, cell any) (store.Value, error) {
	switch v := cell.(type) {
	case nil:
		return nil, nil
	case int64:
		if v == 0 {
			return store.NotSet, nil
		}
		ref := l.build(v)
		if ref == nil {
			return nil, fmt.Errorf("unresolved reference %s=%d", field, v)
		}
		return ref, nil
	case []byte:
		return l.opts.Decode(t.Name(), field, string(v))
	case string:
		return l.opts.Decode(t.Name(), field, v)
	default:
		return l.opts.Decode(t.Name(), field, fmt.Sprint(v))
	}
}

func (l *loader) fail(r *row, oid int64, err error) *store.Record {
	r.state = rowFailed
	l.skipped++
	l.opts.Logger.Warn("skipping row", "table", r.table.Name(), "oid", oid, "error", err)
	return nil
}
