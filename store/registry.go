package store

import (
	"fmt"
	"log/slog"
)

// Database groups tables so they can be looked up by name, exported
// together and cleared together.
type Database struct {
	config Config
	tables []*Table
	byName map[string]*Table
}

// NewDatabase creates an empty Database.
func NewDatabase(config Config) *Database {
	config.validate()
	return &Database{
		config: config,
		byName: make(map[string]*Table),
	}
}

// Define builds a table from def and adds it to the database.
func (db *Database) Define(def Definition) (*Table, error) {
	t, err := Define(def)
	if err != nil {
		return nil, err
	}
	if err := db.Add(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Add registers an existing table and attaches the database's observer.
func (db *Database) Add(t *Table) error {
	if _, ok := db.byName[t.name]; ok {
		return fmt.Errorf("%w: %s", ErrTableExists, t.name)
	}
	t.SetObserver(db.config.Observer)
	db.tables = append(db.tables, t)
	db.byName[t.name] = t
	return nil
}

// Tables returns all tables in registration order.
func (db *Database) Tables() []*Table {
	out := make([]*Table, len(db.tables))
	copy(out, db.tables)
	return out
}

// TableNames returns the names of all tables in registration order.
func (db *Database) TableNames() []string {
	names := make([]string, len(db.tables))
	for i, t := range db.tables {
		names[i] = t.name
	}
	return names
}

// Table returns the table with the given name.
func (db *Database) Table(name string) (*Table, error) {
	t, ok := db.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return t, nil
}

// Has reports whether a table with the given name is registered.
func (db *Database) Has(name string) bool {
	_, ok := db.byName[name]
	return ok
}

// Reset deletes every record from every table. Deletion gates are not
// consulted.
func (db *Database) Reset() {
	total := 0
	for _, t := range db.tables {
		total += t.Clear()
	}
	db.config.Logger.Debug("database reset", "tables", len(db.tables), "records", total)
}

// Logger returns the configured logger.
func (db *Database) Logger() *slog.Logger {
	return db.config.Logger
}
