package store

import "log/slog"

// Op identifies the kind of operation reported to an Observer.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Event describes one completed or failed operation.
type Event struct {
	Table string
	Op    Op

	// Record is zero for creates that failed before an identity was minted.
	Record ID

	// Err is nil on success.
	Err error
}

// Observer receives an Event for every create, effective update and
// deleted record, and for every failed operation.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

type nopObserver struct{}

func (nopObserver) Observe(Event) {}

// Config holds configuration for a Database.
type Config struct {
	// Logger is used by the database and handed to connectors.
	// Default: slog.Default()
	Logger *slog.Logger

	// Observer is attached to every table added to the database.
	// Default: discards events
	Observer Observer
}

// DefaultConfig returns a Config that logs to the default slog logger and
// observes nothing.
func DefaultConfig() Config {
	return Config{
		Logger:   slog.Default(),
		Observer: nopObserver{},
	}
}

// validate fills in defaults for unset values.
func (c *Config) validate() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
}
