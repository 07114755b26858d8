package store

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownField is returned when a field name is not part of the table.
	ErrUnknownField = errors.New("arbor: unknown field")

	// ErrReadOnly is returned when writing a read-only field that already holds a value.
	ErrReadOnly = errors.New("arbor: field is read only")

	// ErrNotUnique is returned when another record already holds the same unique values.
	ErrNotUnique = errors.New("arbor: duplicate value for unique fields")

	// ErrValidation is returned when the table's validation hook rejects a record.
	ErrValidation = errors.New("arbor: validation failed")

	// ErrDeleteForbidden is returned when a deletion gate rejects a record.
	ErrDeleteForbidden = errors.New("arbor: deletion forbidden")

	// ErrUnhashable is returned when a value cannot be stored in an index.
	ErrUnhashable = errors.New("arbor: value cannot be indexed")

	// ErrDeleted is returned when mutating a record that has been deleted.
	ErrDeleted = errors.New("arbor: record has been deleted")

	// ErrInvalidDefinition is returned by Define for malformed table definitions.
	ErrInvalidDefinition = errors.New("arbor: invalid table definition")

	// ErrTableNotFound is returned when a database has no table with the given name.
	ErrTableNotFound = errors.New("arbor: table not found")

	// ErrTableExists is returned when adding a second table with the same name.
	ErrTableExists = errors.New("arbor: table already exists")

	// ErrNotInGroup is returned when deleting records through a group they do not belong to.
	ErrNotInGroup = errors.New("arbor: record not in group")
)

// FieldError describes a failed operation on a single field.
//
// The cause is one of the sentinel errors above, possibly wrapping the
// error returned by a validation hook; use errors.Is to test it.
type FieldError struct {
	Table string
	Field string
	Value Value
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s.%s = %#v: %v", e.Table, e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// validationError keeps the hook's error reachable through errors.Is/As.
func validationError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrValidation, err)
}
