// Package store provides an in-memory record store with declared schemas.
//
// Records are linked to each other directly: a field may hold a *Record,
// and that reference is what other tables query and index on. There are no
// keys to keep in sync.
//
// # Key Features
//
//   - Tables declared once from ordered fields, optionally inheriting a parent's fields
//   - Per-field defaults and read-only fields
//   - Composite unique constraints (all unique fields together)
//   - Indexed equality lookups that always agree with a full scan
//   - Validation hooks with rollback on failure
//   - Deletion gates, all-or-nothing per delete call
//
// # Declaring tables
//
//	Town := store.MustDefine(store.Definition{
//	    Name:   "Town",
//	    Fields: []*store.Field{store.NewField("name", store.Unique())},
//	})
//	Person := store.MustDefine(store.Definition{
//	    Name: "Person",
//	    Fields: []*store.Field{
//	        store.NewField("custno", store.Unique()),
//	        store.NewField("name", store.Indexed()),
//	        store.NewField("age", store.Default(20)),
//	        store.NewField("town", store.Indexed()),
//	    },
//	    Validate: func(r *store.Record) error { ... },
//	})
//
// # Mutations
//
// [Table.Create] and [Record.Set] share one pipeline: store the value,
// check the unique key, run the validation hook, update the indexes. A
// failure at any step restores the previous value; a record that fails
// construction is never visible.
//
// # Errors
//
//   - [ErrUnknownField] - no such field
//   - [ErrReadOnly] - read-only field already set
//   - [ErrNotUnique] - unique key collision
//   - [ErrValidation] - validation hook failed (wraps the hook's error)
//   - [ErrDeleteForbidden] - deletion gate failed (wraps the gate's error)
//   - [ErrUnhashable] - value cannot be stored in an index
//   - [ErrDeleted] - record has been deleted
//
// A Table and its records must not be used from more than one goroutine
// at a time.
package store
