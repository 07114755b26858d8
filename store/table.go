package store

import (
	"fmt"
	"iter"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// Definition declares a table.
type Definition struct {
	// Name is the table name, e.g. "Person".
	Name string

	// Parent, if set, contributes its fields ahead of Fields. A field in
	// Fields with the same name as a parent field replaces it in place.
	Parent *Table

	// Fields in declaration order.
	Fields []*Field

	// Validate is run after every effective write and at the end of
	// construction. Returning an error rolls the write back. It may call
	// Set on the record it is given.
	Validate func(*Record) error

	// ValidateDelete is run just before a record is removed. Returning an
	// error forbids the deletion.
	ValidateDelete func(*Record) error
}

// Table is a record type: its fields, its live records and their indexes.
//
// A Table is not safe for concurrent use. Validation hooks run
// synchronously inside the mutation that triggered them.
type Table struct {
	name   string
	order  []string
	fields map[string]*Field
	parent *Table

	validate       func(*Record) error
	validateDelete func(*Record) error
	observer       Observer

	records map[ID]*Record
	live    *roaring64.Bitmap
	indexes map[string]*index
}

// Define builds a table from def.
func Define(def Definition) (*Table, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("%w: empty table name", ErrInvalidDefinition)
	}
	t := &Table{
		name:           def.Name,
		fields:         make(map[string]*Field),
		parent:         def.Parent,
		validate:       def.Validate,
		validateDelete: def.ValidateDelete,
		observer:       nopObserver{},
		records:        make(map[ID]*Record),
		live:           roaring64.New(),
		indexes:        make(map[string]*index),
	}
	if def.Parent != nil {
		for _, name := range def.Parent.order {
			t.order = append(t.order, name)
			t.fields[name] = def.Parent.fields[name].clone()
		}
	}

	own := make(map[string]bool, len(def.Fields))
	for _, f := range def.Fields {
		if f == nil || f.name == "" {
			return nil, fmt.Errorf("%w: %s: field without a name", ErrInvalidDefinition, def.Name)
		}
		if own[f.name] {
			return nil, fmt.Errorf("%w: %s: duplicate field %q", ErrInvalidDefinition, def.Name, f.name)
		}
		own[f.name] = true
		if f.IsIndexed() && !hashable(f.Default) {
			return nil, fmt.Errorf("%w: %s.%s: default cannot be indexed", ErrInvalidDefinition, def.Name, f.name)
		}
		if _, inherited := t.fields[f.name]; !inherited {
			t.order = append(t.order, f.name)
		}
		t.fields[f.name] = f.clone()
	}

	for _, name := range t.order {
		if t.fields[name].IsIndexed() {
			t.indexes[name] = newIndex()
		}
	}
	return t, nil
}

// MustDefine is like Define but panics on error. It is meant for
// package-level table declarations.
func MustDefine(def Definition) *Table {
	t, err := Define(def)
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Parent returns the table this one inherited its leading fields from.
func (t *Table) Parent() *Table { return t.parent }

// SetObserver attaches o to the table. A nil o discards events.
func (t *Table) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	t.observer = o
}

// Fields returns the field names in declaration order, inherited first.
func (t *Table) Fields() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// FieldInfo returns the current flags of the named field.
func (t *Table) FieldInfo(name string) (FieldInfo, bool) {
	f, ok := t.fields[name]
	if !ok {
		return FieldInfo{}, false
	}
	return f.info(), true
}

// Field returns the named field, or nil. Its flags may be changed in place.
func (t *Table) Field(name string) *Field {
	return t.fields[name]
}

// Len returns the number of live records.
func (t *Table) Len() int {
	return len(t.records)
}

// Has reports whether r is a live record of this table.
func (t *Table) Has(r *Record) bool {
	if r == nil || r.table != t {
		return false
	}
	_, ok := t.records[r.id]
	return ok
}

// All yields every live record in creation order.
func (t *Table) All() iter.Seq[*Record] {
	return t.Iter(nil)
}

func (t *Table) String() string { return t.name }

func (t *Table) observe(op Op, id ID, err error) {
	t.observer.Observe(Event{Table: t.name, Op: op, Record: id, Err: err})
}

func (t *Table) uniqueFields() []*Field {
	var out []*Field
	for _, name := range t.order {
		if f := t.fields[name]; f.Unique {
			out = append(out, f)
		}
	}
	return out
}

// collides reports whether another live record shares r's unique values.
func (t *Table) collides(r *Record) bool {
	uniques := t.uniqueFields()
	if len(uniques) == 0 {
		return false
	}
	where := make(Where, len(uniques))
	for _, f := range uniques {
		where[f.name] = f.value(r)
	}
	for other := range t.Iter(where) {
		if other != r {
			return true
		}
	}
	return false
}

// register makes a fully validated record visible.
func (t *Table) register(r *Record) {
	r.state = stateLive
	t.records[r.id] = r
	for _, name := range t.order {
		if ix := t.indexFor(name); ix != nil {
			ix.add(t.fields[name].value(r), r.id)
		}
	}
	t.live.Add(uint64(r.id))
}

// unregister removes r from the instance store and prunes its index entries.
func (t *Table) unregister(r *Record) {
	for _, name := range t.order {
		if ix := t.indexFor(name); ix != nil {
			ix.remove(t.fields[name].value(r), r.id)
		}
	}
	t.live.Remove(uint64(r.id))
	delete(t.records, r.id)
	r.state = stateDeleted
}
