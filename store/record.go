package store

import (
	"fmt"
	"sort"
)

type recordState uint8

const (
	stateBuilding recordState = iota
	stateLive
	stateDeleted
)

// Record is one instance of a Table.
type Record struct {
	id     ID
	table  *Table
	values map[string]Value
	state  recordState

	// setting counts the in-progress Set calls per field. Only the
	// outermost call of a field touches its index.
	setting map[string]int
}

// ID returns the record's process-unique identity.
func (r *Record) ID() ID { return r.id }

// Table returns the table the record belongs to.
func (r *Record) Table() *Table { return r.table }

// Live reports whether the record is in its table's instance store.
func (r *Record) Live() bool { return r.state == stateLive }

func (r *Record) String() string {
	return fmt.Sprintf("%s#%d", r.table.name, r.id)
}

// Get returns the value of the named field, its default if it was never
// stored, or NotSet if the table has no such field.
func (r *Record) Get(name string) Value {
	f, ok := r.table.fields[name]
	if !ok {
		return NotSet
	}
	return f.value(r)
}

// Values returns a copy of every field value, defaults included.
func (r *Record) Values() Values {
	out := make(Values, len(r.table.order))
	for _, name := range r.table.order {
		out[name] = r.table.fields[name].value(r)
	}
	return out
}

// CanDelete reports whether the table's deletion gate would let r go.
func (r *Record) CanDelete() bool {
	return r.table.gate(r) == nil
}

// Set assigns value to the named field.
//
// Writing the current value is a no-op. Otherwise the value is stored,
// the unique key is checked, and the table's validation hook is run; if
// either fails the previous value is restored and the indexes are left
// untouched. Writes made by a validation hook while a record is being
// created are not reported to the observer.
func (r *Record) Set(name string, value Value) error {
	changed, err := r.set(name, value)
	if (changed || err != nil) && r.state != stateBuilding {
		r.table.observe(OpUpdate, r.id, err)
	}
	return err
}

func (r *Record) set(name string, value Value) (bool, error) {
	t := r.table
	f, ok := t.fields[name]
	if !ok {
		return false, &FieldError{Table: t.name, Field: name, Value: value, Err: ErrUnknownField}
	}
	if r.state == stateDeleted {
		return false, &FieldError{Table: t.name, Field: name, Value: value, Err: ErrDeleted}
	}

	old := f.value(r)
	if equal(old, value) {
		return false, nil
	}
	if f.IsIndexed() && !hashable(value) {
		return false, &FieldError{Table: t.name, Field: name, Value: value, Err: ErrUnhashable}
	}

	if r.setting == nil {
		r.setting = make(map[string]int)
	}
	r.setting[name]++
	defer func() {
		if r.setting[name]--; r.setting[name] == 0 {
			delete(r.setting, name)
		}
	}()
	outermost := r.setting[name] == 1

	stored, hadStored := r.values[name]
	if err := f.store(r, value); err != nil {
		return false, &FieldError{Table: t.name, Field: name, Value: value, Err: err}
	}
	rollback := func() {
		if hadStored {
			r.values[name] = stored
		} else {
			delete(r.values, name)
		}
	}

	if f.Unique && t.collides(r) {
		rollback()
		return false, &FieldError{Table: t.name, Field: name, Value: value, Err: ErrNotUnique}
	}
	if err := t.runValidate(r); err != nil {
		rollback()
		return false, &FieldError{Table: t.name, Field: name, Value: value, Err: validationError(err)}
	}

	// Nested writes of this field by the hook leave the index alone, so
	// the record is still filed under old. Index the value the hook left.
	if outermost && r.state == stateLive {
		if ix := t.indexFor(name); ix != nil {
			ix.remove(old, r.id)
			ix.add(f.value(r), r.id)
		}
	}
	return true, nil
}

// Create builds a record from values, validates it and adds it to the
// table. Fields not named in values read their defaults. Nothing is
// registered or indexed unless every check passes.
func (t *Table) Create(values Values) (*Record, error) {
	r, err := t.create(values)
	var id ID
	if r != nil {
		id = r.id
	}
	t.observe(OpCreate, id, err)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (t *Table) create(values Values) (*Record, error) {
	var unknown []string
	for name := range values {
		if _, ok := t.fields[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, &FieldError{Table: t.name, Field: unknown[0], Value: values[unknown[0]], Err: ErrUnknownField}
	}

	r := &Record{
		id:     nextID(),
		table:  t,
		values: make(map[string]Value, len(values)),
		state:  stateBuilding,
	}
	for _, name := range t.order {
		v, ok := values[name]
		if !ok {
			continue
		}
		if t.fields[name].IsIndexed() && !hashable(v) {
			return r, &FieldError{Table: t.name, Field: name, Value: v, Err: ErrUnhashable}
		}
		r.values[name] = v
	}

	if t.collides(r) {
		return r, &FieldError{Table: t.name, Field: t.uniqueFields()[0].name, Value: t.uniqueFields()[0].value(r), Err: ErrNotUnique}
	}
	if err := t.runValidate(r); err != nil {
		return r, validationError(err)
	}
	t.register(r)
	return r, nil
}

func (t *Table) runValidate(r *Record) error {
	if t.validate == nil {
		return nil
	}
	return t.validate(r)
}

func (t *Table) gate(r *Record) error {
	if t.validateDelete == nil {
		return nil
	}
	return t.validateDelete(r)
}
