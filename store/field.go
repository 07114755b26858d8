package store

// Field describes one attribute of a table.
//
// The flags are read on every mutation, so changing them after the table
// has been defined takes effect on the next write or query. Indexes for
// fields that become indexed are built on first use.
type Field struct {
	name string

	// Unique requires the combination of all unique fields to be distinct
	// across the live records of the table. Unique implies indexed.
	Unique bool

	// Indexed maintains a value lookup for the field.
	Indexed bool

	// Default is returned for records that never stored a value.
	Default Value

	// ReadOnly rejects writes once a value other than NotSet has been stored.
	ReadOnly bool
}

// FieldOption configures a Field.
type FieldOption func(*Field)

// Unique marks the field as part of the table's unique key.
func Unique() FieldOption {
	return func(f *Field) { f.Unique = true }
}

// Indexed marks the field as indexed.
func Indexed() FieldOption {
	return func(f *Field) { f.Indexed = true }
}

// Default sets the value reported before a record stores one.
func Default(v Value) FieldOption {
	return func(f *Field) { f.Default = v }
}

// ReadOnly allows a single write per record.
func ReadOnly() FieldOption {
	return func(f *Field) { f.ReadOnly = true }
}

// NewField creates a field with a NotSet default.
func NewField(name string, opts ...FieldOption) *Field {
	f := &Field{name: name, Default: NotSet}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name returns the field name.
func (f *Field) Name() string { return f.name }

// IsIndexed reports whether the field has an index.
func (f *Field) IsIndexed() bool { return f.Indexed || f.Unique }

func (f *Field) clone() *Field {
	c := *f
	return &c
}

// value returns the stored value or the default.
func (f *Field) value(r *Record) Value {
	if v, ok := r.values[f.name]; ok {
		return v
	}
	return f.Default
}

// store writes v for r unless the field is read-only and already holds a value.
func (f *Field) store(r *Record, v Value) error {
	if f.ReadOnly {
		if cur, ok := r.values[f.name]; ok && cur != NotSet {
			return ErrReadOnly
		}
	}
	r.values[f.name] = v
	return nil
}

// FieldInfo is a snapshot of a field's flags.
type FieldInfo struct {
	Name     string
	Unique   bool
	Indexed  bool
	Default  Value
	ReadOnly bool
}

func (f *Field) info() FieldInfo {
	return FieldInfo{
		Name:     f.name,
		Unique:   f.Unique,
		Indexed:  f.IsIndexed(),
		Default:  f.Default,
		ReadOnly: f.ReadOnly,
	}
}
