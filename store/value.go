package store

import "reflect"

// Value is anything a field can hold. References to other records are
// stored as *Record values.
type Value = any

// Values maps field names to values, e.g. the arguments of Table.Create.
type Values map[string]Value

// Where is a conjunction of equality predicates keyed by field name.
type Where map[string]Value

type notSet struct{}

func (notSet) String() string { return "NotSet" }

// Bool always reports false.
func (notSet) Bool() bool { return false }

// NotSet marks a field that has never been given a value. It is distinct
// from every other value, nil included.
var NotSet Value = notSet{}

// IsSet reports whether v is anything other than NotSet.
func IsSet(v Value) bool {
	return v != NotSet
}

// hashable reports whether v can key an index bucket.
func hashable(v Value) bool {
	if v == nil {
		return true
	}
	return reflect.ValueOf(v).Comparable()
}

// equal compares with == when both sides allow it and falls back to
// reflect.DeepEqual for slices, maps and the like.
func equal(a, b Value) bool {
	if hashable(a) && hashable(b) {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}
