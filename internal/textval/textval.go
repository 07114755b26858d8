// Package textval converts record values to and from the flat text form
// used by the dataset connectors.
package textval

import (
	"fmt"

	"github.com/jacentio/arbor/store"
)

// Decoder turns exported text back into a field value.
type Decoder func(table, field, text string) (store.Value, error)

// Identity keeps text as a string.
func Identity(_, _ string, text string) (store.Value, error) {
	return text, nil
}

// Encode maps a field value to its exported form: NotSet becomes
// notSet, nil stays nil, records go through ref, and everything else is
// formatted as text.
func Encode(v store.Value, notSet any, ref func(*store.Record) any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case *store.Record:
		return ref(x)
	case string:
		return x
	case []byte:
		return string(x)
	}
	if v == store.NotSet {
		return notSet
	}
	return fmt.Sprint(v)
}
