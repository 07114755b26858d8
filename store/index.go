package store

import (
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// ID identifies a record for the lifetime of the process. IDs are minted
// from a single counter shared by all tables and are never reused.
type ID uint64

var lastID atomic.Uint64

func nextID() ID {
	return ID(lastID.Add(1))
}

// index maps the values of one field to the set of records holding them.
type index struct {
	buckets map[Value]*roaring64.Bitmap
}

func newIndex() *index {
	return &index{buckets: make(map[Value]*roaring64.Bitmap)}
}

func (ix *index) add(v Value, id ID) {
	if !hashable(v) {
		return
	}
	b, ok := ix.buckets[v]
	if !ok {
		b = roaring64.New()
		ix.buckets[v] = b
	}
	b.Add(uint64(id))
}

// remove drops id from the bucket for v. A missing bucket is not an error.
func (ix *index) remove(v Value, id ID) {
	if !hashable(v) {
		return
	}
	b, ok := ix.buckets[v]
	if !ok {
		return
	}
	b.Remove(uint64(id))
	if b.IsEmpty() {
		delete(ix.buckets, v)
	}
}

// lookup returns the bucket for v, or nil. The bitmap must not be modified.
func (ix *index) lookup(v Value) *roaring64.Bitmap {
	return ix.buckets[v]
}

// indexFor returns the index for the named field, building it from the
// live records if the field became indexed after the table was defined.
// Indexes of fields that are no longer indexed are dropped so they cannot
// go stale.
func (t *Table) indexFor(name string) *index {
	f, ok := t.fields[name]
	if !ok {
		return nil
	}
	if !f.IsIndexed() {
		delete(t.indexes, name)
		return nil
	}
	if ix, ok := t.indexes[name]; ok {
		return ix
	}
	ix := newIndex()
	for _, id := range t.live.ToArray() {
		ix.add(f.value(t.records[ID(id)]), ID(id))
	}
	t.indexes[name] = ix
	return ix
}

// candidates narrows the live set using every indexed predicate. The
// result is a superset of the matches; callers still check each predicate.
func (t *Table) candidates(where Where) *roaring64.Bitmap {
	var acc *roaring64.Bitmap
	for name, v := range where {
		if !hashable(v) {
			continue
		}
		if _, ok := t.fields[name]; !ok {
			return roaring64.New()
		}
		ix := t.indexFor(name)
		if ix == nil {
			continue
		}
		b := ix.lookup(v)
		if b == nil {
			return roaring64.New()
		}
		if acc == nil {
			acc = b.Clone()
		} else {
			acc.And(b)
		}
	}
	if acc == nil {
		return t.live.Clone()
	}
	acc.And(t.live)
	return acc
}
