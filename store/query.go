package store

import (
	"fmt"
	"iter"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// matches re-checks every predicate against r. Indexes only ever narrow
// the candidates; this is what decides membership.
func (r *Record) matches(where Where) bool {
	for name, want := range where {
		f, ok := r.table.fields[name]
		if !ok {
			return false
		}
		if !equal(f.value(r), want) {
			return false
		}
	}
	return true
}

// Iter yields the live records matching every predicate in where. A nil
// or empty where matches all records. Candidates are computed each time
// the sequence is ranged over, so records may be deleted while iterating.
// No order is guaranteed.
func (t *Table) Iter(where Where) iter.Seq[*Record] {
	return func(yield func(*Record) bool) {
		ids := t.candidates(where).ToArray()
		for _, id := range ids {
			r, ok := t.records[ID(id)]
			if !ok || !r.matches(where) {
				continue
			}
			if !yield(r) {
				return
			}
		}
	}
}

// Get returns the records matching where.
func (t *Table) Get(where Where) []*Record {
	var out []*Record
	for r := range t.Iter(where) {
		out = append(out, r)
	}
	return out
}

// Contains reports whether any record matches where.
func (t *Table) Contains(where Where) bool {
	for range t.Iter(where) {
		return true
	}
	return false
}

// Count returns the number of records matching where.
func (t *Table) Count(where Where) int {
	n := 0
	for range t.Iter(where) {
		n++
	}
	return n
}

// Delete removes every record matching where. See DeleteRecords.
func (t *Table) Delete(where Where) (int, error) {
	return t.deleteIDs(t.matching(where))
}

// DeleteRecords removes the records in records that also match where.
// Records of other tables and records already deleted are ignored.
//
// Every candidate's deletion gate is consulted before anything is
// removed; if one refuses, the call fails with ErrDeleteForbidden and no
// record is deleted.
func (t *Table) DeleteRecords(records []*Record, where Where) (int, error) {
	chosen := roaring64.New()
	for _, r := range records {
		if t.Has(r) {
			chosen.Add(uint64(r.id))
		}
	}
	chosen.And(t.matching(where))
	return t.deleteIDs(chosen)
}

// Clear removes every record without consulting the deletion gate.
func (t *Table) Clear() int {
	ids := t.live.ToArray()
	for _, id := range ids {
		r := t.records[ID(id)]
		t.unregister(r)
		t.observe(OpDelete, r.id, nil)
	}
	return len(ids)
}

func (t *Table) matching(where Where) *roaring64.Bitmap {
	out := roaring64.New()
	for r := range t.Iter(where) {
		out.Add(uint64(r.id))
	}
	return out
}

func (t *Table) deleteIDs(ids *roaring64.Bitmap) (int, error) {
	doomed := make([]*Record, 0, ids.GetCardinality())
	for _, id := range ids.ToArray() {
		doomed = append(doomed, t.records[ID(id)])
	}
	for _, r := range doomed {
		if err := t.gate(r); err != nil {
			err = fmt.Errorf("%w: %s: %w", ErrDeleteForbidden, r, err)
			t.observe(OpDelete, r.id, err)
			return 0, err
		}
	}
	for _, r := range doomed {
		t.unregister(r)
		t.observe(OpDelete, r.id, nil)
	}
	return len(doomed), nil
}
