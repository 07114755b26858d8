package store

import (
	"fmt"
	"iter"
)

// Group is a view of the records of one table that match a fixed set of
// predicates, optionally extended by a function evaluated on every call.
//
// A typical use is the set of records pointing at an owner:
//
//	addresses := store.NewGroup(Address, store.Where{"town": london})
type Group struct {
	table *Table
	where Where
	match func() Where
}

// NewGroup returns a view of table restricted to where.
func NewGroup(table *Table, where Where) *Group {
	return &Group{table: table, where: where}
}

// Match adds predicates computed at call time. Later keys win over the
// group's fixed predicates.
func (g *Group) Match(fn func() Where) *Group {
	g.match = fn
	return g
}

// Table returns the underlying table.
func (g *Group) Table() *Table { return g.table }

// merge combines extra with the group's own predicates; the group wins.
func (g *Group) merge(extra Where) Where {
	out := make(Where, len(extra)+len(g.where))
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range g.where {
		out[k] = v
	}
	if g.match != nil {
		for k, v := range g.match() {
			out[k] = v
		}
	}
	return out
}

// Iter yields the group's records that also match where.
func (g *Group) Iter(where Where) iter.Seq[*Record] {
	return g.table.Iter(g.merge(where))
}

// Get returns the group's records that also match where.
func (g *Group) Get(where Where) []*Record {
	return g.table.Get(g.merge(where))
}

// Contains reports whether any record of the group matches where.
func (g *Group) Contains(where Where) bool {
	return g.table.Contains(g.merge(where))
}

// Len returns the number of records in the group.
func (g *Group) Len() int {
	return g.table.Count(g.merge(nil))
}

// Has reports whether r is a live member of the group.
func (g *Group) Has(r *Record) bool {
	return g.table.Has(r) && r.matches(g.merge(nil))
}

// Create creates a record in the underlying table with the group's
// predicates applied as field values.
func (g *Group) Create(values Values) (*Record, error) {
	merged := make(Values, len(values))
	for k, v := range values {
		merged[k] = v
	}
	for k, v := range g.merge(nil) {
		merged[k] = v
	}
	return g.table.Create(merged)
}

// Delete removes the group's records that also match where.
func (g *Group) Delete(where Where) (int, error) {
	return g.table.Delete(g.merge(where))
}

// DeleteRecords removes records, all of which must belong to the group.
// Nil entries are ignored.
func (g *Group) DeleteRecords(records []*Record, where Where) (int, error) {
	merged := g.merge(where)
	for _, r := range records {
		if r == nil {
			continue
		}
		if r.table != g.table || !r.matches(merged) {
			return 0, fmt.Errorf("%w: %v", ErrNotInGroup, r)
		}
	}
	return g.table.DeleteRecords(records, merged)
}
