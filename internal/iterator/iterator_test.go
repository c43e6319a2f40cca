package iterator

import (
	"testing"

	"github.com/xxxuuu/lasagnedb/internal/dbformat"
)

// sliceIterator is a minimal Iterator backed by a sorted, in-memory
// run of entries, used to drive MergingIterator/CollapseIterator
// tests without needing a real memtable or SST.
type sliceIterator struct {
	entries []dbformat.Entry
	keys    []dbformat.InternalKey
	idx     int
}

func newSliceIterator(pairs ...[2]interface{}) *sliceIterator {
	s := &sliceIterator{}
	for _, p := range pairs {
		userKey := p[0].(string)
		seq := dbformat.SequenceNumber(p[1].(int))
		ik := dbformat.Build([]byte(userKey), seq, dbformat.OpPut)
		s.keys = append(s.keys, ik)
		s.entries = append(s.entries, dbformat.Entry{Meta: dbformat.MetaByte(dbformat.OpPut, false), Key: ik, Value: []byte(userKey)})
	}
	s.idx = -1
	return s
}

func newSliceIteratorWithDelete(userKey string, seq int) *sliceIterator {
	ik := dbformat.Build([]byte(userKey), dbformat.SequenceNumber(seq), dbformat.OpDelete)
	return &sliceIterator{
		keys:    []dbformat.InternalKey{ik},
		entries: []dbformat.Entry{{Meta: dbformat.MetaByte(dbformat.OpDelete, false), Key: ik}},
		idx:     -1,
	}
}

func (s *sliceIterator) Valid() bool                      { return s.idx >= 0 && s.idx < len(s.entries) }
func (s *sliceIterator) Key() dbformat.InternalKey         { return s.keys[s.idx] }
func (s *sliceIterator) Meta() uint8                       { return s.entries[s.idx].Meta }
func (s *sliceIterator) Value() []byte                     { return s.entries[s.idx].Value }
func (s *sliceIterator) Error() error                      { return nil }
func (s *sliceIterator) SeekToFirst()                      { s.idx = 0 }
func (s *sliceIterator) Next()                             { s.idx++ }
func (s *sliceIterator) Seek(target dbformat.InternalKey) {
	for i, k := range s.keys {
		if dbformat.Compare(k, target) >= 0 {
			s.idx = i
			return
		}
	}
	s.idx = len(s.keys)
}

func TestMergingIteratorOrdersAcrossSources(t *testing.T) {
	a := newSliceIterator([2]interface{}{"b", 1}, [2]interface{}{"d", 1})
	b := newSliceIterator([2]interface{}{"a", 1}, [2]interface{}{"c", 1})

	m := NewMergingIterator([]Source{{It: a, Priority: 0}, {It: b, Priority: 1}})
	m.SeekToFirst()

	var got []string
	for ; m.Valid(); m.Next() {
		got = append(got, string(m.Key().UserKey()))
	}
	want := []string{"a", "b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestMergingIteratorPriorityBreaksTies(t *testing.T) {
	newer := newSliceIterator([2]interface{}{"k", 5})
	older := newSliceIterator([2]interface{}{"k", 5})

	m := NewMergingIterator([]Source{{It: older, Priority: 1}, {It: newer, Priority: 0}})
	m.SeekToFirst()
	if !m.Valid() {
		t.Fatalf("merging iterator not valid")
	}
	if string(m.Value()) != "k" {
		t.Fatalf("unexpected value at tie")
	}
	// Both entries share the identical InternalKey (same user key, same
	// seq), so the lower-priority source's iterator must be selected
	// first; verify the merge doesn't panic iterating past it.
	m.Next()
	if m.Valid() {
		t.Fatalf("expected merge to exhaust after the tied entry's sole representative advances")
	}
}

func TestCollapseIteratorKeepsNewestPerUserKey(t *testing.T) {
	newer := newSliceIterator([2]interface{}{"k", 5})
	older := newSliceIterator([2]interface{}{"k", 3})
	m := NewMergingIterator([]Source{{It: newer, Priority: 0}, {It: older, Priority: 1}})

	c := NewCollapseIterator(m, true)
	c.SeekToFirst()
	if !c.Valid() {
		t.Fatalf("collapse iterator not valid")
	}
	if c.Key().Sequence() != 5 {
		t.Fatalf("collapse surfaced seq %d, want 5 (the newest)", c.Key().Sequence())
	}
	c.Next()
	if c.Valid() {
		t.Fatalf("collapse should have skipped the shadowed older version entirely")
	}
}

func TestCollapseIteratorDropsTombstonesWhenNotIncluded(t *testing.T) {
	del := newSliceIteratorWithDelete("k", 5)
	c := NewCollapseIterator(del, false)
	c.SeekToFirst()
	if c.Valid() {
		t.Fatalf("collapse with includeDel=false should drop a tombstone entirely")
	}
}

func TestCollapseIteratorSurfacesTombstonesWhenIncluded(t *testing.T) {
	del := newSliceIteratorWithDelete("k", 5)
	c := NewCollapseIterator(del, true)
	c.SeekToFirst()
	if !c.Valid() {
		t.Fatalf("collapse with includeDel=true should surface the tombstone")
	}
	if !c.Key().IsDelete() {
		t.Fatalf("surfaced entry is not a delete")
	}
}
