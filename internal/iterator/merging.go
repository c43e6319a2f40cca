package iterator

import (
	"container/heap"

	"github.com/xxxuuu/lasagnedb/internal/dbformat"
)

// MergingIterator merges multiple sorted Sources into a single
// InternalKey-ordered stream using a min-heap, same approach as the
// teacher's MergingIterator but over this package's richer Iterator
// interface and Source priority.
type MergingIterator struct {
	sources []Source
	h       *iterHeap
	current int // index into sources of the iterator currently at the heap's top
	err     error
}

// NewMergingIterator returns a MergingIterator over sources.
func NewMergingIterator(sources []Source) *MergingIterator {
	return &MergingIterator{
		sources: sources,
		h:       &iterHeap{},
		current: -1,
	}
}

func (m *MergingIterator) Valid() bool { return m.current >= 0 }

func (m *MergingIterator) Key() dbformat.InternalKey {
	if !m.Valid() {
		return nil
	}
	return m.sources[m.current].It.Key()
}

func (m *MergingIterator) Meta() uint8 {
	if !m.Valid() {
		return 0
	}
	return m.sources[m.current].It.Meta()
}

func (m *MergingIterator) Value() []byte {
	if !m.Valid() {
		return nil
	}
	return m.sources[m.current].It.Value()
}

func (m *MergingIterator) Error() error { return m.err }

func (m *MergingIterator) rebuildHeap(seek func(it Iterator)) {
	m.err = nil
	m.h.items = m.h.items[:0]
	for i := range m.sources {
		it := m.sources[i].It
		seek(it)
		if err := it.Error(); err != nil {
			m.err = err
			m.current = -1
			return
		}
		if it.Valid() {
			m.h.items = append(m.h.items, heapItem{index: i, key: it.Key(), priority: m.sources[i].Priority})
		}
	}
	heap.Init(m.h)
	m.findSmallest()
}

// SeekToFirst positions the iterator at the smallest key across all sources.
func (m *MergingIterator) SeekToFirst() {
	m.rebuildHeap(func(it Iterator) { it.SeekToFirst() })
}

// Seek positions the iterator at the first key >= target across all sources.
func (m *MergingIterator) Seek(target dbformat.InternalKey) {
	m.rebuildHeap(func(it Iterator) { it.Seek(target) })
}

// Next advances the currently-smallest source and re-heapifies. Any
// other source positioned at the identical InternalKey (a lower-
// priority duplicate) is advanced past it too, so each InternalKey is
// surfaced once.
func (m *MergingIterator) Next() {
	if !m.Valid() {
		return
	}
	cur := append(dbformat.InternalKey(nil), m.Key()...)
	for m.h.Len() > 0 && dbformat.Compare(m.h.items[0].key, cur) == 0 {
		it := m.sources[m.h.items[0].index].It
		it.Next()
		if err := it.Error(); err != nil {
			m.err = err
			m.current = -1
			return
		}
		if it.Valid() {
			m.h.items[0].key = it.Key()
			heap.Fix(m.h, 0)
		} else {
			heap.Pop(m.h)
		}
	}
	m.findSmallest()
}

func (m *MergingIterator) findSmallest() {
	if m.h.Len() == 0 {
		m.current = -1
		return
	}
	m.current = m.h.items[0].index
}

type heapItem struct {
	index    int
	key      dbformat.InternalKey
	priority int
}

type iterHeap struct{ items []heapItem }

func (h *iterHeap) Len() int { return len(h.items) }

func (h *iterHeap) Less(i, j int) bool {
	c := dbformat.Compare(h.items[i].key, h.items[j].key)
	if c != 0 {
		return c < 0
	}
	return h.items[i].priority < h.items[j].priority
}

func (h *iterHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *iterHeap) Push(x any) { h.items = append(h.items, x.(heapItem)) }

func (h *iterHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}
