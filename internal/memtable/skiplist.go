// Package memtable implements the in-memory sorted structure that
// buffers writes before they are flushed to an SST: a skip list whose
// reads are lock-free and whose writes require external
// synchronization (the caller holds the DB's write path exclusively).
//
// Reference: internal/memtable/skiplist.go in the teacher repo, which
// itself follows RocksDB's memtable/skiplist.h. Node layout and the
// atomic-pointer forward list are kept as-is; Comparator is
// specialized by the memtable package to compare dbformat.InternalKey
// prefixes rather than raw bytes.
package memtable

import (
	"math/rand"
	"sync/atomic"
)

const (
	// DefaultMaxHeight is the maximum tower height a node can have.
	DefaultMaxHeight = 12
	// DefaultBranchingFactor controls how quickly node height decays;
	// on average 1/branchingFactor of nodes are promoted a level.
	DefaultBranchingFactor = 4
)

// Comparator orders two raw node keys.
type Comparator func(a, b []byte) int

type skipNode struct {
	key  []byte
	next []*atomic.Pointer[skipNode]
}

func newSkipNode(key []byte, height int) *skipNode {
	n := &skipNode{key: key, next: make([]*atomic.Pointer[skipNode], height)}
	for i := range n.next {
		n.next[i] = &atomic.Pointer[skipNode]{}
	}
	return n
}

func (n *skipNode) getNext(level int) *skipNode       { return n.next[level].Load() }
func (n *skipNode) setNext(level int, node *skipNode) { n.next[level].Store(node) }

// SkipList is a lock-free-for-reads skip list keyed by raw byte
// slices ordered by a caller-supplied Comparator.
type SkipList struct {
	head      *skipNode
	maxHeight int32
	compare   Comparator
	rng       *rand.Rand

	kMaxHeight  int
	kBranching  int
	kScaledInvB uint32

	count int64
}

// NewSkipList returns an empty skip list ordered by cmp.
func NewSkipList(cmp Comparator) *SkipList {
	return NewSkipListWithParams(cmp, DefaultMaxHeight, DefaultBranchingFactor)
}

// NewSkipListWithParams is NewSkipList with explicit tower parameters.
func NewSkipListWithParams(cmp Comparator, maxHeight, branchingFactor int) *SkipList {
	if maxHeight <= 0 {
		maxHeight = DefaultMaxHeight
	}
	if branchingFactor <= 0 {
		branchingFactor = DefaultBranchingFactor
	}
	return &SkipList{
		head:        newSkipNode(nil, maxHeight),
		maxHeight:   1,
		compare:     cmp,
		rng:         rand.New(rand.NewSource(0xDEADBEEF)),
		kMaxHeight:  maxHeight,
		kBranching:  branchingFactor,
		kScaledInvB: uint32(0xFFFFFFFF) / uint32(branchingFactor),
	}
}

// Insert adds key to the list. Requires external synchronization and
// that an equal key is not already present (a memtable's keys are
// InternalKeys, which are unique by construction since they embed a
// monotonic sequence number).
func (sl *SkipList) Insert(key []byte) {
	prev := make([]*skipNode, sl.kMaxHeight)
	x := sl.findGreaterOrEqual(key, prev)
	if x != nil && sl.compare(key, x.key) == 0 {
		return
	}

	height := sl.randomHeight()
	maxH := int(atomic.LoadInt32(&sl.maxHeight))
	if height > maxH {
		for i := maxH; i < height; i++ {
			prev[i] = sl.head
		}
		atomic.StoreInt32(&sl.maxHeight, int32(height))
	}

	node := newSkipNode(key, height)
	for i := range height {
		node.setNext(i, prev[i].getNext(i))
		prev[i].setNext(i, node)
	}
	atomic.AddInt64(&sl.count, 1)
}

// Count returns the number of entries in the list.
func (sl *SkipList) Count() int64 { return atomic.LoadInt64(&sl.count) }

func (sl *SkipList) findGreaterOrEqual(key []byte, prev []*skipNode) *skipNode {
	x := sl.head
	level := int(atomic.LoadInt32(&sl.maxHeight)) - 1
	for {
		next := x.getNext(level)
		if next != nil && sl.compare(key, next.key) > 0 {
			x = next
		} else {
			if prev != nil {
				prev[level] = x
			}
			if level == 0 {
				return next
			}
			level--
		}
	}
}

func (sl *SkipList) findLast() *skipNode {
	x := sl.head
	level := int(atomic.LoadInt32(&sl.maxHeight)) - 1
	for {
		next := x.getNext(level)
		if next != nil {
			x = next
		} else {
			if level == 0 {
				if x == sl.head {
					return nil
				}
				return x
			}
			level--
		}
	}
}

func (sl *SkipList) randomHeight() int {
	height := 1
	for height < sl.kMaxHeight {
		if sl.rng.Uint32() < sl.kScaledInvB {
			height++
		} else {
			break
		}
	}
	return height
}

// Iterator walks a SkipList in ascending key order.
type Iterator struct {
	list *SkipList
	node *skipNode
}

// NewIterator returns an iterator, initially invalid until positioned.
func (sl *SkipList) NewIterator() *Iterator { return &Iterator{list: sl} }

// Valid reports whether the iterator sits on an entry.
func (it *Iterator) Valid() bool { return it.node != nil }

// Key returns the current raw node key. Requires Valid().
func (it *Iterator) Key() []byte {
	if it.node == nil {
		return nil
	}
	return it.node.key
}

// Next advances to the next entry. Requires Valid().
func (it *Iterator) Next() {
	if it.node != nil {
		it.node = it.node.getNext(0)
	}
}

// Seek positions at the first entry with key >= target.
func (it *Iterator) Seek(target []byte) { it.node = it.list.findGreaterOrEqual(target, nil) }

// SeekToFirst positions at the first entry.
func (it *Iterator) SeekToFirst() { it.node = it.list.head.getNext(0) }

// SeekToLast positions at the last entry.
func (it *Iterator) SeekToLast() { it.node = it.list.findLast() }
