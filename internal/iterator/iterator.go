// Package iterator implements the k-way merge used to read a
// consistent view across the active memtable, frozen memtables, and
// on-disk SSTs (spec.md §4.7's Scan path and §4.8's compaction
// merge-iteration), plus the duplicate-user-key collapse that turns a
// merged stream of InternalKey-ordered entries into one logical
// key/value view.
//
// Reference: structured after the teacher's
// internal/iterator/merging_iterator.go (min-heap over child
// iterators, same Push/Pop/Fix usage); the child Iterator interface
// here is narrower than the teacher's (no Prev/SeekToLast — nothing in
// spec.md's read path walks backward) and adds Meta() so collapse
// logic can tell a tombstone from a live value without redecoding.
package iterator

import (
	"container/heap"

	"github.com/xxxuuu/lasagnedb/internal/dbformat"
)

// Iterator is the common interface every LSM read-path source
// (memtable, block, SST/vSST table) is adapted to.
type Iterator interface {
	Valid() bool
	Key() dbformat.InternalKey
	Meta() uint8
	Value() []byte
	SeekToFirst()
	Seek(target dbformat.InternalKey)
	Next()
	Error() error
}

// Source pairs a child Iterator with a priority: when two children
// are positioned at the same InternalKey (possible only across
// sources — within one source InternalKeys are unique), the lowest
// Priority wins, per "newest write wins" (an active memtable has
// priority 0, each frozen memtable counts up, then L0 SSTs newest
// first, then L1+ which never overlap so priority is irrelevant there).
type Source struct {
	It       Iterator
	Priority int
}
