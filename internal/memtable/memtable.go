package memtable

import (
	"encoding/binary"

	"github.com/xxxuuu/lasagnedb/internal/dbformat"
)

// Memtable buffers Put/Delete operations as InternalKey-ordered
// entries ahead of a flush to an SST. Each node in the underlying
// SkipList stores `u16 ikLen ‖ InternalKey ‖ meta:u8 ‖ value`; the
// comparator only ever inspects the InternalKey prefix, so the value
// and kv-separate flag ride along without a second lookup structure.
type Memtable struct {
	list     *SkipList
	approxSz int64
}

// New returns an empty Memtable.
func New() *Memtable {
	return &Memtable{list: NewSkipList(compareNodeKeys)}
}

func compareNodeKeys(a, b []byte) int {
	return dbformat.Compare(internalKeyOf(a), internalKeyOf(b))
}

func internalKeyOf(node []byte) dbformat.InternalKey {
	n := binary.LittleEndian.Uint16(node[:2])
	return dbformat.InternalKey(node[2 : 2+n])
}

func metaOf(node []byte) uint8 {
	n := binary.LittleEndian.Uint16(node[:2])
	return node[2+n]
}

func valueOf(node []byte) []byte {
	n := binary.LittleEndian.Uint16(node[:2])
	return node[2+int(n)+1:]
}

func encodeNode(ik dbformat.InternalKey, meta uint8, value []byte) []byte {
	buf := make([]byte, 0, 2+len(ik)+1+len(value))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(ik)))
	buf = append(buf, ik...)
	buf = append(buf, meta)
	buf = append(buf, value...)
	return buf
}

// PutEntry inserts an already-built dbformat.Entry at seq, preserving
// its meta byte (op-type and kv-separate flag) exactly.
func (m *Memtable) PutEntry(e dbformat.Entry, seq dbformat.SequenceNumber) {
	ik := dbformat.Build(e.Key, seq, e.OpType())
	node := encodeNode(ik, e.Meta, e.Value)
	m.list.Insert(node)
	m.approxSz += int64(len(node))
}

// Put inserts a Put entry for (userKey, seq). value is the literal
// value, or a 4-byte vSST id when kvSeparate is set.
func (m *Memtable) Put(userKey []byte, seq dbformat.SequenceNumber, value []byte, kvSeparate bool) {
	m.PutEntry(dbformat.NewPutEntry(userKey, value, kvSeparate), seq)
}

// Delete inserts a tombstone for userKey at seq.
func (m *Memtable) Delete(userKey []byte, seq dbformat.SequenceNumber) {
	m.PutEntry(dbformat.NewDeleteEntry(userKey), seq)
}

// ApproximateSize returns the running total of encoded node sizes,
// used to decide when a memtable should be frozen.
func (m *Memtable) ApproximateSize() int64 { return m.approxSz }

// Count returns the number of entries (including tombstones).
func (m *Memtable) Count() int64 { return m.list.Count() }

// Get looks up the newest version of userKey visible at or before
// snapshotSeq. It returns (meta, value, true) on a hit — including a
// hit on a tombstone, which callers detect via dbformat.SplitMeta —
// or (0, nil, false) if no version at or below snapshotSeq exists.
func (m *Memtable) Get(userKey []byte, snapshotSeq dbformat.SequenceNumber) (meta uint8, value []byte, ok bool) {
	seek := dbformat.SeekKeyAt(userKey, snapshotSeq)
	it := m.list.NewIterator()
	it.Seek(encodeNode(seek, 0, nil))
	if !it.Valid() {
		return 0, nil, false
	}
	ik := internalKeyOf(it.Key())
	if !sameUserKey(ik.UserKey(), userKey) {
		return 0, nil, false
	}
	return metaOf(it.Key()), valueOf(it.Key()), true
}

func sameUserKey(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// EntryIterator walks memtable entries in InternalKey order, exposing
// the decoded InternalKey, meta byte, and value at each position.
type EntryIterator struct {
	it *Iterator
}

// NewIterator returns an EntryIterator positioned before the first
// entry; call SeekToFirst or Seek before reading.
func (m *Memtable) NewIterator() *EntryIterator {
	return &EntryIterator{it: m.list.NewIterator()}
}

// Valid reports whether the iterator sits on an entry.
func (it *EntryIterator) Valid() bool { return it.it.Valid() }

// Key returns the current entry's InternalKey. Requires Valid().
func (it *EntryIterator) Key() dbformat.InternalKey { return internalKeyOf(it.it.Key()) }

// Meta returns the current entry's meta byte. Requires Valid().
func (it *EntryIterator) Meta() uint8 { return metaOf(it.it.Key()) }

// Value returns the current entry's raw stored value (a literal value
// or a 4-byte vSST id, per Meta()). Requires Valid().
func (it *EntryIterator) Value() []byte { return valueOf(it.it.Key()) }

// SeekToFirst positions at the first entry.
func (it *EntryIterator) SeekToFirst() { it.it.SeekToFirst() }

// Seek positions at the first entry with InternalKey >= target.
func (it *EntryIterator) Seek(target dbformat.InternalKey) {
	it.it.Seek(encodeNode(target, 0, nil))
}

// Next advances to the next entry.
func (it *EntryIterator) Next() { it.it.Next() }

// Error always returns nil: the skip list has no decode step that can
// fail. It exists so EntryIterator satisfies internal/iterator.Iterator.
func (it *EntryIterator) Error() error { return nil }
