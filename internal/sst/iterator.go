package sst

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/xxxuuu/lasagnedb/internal/block"
	"github.com/xxxuuu/lasagnedb/internal/dbformat"
)

// BlockSource loads a table's i-th data block, typically backed by a
// shared internal/cache in front of Table.ReadBlock.
type BlockSource func(t *Table, i int) (*block.Block, error)

// DirectBlockSource bypasses any cache, reading blocks straight off
// disk; useful for tests and for tables too short-lived to cache.
func DirectBlockSource(t *Table, i int) (*block.Block, error) { return t.ReadBlock(i) }

// Iterator walks a single table's entries in key order, advancing
// across data-block boundaries as needed. It serves both SSTs
// (InternalKey order) and vSSTs (plain user-key order), per t.order.
type Iterator struct {
	table  *Table
	source BlockSource
	blkIdx int
	blk    *block.Block
	bit    *block.Iterator
	err    error
}

// NewIterator returns an iterator over t, reading blocks through
// source.
func NewIterator(t *Table, source BlockSource) *Iterator {
	if source == nil {
		source = DirectBlockSource
	}
	return &Iterator{table: t, source: source, blkIdx: -1}
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.err == nil && it.bit != nil && it.bit.Valid() }

// Error returns any error raised while loading or decoding blocks.
func (it *Iterator) Error() error {
	if it.err != nil {
		return it.err
	}
	if it.bit != nil {
		return it.bit.Error()
	}
	return nil
}

// Entry returns the current entry.
func (it *Iterator) Entry() dbformat.Entry { return it.bit.Entry() }

// Key returns the current entry's raw key bytes (an InternalKey for an
// SST, a plain user key for a vSST).
func (it *Iterator) Key() []byte { return it.bit.Entry().Key }

func (it *Iterator) loadBlock(i int) bool {
	if i < 0 || i >= it.table.NumBlocks() {
		it.blk, it.bit = nil, nil
		return false
	}
	blk, err := it.source(it.table, i)
	if err != nil {
		it.err = err
		return false
	}
	it.blkIdx = i
	it.blk = blk
	it.bit = blk.NewIterator()
	return true
}

// SeekToFirst positions the iterator at the table's first entry.
func (it *Iterator) SeekToFirst() {
	if !it.loadBlock(0) {
		return
	}
	it.bit.SeekToFirst()
	it.advancePastEmptyBlocks()
}

// Seek positions the iterator at the first entry whose key is >=
// target, under t.order's comparator.
func (it *Iterator) Seek(target []byte) {
	idx := it.table.FindBlockIndex(target)
	if idx < 0 {
		it.blk, it.bit = nil, nil
		return
	}
	if !it.loadBlock(idx) {
		return
	}
	it.seekWithinBlock(target)
	if !it.Valid() && it.err == nil {
		// target fell after this block's last entry; the next block
		// (if any) starts with the first key >= target.
		if it.loadBlock(it.blkIdx + 1) {
			if it.table.NumBlocks() > 0 {
				it.bit.SeekToFirst()
			}
		}
	}
	it.advancePastEmptyBlocks()
}

func (it *Iterator) seekWithinBlock(target []byte) {
	if it.table.order == InternalKeyOrder {
		it.bit.Seek(dbformat.InternalKey(target))
	} else {
		it.bit.SeekUserKey(target)
	}
}

// Next advances to the next entry, crossing into the following data
// block when the current one is exhausted.
func (it *Iterator) Next() {
	if it.bit == nil {
		return
	}
	it.bit.Next()
	it.advancePastEmptyBlocks()
}

func (it *Iterator) advancePastEmptyBlocks() {
	for it.err == nil && (it.bit == nil || !it.bit.Valid()) {
		if it.bit != nil && it.bit.Error() != nil {
			it.err = it.bit.Error()
			return
		}
		if !it.loadBlock(it.blkIdx + 1) {
			return
		}
		it.bit.SeekToFirst()
	}
}

// ErrMissingVSst is a fatal error: a kv_separate entry's vSST id has
// no corresponding open vSST, per spec.md §4.3.
var ErrMissingVSst = errors.New("sst: kv_separate entry references a missing vSST")

// VSstResolver opens (or returns an already-open) vSST by id, so a
// VIterator can re-seek it to materialize a separated value.
type VSstResolver func(vsstID uint64) (*Table, error)

// VIterator wraps an SST Iterator and, for kv_separate entries,
// materializes the full value by re-seeking the referenced vSST to the
// same user key, per spec.md §4.3's VSsTableIterator.
type VIterator struct {
	inner    *Iterator
	resolve  VSstResolver
	source   BlockSource
	value    []byte
	err      error
}

// NewVIterator wraps inner (an SST Iterator) so Value() transparently
// resolves kv_separate entries via resolve.
func NewVIterator(inner *Iterator, resolve VSstResolver, source BlockSource) *VIterator {
	return &VIterator{inner: inner, resolve: resolve, source: source}
}

func (v *VIterator) Valid() bool { return v.err == nil && v.inner.Valid() }
func (v *VIterator) Error() error {
	if v.err != nil {
		return v.err
	}
	return v.inner.Error()
}
func (v *VIterator) Key() []byte { return v.inner.Key() }

func (v *VIterator) SeekToFirst() { v.inner.SeekToFirst(); v.materialize() }
func (v *VIterator) Seek(target []byte) { v.inner.Seek(target); v.materialize() }
func (v *VIterator) Next() { v.inner.Next(); v.materialize() }

// Value returns the entry's effective value: the stored bytes
// directly, or (for a kv_separate entry) the value read back from the
// referenced vSST.
func (v *VIterator) Value() []byte { return v.value }

// Meta returns the current entry's meta byte.
func (v *VIterator) Meta() uint8 { return v.inner.Entry().Meta }

func (v *VIterator) materialize() {
	v.value = nil
	if !v.Valid() {
		return
	}
	e := v.inner.Entry()
	_, sep := dbformat.SplitMeta(e.Meta)
	if !sep {
		v.value = e.Value
		return
	}
	if len(e.Value) < 4 {
		v.err = fmt.Errorf("sst: kv_separate value too short for a vSST id")
		return
	}
	vsstID := uint64(binary.LittleEndian.Uint32(e.Value[:4]))
	vt, err := v.resolve(vsstID)
	if err != nil {
		v.err = fmt.Errorf("%w: vsst %d: %v", ErrMissingVSst, vsstID, err)
		return
	}
	userKey := dbformat.InternalKey(e.Key).UserKey()
	vit := NewIterator(vt, v.source)
	vit.Seek(userKey)
	if !vit.Valid() || !bytes.Equal(vit.Key(), userKey) {
		if vit.Error() != nil {
			v.err = vit.Error()
			return
		}
		v.err = fmt.Errorf("%w: vsst %d has no entry for key", ErrMissingVSst, vsstID)
		return
	}
	v.value = vit.Entry().Value
}
