// Package block implements the fixed-layout data block used by SSTs
// and vSSTs: a run of encoded dbformat.Entry records followed by a
// u16 offset table, a u32 CRC32 over the entry region, and a u16
// entry count.
//
// Unlike the teacher's prefix-compressed, restart-point block format,
// this layout stores each entry in full and indexes it with a flat
// offset table, per spec.md §3 ("entries ‖ u16 offsets[N] ‖ u32 CRC32
// ‖ u16 entry count"). Seeking is binary search over the offset table
// rather than restart-point + linear scan.
package block

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/xxxuuu/lasagnedb/internal/checksum"
	"github.com/xxxuuu/lasagnedb/internal/compression"
	"github.com/xxxuuu/lasagnedb/internal/dbformat"
)

// ErrBadBlock is returned when a block's trailer or CRC fails to
// validate.
var ErrBadBlock = errors.New("block: corrupt block")

// TargetSize is the size a BlockBuilder aims to stay under before
// handing its contents off to an SST writer.
const TargetSize = 4 * 1024

const trailerFixedSize = 4 + 2 // CRC32 + entry count

// Block is a parsed, read-only view over a single on-disk block. The
// backing buffer is not copied; callers must keep it alive for as
// long as the Block or any Iterator over it is in use.
type Block struct {
	region     []byte // decompressed entry region
	offsets    []byte // raw little-endian u16 offset table, still packed
	numEntries int
}

// Parse validates, decompresses, and wraps a block's raw on-disk
// bytes: a 1-byte compression type, the (possibly compressed) entry
// region, the offset table, the CRC32, and the entry count.
func Parse(data []byte) (*Block, error) {
	if len(data) < 1+trailerFixedSize {
		return nil, ErrBadBlock
	}
	countOff := len(data) - 2
	numEntries := int(binary.LittleEndian.Uint16(data[countOff:]))
	crcOff := countOff - 4
	if crcOff < 0 {
		return nil, ErrBadBlock
	}
	offsetsOff := crcOff - numEntries*2
	if offsetsOff < 1 {
		return nil, ErrBadBlock
	}
	wantCRC := binary.LittleEndian.Uint32(data[crcOff:countOff])
	gotCRC := checksum.Value(data[:offsetsOff])
	if wantCRC != gotCRC {
		return nil, ErrBadBlock
	}
	compressor := compression.Type(data[0])
	region, err := compression.Decompress(compressor, data[1:offsetsOff], 0)
	if err != nil {
		return nil, fmt.Errorf("block: %w", err)
	}
	return &Block{
		region:     region,
		offsets:    data[offsetsOff:crcOff],
		numEntries: numEntries,
	}, nil
}

// NumEntries returns the number of entries in the block.
func (b *Block) NumEntries() int { return b.numEntries }

// offsetAt returns the byte offset of the i-th entry within b.region.
func (b *Block) offsetAt(i int) int {
	return int(binary.LittleEndian.Uint16(b.offsets[i*2 : i*2+2]))
}

// entryAt decodes the entry starting at the i-th offset.
func (b *Block) entryAt(i int) (dbformat.Entry, error) {
	start := b.offsetAt(i)
	if start < 0 || start >= len(b.region) {
		return dbformat.Entry{}, ErrBadBlock
	}
	e, _, err := dbformat.DecodeEntry(b.region[start:])
	if err != nil {
		return dbformat.Entry{}, err
	}
	return e, nil
}

// Iterator walks a Block's entries in on-disk (key-ascending) order.
type Iterator struct {
	block *Block
	idx   int
	cur   dbformat.Entry
	err   error
}

// NewIterator returns an iterator positioned before the first entry.
func (b *Block) NewIterator() *Iterator {
	return &Iterator{block: b, idx: -1}
}

// Valid reports whether the iterator is positioned at a decoded entry.
func (it *Iterator) Valid() bool { return it.err == nil && it.idx >= 0 && it.idx < it.block.numEntries }

// Error returns any error encountered while decoding.
func (it *Iterator) Error() error { return it.err }

// Key returns the current entry's InternalKey.
func (it *Iterator) Key() dbformat.InternalKey { return dbformat.InternalKey(it.cur.Key) }

// Entry returns the current decoded entry.
func (it *Iterator) Entry() dbformat.Entry { return it.cur }

// SeekToFirst positions the iterator at entry 0.
func (it *Iterator) SeekToFirst() {
	it.idx = 0
	it.load()
}

// Next advances to the next entry.
func (it *Iterator) Next() {
	it.idx++
	it.load()
}

func (it *Iterator) load() {
	if it.err != nil || it.idx < 0 || it.idx >= it.block.numEntries {
		return
	}
	e, err := it.block.entryAt(it.idx)
	if err != nil {
		it.err = err
		return
	}
	it.cur = e
}

// Seek positions the iterator at the first entry whose InternalKey is
// >= target, using binary search over the offset table (entries are
// stored in ascending InternalKey order by construction).
func (it *Iterator) Seek(target dbformat.InternalKey) {
	n := it.block.numEntries
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		e, err := it.block.entryAt(mid)
		if err != nil {
			it.err = err
			return
		}
		if dbformat.Compare(dbformat.InternalKey(e.Key), target) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	it.idx = lo
	it.load()
}

// SeekUserKey positions the iterator at the first entry whose raw Key
// is >= target under plain byte comparison, for blocks built with
// plain user-key ordering (vSSTs) rather than InternalKey ordering.
func (it *Iterator) SeekUserKey(target []byte) {
	n := it.block.numEntries
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		e, err := it.block.entryAt(mid)
		if err != nil {
			it.err = err
			return
		}
		if bytes.Compare(e.Key, target) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	it.idx = lo
	it.load()
}
