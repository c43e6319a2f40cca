// Package sst implements the immutable on-disk table format shared by
// SSTs and vSSTs: a run of data blocks, a meta-block index keyed by
// each data block's first key, an optional Bloom filter, and a
// 12-byte trailer, per spec.md §3/§4.2/§4.3.
//
// SSTs and vSSts share this exact container; they differ only in
// what a block's keys mean. An SST's data-block entries carry
// dbformat.InternalKeys (ordered by dbformat.Compare); a vSST's carry
// plain user keys (ordered by bytes.Compare), since it is a closed
// value log written once per flush/compaction output where a user
// key cannot collide with itself.
//
// Reference: structured after the teacher's internal/table package
// (TableBuilder/Reader split, meta-index + filter + footer layout),
// but new, teacher idiom for the byte-exact format: spec.md's 12-byte
// trailer and first-key meta index have no RocksDB analog (which uses
// a varint-heavy, multi-level index block format).
package sst

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/xxxuuu/lasagnedb/internal/block"
	"github.com/xxxuuu/lasagnedb/internal/compression"
	"github.com/xxxuuu/lasagnedb/internal/dbformat"
	"github.com/xxxuuu/lasagnedb/internal/encoding"
	"github.com/xxxuuu/lasagnedb/internal/filter"
)

// ErrCorrupt is returned when a trailer, meta index, or data block
// fails to validate.
var ErrCorrupt = errors.New("sst: corrupt table")

// trailerSize is the fixed 12-byte trailer: filter_len, filter_offset,
// meta_offset, all little-endian u32.
const trailerSize = 12

// KeyOrder selects how a table's data-block keys are compared:
// InternalKeyOrder for SSTs, PlainKeyOrder for vSSTs.
type KeyOrder uint8

const (
	InternalKeyOrder KeyOrder = iota
	PlainKeyOrder
)

func compareKeys(order KeyOrder, a, b []byte) int {
	if order == InternalKeyOrder {
		return dbformat.Compare(dbformat.InternalKey(a), dbformat.InternalKey(b))
	}
	return bytes.Compare(a, b)
}

// blockHandle locates a data block: its first key, file offset, and
// on-disk length.
type blockHandle struct {
	firstKey []byte
	offset   uint64
	size     uint32
}

func encodeHandle(offset uint64, size uint32) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint64(buf[:8], offset)
	binary.LittleEndian.PutUint32(buf[8:], size)
	return buf
}

func decodeHandle(buf []byte) (offset uint64, size uint32) {
	return binary.LittleEndian.Uint64(buf[:8]), binary.LittleEndian.Uint32(buf[8:])
}

// Writer builds a single SST or vSST file.
type Writer struct {
	f       *os.File
	order   KeyOrder
	comp    compression.Type
	offset  uint64
	cur     *block.Builder
	curFirst []byte
	curLast  []byte
	handles []blockHandle
	filter  *filter.Builder
	firstKey []byte
	lastKey  []byte
}

// NewWriter creates (truncating) the file at path and returns a
// Writer for it.
func NewWriter(path string, order KeyOrder, comp compression.Type, filterBitsPerKey int) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	var fb *filter.Builder
	if filterBitsPerKey > 0 {
		fb = filter.NewBuilder(filterBitsPerKey)
	}
	return &Writer{f: f, order: order, comp: comp, cur: block.NewBuilder(comp), filter: fb}, nil
}

// Add appends an entry in increasing key order (InternalKey order for
// an SST, plain user-key order for a vSST).
func (w *Writer) Add(e dbformat.Entry) error {
	if err := w.cur.Add(e); err != nil {
		if !errors.Is(err, block.ErrBlockFull) {
			return err
		}
		if err := w.flushBlock(); err != nil {
			return err
		}
		if err := w.cur.Add(e); err != nil {
			return fmt.Errorf("sst: entry too large for a block: %w", err)
		}
	}
	if w.curFirst == nil {
		w.curFirst = append([]byte(nil), e.Key...)
	}
	w.curLast = append([]byte(nil), e.Key...)
	if w.firstKey == nil {
		w.firstKey = append([]byte(nil), e.Key...)
	}
	w.lastKey = append([]byte(nil), e.Key...)
	if w.filter != nil {
		w.filter.Add(filterKey(w.order, e.Key))
	}
	return nil
}

func filterKey(order KeyOrder, key []byte) []byte {
	if order == InternalKeyOrder {
		return dbformat.InternalKey(key).UserKey()
	}
	return key
}

func (w *Writer) flushBlock() error {
	if w.cur.Empty() {
		return nil
	}
	data, err := w.cur.Finish()
	if err != nil {
		return err
	}
	if _, err := w.f.Write(data); err != nil {
		return err
	}
	w.handles = append(w.handles, blockHandle{firstKey: w.curFirst, offset: w.offset, size: uint32(len(data))})
	w.offset += uint64(len(data))
	w.cur.Reset()
	w.curFirst, w.curLast = nil, nil
	return nil
}

// FirstKey and LastKey return the table's overall key range, valid
// after at least one Add call.
func (w *Writer) FirstKey() []byte { return w.firstKey }
func (w *Writer) LastKey() []byte  { return w.lastKey }

// ApproxSize estimates the on-disk size if Finish were called right
// now: bytes already flushed plus the current block's pending entries.
// Callers (compaction, flush) use this to decide when to roll to a
// new output file.
func (w *Writer) ApproxSize() uint64 { return w.offset + uint64(w.cur.EstimatedSize()) }

// Empty reports whether any entry has been added yet.
func (w *Writer) Empty() bool { return w.firstKey == nil }

// Finish flushes the final block, writes the meta index, the filter,
// and the trailer, then closes the file.
func (w *Writer) Finish() error {
	if err := w.flushBlock(); err != nil {
		return err
	}

	metaBuilder := block.NewBuilder(compression.None)
	for _, h := range w.handles {
		e := dbformat.Entry{Meta: 0, Key: h.firstKey, Value: encodeHandle(h.offset, h.size)}
		if err := metaBuilder.Add(e); err != nil {
			return fmt.Errorf("sst: meta index overflowed a block: %w", err)
		}
	}
	metaBytes, err := metaBuilder.Finish()
	if err != nil {
		return err
	}
	metaOffset := w.offset
	if _, err := w.f.Write(metaBytes); err != nil {
		return err
	}
	w.offset += uint64(len(metaBytes))

	var filterOffset uint64
	var filterLen uint32
	if w.filter != nil {
		fb := w.filter.Finish()
		filterOffset = w.offset
		filterLen = uint32(len(fb))
		if _, err := w.f.Write(fb); err != nil {
			return err
		}
		w.offset += uint64(len(fb))
	}

	trailer := make([]byte, 0, trailerSize)
	trailer = encoding.AppendFixed32(trailer, filterLen)
	trailer = encoding.AppendFixed32(trailer, uint32(filterOffset))
	trailer = encoding.AppendFixed32(trailer, uint32(metaOffset))
	if _, err := w.f.Write(trailer); err != nil {
		return err
	}

	if err := w.f.Sync(); err != nil {
		return err
	}
	return w.f.Close()
}

// Abort closes and removes a partially written file, used when a
// build fails partway through (spec.md §4.8 "Failure semantics").
func (w *Writer) Abort(path string) error {
	_ = w.f.Close()
	return os.Remove(path)
}

// Table is an opened, read-only SST or vSST: the meta index and
// optional filter are resident in memory; data blocks are read
// on demand (through a cache, if the caller wires one).
type Table struct {
	path    string
	order   KeyOrder
	handles []blockHandle
	filter  *filter.Reader
	size    int64
	lastKey []byte

	entriesOnce sync.Once
	entriesSum  int
	entriesErr  error
}

// Open reads and validates path's trailer and meta index.
func Open(path string, order KeyOrder) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size < trailerSize {
		return nil, ErrCorrupt
	}
	trailer := make([]byte, trailerSize)
	if _, err := f.ReadAt(trailer, size-trailerSize); err != nil {
		return nil, err
	}
	filterLen := binary.LittleEndian.Uint32(trailer[0:4])
	filterOffset := binary.LittleEndian.Uint32(trailer[4:8])
	metaOffset := binary.LittleEndian.Uint32(trailer[8:12])

	metaEnd := int64(size) - trailerSize
	if filterLen > 0 {
		metaEnd = int64(filterOffset)
	}
	if int64(metaOffset) < 0 || metaEnd < int64(metaOffset) {
		return nil, ErrCorrupt
	}
	metaBytes := make([]byte, metaEnd-int64(metaOffset))
	if _, err := f.ReadAt(metaBytes, int64(metaOffset)); err != nil {
		return nil, err
	}
	metaBlock, err := block.Parse(metaBytes)
	if err != nil {
		return nil, err
	}
	handles := make([]blockHandle, 0, metaBlock.NumEntries())
	it := metaBlock.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		e := it.Entry()
		off, sz := decodeHandle(e.Value)
		handles = append(handles, blockHandle{firstKey: append([]byte(nil), e.Key...), offset: off, size: sz})
	}
	if it.Error() != nil {
		return nil, it.Error()
	}

	var fr *filter.Reader
	if filterLen > 0 {
		fbytes := make([]byte, filterLen)
		if _, err := f.ReadAt(fbytes, int64(filterOffset)); err != nil {
			return nil, err
		}
		fr = filter.NewReader(fbytes)
	}

	t := &Table{path: path, order: order, handles: handles, filter: fr, size: size}
	if len(handles) > 0 {
		last, err := t.ReadBlock(len(handles) - 1)
		if err != nil {
			return nil, err
		}
		lastEntry, err := lastEntryOf(last)
		if err != nil {
			return nil, err
		}
		t.lastKey = append([]byte(nil), lastEntry.Key...)
	}
	return t, nil
}

func lastEntryOf(b *block.Block) (dbformat.Entry, error) {
	it := b.NewIterator()
	it.SeekToFirst()
	var e dbformat.Entry
	for ; it.Valid(); it.Next() {
		e = it.Entry()
	}
	if it.Error() != nil {
		return dbformat.Entry{}, it.Error()
	}
	return e, nil
}

// Path returns the table's file path.
func (t *Table) Path() string { return t.path }

// NumBlocks returns the number of data blocks in the table.
func (t *Table) NumBlocks() int { return len(t.handles) }

// FirstKey and LastKey report the table's overall key range.
func (t *Table) FirstKey() []byte {
	if len(t.handles) == 0 {
		return nil
	}
	return t.handles[0].firstKey
}

func (t *Table) LastKey() []byte { return t.lastKey }

// Overlaps reports whether t's and other's key ranges intersect,
// under t.order's comparator (both tables must share the same order).
func (t *Table) Overlaps(other *Table) bool {
	if len(t.handles) == 0 || len(other.handles) == 0 {
		return false
	}
	return compareKeys(t.order, t.FirstKey(), other.LastKey()) <= 0 &&
		compareKeys(t.order, other.FirstKey(), t.LastKey()) <= 0
}

// KeyRangeOverlaps reports whether [lo,hi] (both inclusive, under
// t.order's comparator) intersects t's key range.
func (t *Table) KeyRangeOverlaps(lo, hi []byte) bool {
	if len(t.handles) == 0 {
		return false
	}
	return compareKeys(t.order, t.FirstKey(), hi) <= 0 &&
		compareKeys(t.order, lo, t.LastKey()) <= 0
}

// MayContainKey answers the table's Bloom filter for userKey,
// returning true (possibly present) when the table has no filter.
func (t *Table) MayContainKey(userKey []byte) bool {
	if t.filter == nil {
		return true
	}
	return t.filter.MayContain(userKey)
}

// FindBlockIndex returns the greatest block index whose first key is
// <= key, saturating to 0, or -1 if the table has no blocks.
func (t *Table) FindBlockIndex(key []byte) int {
	if len(t.handles) == 0 {
		return -1
	}
	lo, hi := 0, len(t.handles)
	for lo < hi {
		mid := (lo + hi) / 2
		if compareKeys(t.order, t.handles[mid].firstKey, key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return 0
	}
	return lo - 1
}

// TotalEntries returns the total number of entries across all of t's
// data blocks, reading and summing them once (cached thereafter).
// Compaction's vSST "hole ratio" check uses this as the denominator
// of live_refs / total_pairs_in_vsst.
func (t *Table) TotalEntries() (int, error) {
	t.entriesOnce.Do(func() {
		sum := 0
		for i := range t.handles {
			b, err := t.ReadBlock(i)
			if err != nil {
				t.entriesErr = err
				return
			}
			sum += b.NumEntries()
		}
		t.entriesSum = sum
	})
	return t.entriesSum, t.entriesErr
}

// ReadBlock reads and parses the i-th data block directly from disk
// (bypassing any cache); callers that have a cache should prefer it.
func (t *Table) ReadBlock(i int) (*block.Block, error) {
	if i < 0 || i >= len(t.handles) {
		return nil, ErrCorrupt
	}
	h := t.handles[i]
	f, err := os.Open(t.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, h.size)
	if _, err := f.ReadAt(buf, int64(h.offset)); err != nil {
		return nil, err
	}
	return block.Parse(buf)
}
