package lasagnedb

import (
	"bytes"

	"github.com/xxxuuu/lasagnedb/internal/compaction"
	"github.com/xxxuuu/lasagnedb/internal/dbformat"
	"github.com/xxxuuu/lasagnedb/internal/memtable"
	"github.com/xxxuuu/lasagnedb/internal/sst"
	"github.com/xxxuuu/lasagnedb/internal/wal"
)

// frozenMemtable pairs a memtable that is no longer accepting writes
// with the WAL segment it was built from; the pair is retired together
// once the flush that replaces it has an installed, durable SST.
type frozenMemtable struct {
	mem   *memtable.Memtable
	wal   *wal.Wal
	logID uint64
}

// levelFile is one live SST within a level, with the sequence range
// its entries span (used to pick compaction inputs).
type levelFile struct {
	id     uint64
	table  *sst.Table
	minSeq dbformat.SequenceNumber
	maxSeq dbformat.SequenceNumber
}

// vsstEntry is one live vSST along with its current live-reference
// count, mirrored from the manifest's VSstRefCnt records.
type vsstEntry struct {
	id    uint64
	table *sst.Table
	refs  int64
}

// dbState is the immutable snapshot readers and writers operate
// against lock-free once they have captured a pointer to it; only the
// pointer swap (db.mu) is synchronized, per spec.md §5.
type dbState struct {
	mem    *memtable.Memtable
	wal    *wal.Wal
	logID  uint64
	frozen []frozenMemtable // oldest first; Get scans in reverse
	levels [][]*levelFile   // levels[0] is L0, may overlap; deeper levels are disjoint
	vssts  map[uint64]*vsstEntry
}

// clone makes a shallow copy for a caller to then replace the one or
// two fields it is actually changing; slices/maps left untouched are
// shared with the prior snapshot and must not be mutated in place.
func (s *dbState) clone() *dbState {
	return &dbState{
		mem:    s.mem,
		wal:    s.wal,
		logID:  s.logID,
		frozen: s.frozen,
		levels: s.levels,
		vssts:  s.vssts,
	}
}

func copyVSsts(in map[uint64]*vsstEntry) map[uint64]*vsstEntry {
	out := make(map[uint64]*vsstEntry, len(in))
	for k, v := range in {
		cp := *v
		out[k] = &cp
	}
	return out
}

func copyLevels(in [][]*levelFile) [][]*levelFile {
	out := make([][]*levelFile, len(in))
	for i, lvl := range in {
		out[i] = append([]*levelFile(nil), lvl...)
	}
	return out
}

func removeIDs(files []*levelFile, retired []uint64) []*levelFile {
	if len(retired) == 0 {
		return append([]*levelFile(nil), files...)
	}
	skip := make(map[uint64]bool, len(retired))
	for _, id := range retired {
		skip[id] = true
	}
	out := make([]*levelFile, 0, len(files))
	for _, f := range files {
		if !skip[f.id] {
			out = append(out, f)
		}
	}
	return out
}

func toHandles(files []*levelFile, level int) []*compaction.Handle {
	out := make([]*compaction.Handle, len(files))
	for i, f := range files {
		out[i] = &compaction.Handle{ID: f.id, Level: level, Table: f.table, MinSeq: f.minSeq, MaxSeq: f.maxSeq}
	}
	return out
}

// containsUserKey reports whether key could fall within t's key range;
// it is a cheap pre-filter ahead of the Bloom filter / seek.
func containsUserKey(t *sst.Table, key []byte) bool {
	first, last := t.FirstKey(), t.LastKey()
	if first == nil || last == nil {
		return false
	}
	fk := dbformat.InternalKey(first).UserKey()
	lk := dbformat.InternalKey(last).UserKey()
	return bytes.Compare(key, fk) >= 0 && bytes.Compare(key, lk) <= 0
}
