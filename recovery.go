package lasagnedb

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/xxxuuu/lasagnedb/internal/dbformat"
	"github.com/xxxuuu/lasagnedb/internal/logging"
	"github.com/xxxuuu/lasagnedb/internal/manifest"
	"github.com/xxxuuu/lasagnedb/internal/memtable"
	"github.com/xxxuuu/lasagnedb/internal/sst"
	"github.com/xxxuuu/lasagnedb/internal/wal"
)

// recover implements spec.md §4.7's open procedure:
//  1. read CURRENT, replay the named manifest into a Catalog
//  2. open every live SST and vSST it names
//  3. replay the WAL(s) covering writes not yet reflected in a flushed
//     SST, rebuilding the active memtable
//  4. install the reconstructed state
//  5. write a fresh manifest snapshot and atomically swap CURRENT to
//     it, so a future crash does not need to replay the old manifest's
//     full history again
func (db *DB) recover() error {
	logger := db.opts.Logger

	currentName, err := manifest.ReadCurrent(db.dir)
	if err != nil {
		return ioErr("recover", err)
	}

	var items []manifest.Item
	if currentName != "" {
		items, err = manifest.Replay(filepath.Join(db.dir, currentName))
		if err != nil {
			return corruptionErr("recover", err)
		}
	}
	cat := manifest.BuildCatalog(items, db.opts.SstLevelLimit)

	state := &dbState{
		levels: make([][]*levelFile, db.opts.SstLevelLimit),
		vssts:  make(map[uint64]*vsstEntry, len(cat.VSsts)),
	}

	for id := range cat.VSsts {
		t, err := sst.Open(db.VSstPath(id), sst.PlainKeyOrder)
		if err != nil {
			return corruptionErr("recover: open vsst", err)
		}
		db.tables.register(t, vsstCacheID(id))
		state.vssts[id] = &vsstEntry{id: id, table: t, refs: cat.VSstRefCounts[id]}
	}

	for level := 0; level < db.opts.SstLevelLimit; level++ {
		ids := make([]uint64, 0, len(cat.Levels[level]))
		for id := range cat.Levels[level] {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			t, err := sst.Open(db.SstPath(id), sst.InternalKeyOrder)
			if err != nil {
				return corruptionErr("recover: open sst", err)
			}
			db.tables.register(t, id)
			minSeq, maxSeq, err := scanSeqRange(t, db.blockSource)
			if err != nil {
				return corruptionErr("recover: scan sst", err)
			}
			state.levels[level] = append(state.levels[level], &levelFile{id: id, table: t, minSeq: minSeq, maxSeq: maxSeq})
		}
	}

	seq := dbformat.SequenceNumber(cat.MaxSeqNum)
	mem := memtable.New()

	replay := func(path string) error {
		entries, err := wal.Replay(path)
		if err != nil {
			return err
		}
		for _, re := range entries {
			seq++
			mem.PutEntry(re.Entry, seq)
		}
		return nil
	}

	// Replay every pending frozen WAL (oldest log id first) ahead of
	// the active one: a FreezeAndCreateWal recorded in the manifest
	// without a matching DelFrozenWal means the flush that was meant
	// to consume it never finished, so those writes are still only on
	// disk as a journal and must be folded back into the memtable.
	// spec.md §4.7 step 4 only names "the WAL", but catalog.go's own
	// PendingFrozenWals bookkeeping exists precisely to make this case
	// detectable, so we replay all of them rather than losing acked
	// writes.
	pending := make([]uint64, 0, len(cat.PendingFrozenWals))
	for id := range cat.PendingFrozenWals {
		pending = append(pending, id)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i] < pending[j] })

	for _, id := range pending {
		p := db.logPath(id)
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				logger.Warnf(logging.NSRecovery+"pending frozen wal %d missing on disk, skipping", id)
				continue
			}
			return ioErr("recover: stat frozen wal", err)
		}
		if err := replay(p); err != nil {
			return corruptionErr("recover: replay frozen wal", err)
		}
	}

	activeLogID := cat.ActiveLogID
	if activeLogID == 0 {
		activeLogID = 1
	}
	activePath := db.logPath(activeLogID)
	if err := replay(activePath); err != nil {
		return corruptionErr("recover: replay active wal", err)
	}

	w, err := wal.Open(activeLogID, activePath)
	if err != nil {
		return ioErr("recover: open active wal", err)
	}

	state.mem = mem
	state.wal = w
	state.logID = activeLogID

	db.seq.Store(uint64(seq))
	db.nextSst.Store(cat.MaxSstID)
	db.nextVSst.Store(cat.MaxVSstID)
	db.nextLog.Store(activeLogID)

	if err := db.writeFreshManifest(cat.Version, state, seq); err != nil {
		return err
	}

	db.state = state
	return nil
}

// writeFreshManifest implements spec.md §4.7 step 5: a brand new
// manifest holding only the current live set (SSTs, vSSTs with their
// live refcounts, and the recovered max sequence number), installed
// via an atomic CURRENT rewrite. Including vSST refcounts here, not
// just the literal "Init + NewSst" wording, keeps a freshly recovered
// catalog's ref-counting state consistent with what compaction needs.
func (db *DB) writeFreshManifest(prevVersion uint64, state *dbState, seq dbformat.SequenceNumber) error {
	version := prevVersion + 1
	name := manifestBasename(version)
	m, err := manifest.Create(filepath.Join(db.dir, name), version)
	if err != nil {
		return ioErr("recover: create manifest", err)
	}

	// Create already writes the Init(version) record; snapshot holds
	// only the live-set items that follow it.
	var snapshot []manifest.Item
	for level, files := range state.levels {
		for _, f := range files {
			snapshot = append(snapshot, manifest.NewSst(uint32(level), f.id))
		}
	}
	for id, e := range state.vssts {
		snapshot = append(snapshot, manifest.NewVSst(id))
		if e.refs != 0 {
			snapshot = append(snapshot, manifest.VSstRefCnt(id, e.refs))
		}
	}
	snapshot = append(snapshot, manifest.MaxSeqNum(uint64(seq)))

	if len(snapshot) > 0 {
		if err := m.Append(snapshot...); err != nil {
			return ioErr("recover: write manifest snapshot", err)
		}
	}
	if err := m.Flush(); err != nil {
		return ioErr("recover: flush manifest", err)
	}
	if err := manifest.WriteCurrent(db.dir, name); err != nil {
		return ioErr("recover: swap CURRENT", err)
	}

	db.manifest = m
	db.manifestVersion = version
	return nil
}

// scanSeqRange walks every entry in t to find the lowest and highest
// sequence number it holds; compaction's overlap selection needs this
// per-table range and SSTs do not otherwise carry it in their footer.
func scanSeqRange(t *sst.Table, source sst.BlockSource) (dbformat.SequenceNumber, dbformat.SequenceNumber, error) {
	it := sst.NewIterator(t, source)
	it.SeekToFirst()
	var minSeq, maxSeq dbformat.SequenceNumber
	first := true
	for it.Valid() {
		s := dbformat.InternalKey(it.Key()).Sequence()
		if first {
			minSeq, maxSeq = s, s
			first = false
		} else {
			if s < minSeq {
				minSeq = s
			}
			if s > maxSeq {
				maxSeq = s
			}
		}
		it.Next()
	}
	if it.Error() != nil {
		return 0, 0, it.Error()
	}
	return minSeq, maxSeq, nil
}
