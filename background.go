package lasagnedb

import (
	"encoding/binary"
	"os"

	"github.com/xxxuuu/lasagnedb/internal/compaction"
	"github.com/xxxuuu/lasagnedb/internal/dbformat"
	"github.com/xxxuuu/lasagnedb/internal/logging"
	"github.com/xxxuuu/lasagnedb/internal/manifest"
	"github.com/xxxuuu/lasagnedb/internal/memtable"
	"github.com/xxxuuu/lasagnedb/internal/sst"
	"github.com/xxxuuu/lasagnedb/internal/wal"
)

// flushWorker implements the freeze/flush half of spec.md §4.8: on a
// freeze signal it freezes the active memtable and then drains every
// frozen memtable (oldest first) into an installed SST.
func (db *DB) flushWorker() {
	defer db.wg.Done()
	for {
		select {
		case <-db.shutdownCh:
			return
		case <-db.freezeCh:
			if err := db.doFreeze(); err != nil {
				db.opts.Logger.Errorf(logging.NSFlush+"freeze: %v", err)
				continue
			}
			db.doFlush()
		}
	}
}

// doFreeze swaps in a fresh active memtable and WAL, pushing the old
// pair onto the frozen list, and records the handoff in the manifest.
func (db *DB) doFreeze() error {
	newLogID := db.nextLog.Add(1)
	newPath := db.logPath(newLogID)
	newWal, err := wal.Open(newLogID, newPath)
	if err != nil {
		return ioErr("freeze", err)
	}

	db.mu.Lock()
	cur := db.state
	oldLogID := cur.logID
	next := cur.clone()
	next.frozen = append(append([]frozenMemtable(nil), cur.frozen...), frozenMemtable{mem: cur.mem, wal: cur.wal, logID: cur.logID})
	next.mem = memtable.New()
	next.wal = newWal
	next.logID = newLogID
	db.state = next
	db.mu.Unlock()

	return db.appendManifest(manifest.FreezeAndCreateWal(oldLogID, newLogID))
}

// doFlush drains db.state.frozen oldest-first, each into one new L0
// SST (and, for large values, a companion vSST), per spec.md §4.8's
// flush worker protocol.
func (db *DB) doFlush() {
	for {
		db.mu.RLock()
		st := db.state
		db.mu.RUnlock()
		if len(st.frozen) == 0 {
			return
		}
		fm := st.frozen[0]
		if !db.flushOne(fm) {
			return
		}
	}
}

func (db *DB) flushOne(fm frozenMemtable) bool {
	logger := db.opts.Logger

	sstID := db.nextSst.Add(1)
	sstPath := db.SstPath(sstID)
	sstW, err := sst.NewWriter(sstPath, sst.InternalKeyOrder, db.opts.Compression, db.opts.FilterBitsPerKey)
	if err != nil {
		logger.Errorf(logging.NSFlush+"create sst writer: %v", err)
		return false
	}

	var vsstW *sst.Writer
	var vsstID uint64
	var vsstRefs int64

	abort := func() {
		_ = sstW.Abort(sstPath)
		if vsstW != nil {
			_ = vsstW.Abort(db.VSstPath(vsstID))
		}
	}

	it := fm.mem.NewIterator()
	var minSeq, maxSeq dbformat.SequenceNumber
	first := true
	for it.SeekToFirst(); it.Valid(); it.Next() {
		ik := it.Key()
		s := ik.Sequence()
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

		op, _ := dbformat.SplitMeta(it.Meta())
		meta := it.Meta()
		value := it.Value()

		if op == dbformat.OpPut && uint64(len(value)) > db.opts.MinVSstSize {
			if vsstW == nil {
				vsstID = db.nextVSst.Add(1)
				vsstW, err = sst.NewWriter(db.VSstPath(vsstID), sst.PlainKeyOrder, db.opts.Compression, 0)
				if err != nil {
					logger.Errorf(logging.NSFlush+"create vsst writer: %v", err)
					_ = sstW.Abort(sstPath)
					return false
				}
			}
			if err := vsstW.Add(dbformat.Entry{Meta: dbformat.MetaByte(dbformat.OpPut, false), Key: ik.UserKey(), Value: append([]byte(nil), value...)}); err != nil {
				logger.Errorf(logging.NSFlush+"write vsst entry: %v", err)
				abort()
				return false
			}
			vsstRefs++
			ref := make([]byte, 4)
			binary.LittleEndian.PutUint32(ref, uint32(vsstID))
			meta = dbformat.MetaByte(dbformat.OpPut, true)
			value = ref
		}

		if err := sstW.Add(dbformat.Entry{Meta: meta, Key: append(dbformat.InternalKey(nil), ik...), Value: append([]byte(nil), value...)}); err != nil {
			logger.Errorf(logging.NSFlush+"write sst entry: %v", err)
			abort()
			return false
		}
	}
	if it.Error() != nil {
		logger.Errorf(logging.NSFlush+"memtable iteration: %v", it.Error())
		abort()
		return false
	}

	var newTable, newVTable *sst.Table
	if sstW.Empty() {
		_ = sstW.Abort(sstPath)
	} else {
		if err := sstW.Finish(); err != nil {
			logger.Errorf(logging.NSFlush+"finish sst: %v", err)
			if vsstW != nil {
				_ = vsstW.Abort(db.VSstPath(vsstID))
			}
			return false
		}
		newTable, err = sst.Open(sstPath, sst.InternalKeyOrder)
		if err != nil {
			logger.Errorf(logging.NSFlush+"reopen sst: %v", err)
			return false
		}
	}
	if vsstW != nil {
		if err := vsstW.Finish(); err != nil {
			logger.Errorf(logging.NSFlush+"finish vsst: %v", err)
			return false
		}
		newVTable, err = sst.Open(db.VSstPath(vsstID), sst.PlainKeyOrder)
		if err != nil {
			logger.Errorf(logging.NSFlush+"reopen vsst: %v", err)
			return false
		}
	}

	db.mu.Lock()
	cur := db.state
	next := cur.clone()
	next.frozen = cur.frozen[1:]
	if newTable != nil {
		db.tables.register(newTable, sstID)
		levels := copyLevels(cur.levels)
		levels[0] = append(levels[0], &levelFile{id: sstID, table: newTable, minSeq: minSeq, maxSeq: maxSeq})
		next.levels = levels
	}
	if newVTable != nil {
		db.tables.register(newVTable, vsstCacheID(vsstID))
		vssts := copyVSsts(cur.vssts)
		vssts[vsstID] = &vsstEntry{id: vsstID, table: newVTable, refs: vsstRefs}
		next.vssts = vssts
	}
	db.state = next
	l0Count := len(next.levels[0])
	db.mu.Unlock()

	var items []manifest.Item
	if newTable != nil {
		items = append(items, manifest.NewSst(0, sstID))
	}
	if newVTable != nil {
		items = append(items, manifest.NewVSst(vsstID))
		items = append(items, manifest.VSstRefCnt(vsstID, vsstRefs))
	}
	items = append(items, manifest.MaxSeqNum(db.seq.Load()))
	items = append(items, manifest.DelFrozenWal(fm.logID))
	if err := db.appendManifest(items...); err != nil {
		logger.Errorf(logging.NSFlush+"manifest append: %v", err)
		return false
	}

	if err := fm.wal.Delete(); err != nil {
		logger.Warnf(logging.NSFlush+"delete old wal: %v", err)
	}

	if l0Count >= db.opts.L0SstNumLimit {
		select {
		case db.compactCh <- 0:
		default:
		}
	}
	return true
}

// compactionWorker implements the compaction half of spec.md §4.8: a
// level signaled as overfull is merged with the level below it.
func (db *DB) compactionWorker() {
	defer db.wg.Done()
	for {
		select {
		case <-db.shutdownCh:
			return
		case level := <-db.compactCh:
			db.doCompact(level)
		}
	}
}

func (db *DB) doCompact(level int) {
	logger := db.opts.Logger
	if level >= db.opts.SstLevelLimit-1 {
		return
	}

	db.mu.RLock()
	st := db.state
	db.mu.RUnlock()

	handles := toHandles(st.levels[level], level)
	if len(handles) == 0 {
		return
	}
	base := compaction.PickL0Base(handles)
	if base == nil {
		return
	}
	below := toHandles(st.levels[level+1], level+1)
	selL, selL1 := compaction.SelectOverlap(handles, below, base)

	refCounts := make(map[uint64]int64, len(st.vssts))
	for id, e := range st.vssts {
		refCounts[id] = e.refs
	}

	result, err := compaction.Run(selL, selL1, level+1, refCounts, db.openVSst, db, db, compaction.Options{
		MaxFileSize:       db.opts.MaxSstSize,
		MaxVSstSpareRatio: db.opts.MaxVSstSpareRatio,
		Compressor:        db.opts.Compression,
		FilterBitsPerKey:  db.opts.FilterBitsPerKey,
	})
	if err != nil {
		logger.Errorf(logging.NSCompact+"level %d: %v", level, err)
		return
	}

	db.mu.Lock()
	cur := db.state
	next := cur.clone()
	levels := copyLevels(cur.levels)
	levels[level] = removeIDs(cur.levels[level], result.RetiredSstIDs[level])
	levels[level+1] = removeIDs(cur.levels[level+1], result.RetiredSstIDs[level+1])
	for _, h := range result.NewSSTs {
		db.tables.register(h.Table, h.ID)
		minSeq, maxSeq, serr := scanSeqRange(h.Table, db.blockSource)
		if serr != nil {
			logger.Errorf(logging.NSCompact+"scan new sst range: %v", serr)
		}
		levels[h.Level] = append(levels[h.Level], &levelFile{id: h.ID, table: h.Table, minSeq: minSeq, maxSeq: maxSeq})
	}
	next.levels = levels

	vssts := copyVSsts(cur.vssts)
	for _, v := range result.NewVSsts {
		db.tables.register(v.Table, vsstCacheID(v.ID))
		vssts[v.ID] = &vsstEntry{id: v.ID, table: v.Table}
	}
	var retiredVSsts []uint64
	for id, delta := range result.RefCountDeltas {
		e, ok := vssts[id]
		if !ok {
			continue
		}
		e.refs += delta
		if e.refs <= 0 {
			retiredVSsts = append(retiredVSsts, id)
			delete(vssts, id)
		}
	}
	next.vssts = vssts
	db.state = next

	nextLevelCount := len(next.levels[level+1])
	db.mu.Unlock()

	var items []manifest.Item
	for _, id := range result.RetiredSstIDs[level] {
		items = append(items, manifest.DelSst(uint32(level), id))
	}
	for _, id := range result.RetiredSstIDs[level+1] {
		items = append(items, manifest.DelSst(uint32(level+1), id))
	}
	for _, h := range result.NewSSTs {
		items = append(items, manifest.NewSst(uint32(h.Level), h.ID))
	}
	for _, v := range result.NewVSsts {
		items = append(items, manifest.NewVSst(v.ID))
	}
	for id := range result.RefCountDeltas {
		if e, ok := vssts[id]; ok {
			items = append(items, manifest.VSstRefCnt(id, e.refs))
		}
	}
	for _, id := range retiredVSsts {
		items = append(items, manifest.DelVSst(id))
	}
	if err := db.appendManifest(items...); err != nil {
		logger.Errorf(logging.NSCompact+"manifest append: %v", err)
		return
	}

	for _, id := range result.RetiredSstIDs[level] {
		_ = removeFile(db.SstPath(id))
	}
	for _, id := range result.RetiredSstIDs[level+1] {
		_ = removeFile(db.SstPath(id))
	}
	for _, id := range retiredVSsts {
		_ = removeFile(db.VSstPath(id))
	}

	if level+1 < db.opts.SstLevelLimit-1 && uint64(nextLevelCount) > 0 && db.levelOverBudget(level+1, nextLevelCount) {
		select {
		case db.compactCh <- level + 1:
		default:
		}
	}
}

func (db *DB) levelOverBudget(level int, count int) bool {
	if level == 0 {
		return count >= db.opts.L0SstNumLimit
	}
	if level >= len(db.opts.MaxLevelSize) {
		return false
	}
	var total uint64
	db.mu.RLock()
	for _, f := range db.state.levels[level] {
		total += approxTableSize(f.table)
	}
	db.mu.RUnlock()
	return total > db.opts.MaxLevelSize[level]
}

func approxTableSize(t *sst.Table) uint64 {
	return uint64(t.NumBlocks()) * 4096
}

func removeFile(path string) error {
	return os.Remove(path)
}
