// Package lasagnedb is an embedded, single-process, persistent
// key-value store built as an LSM tree with key/value separation: a
// write-ahead journal and in-memory memtable absorb writes, which are
// periodically frozen and flushed into sorted, Bloom-filtered SST
// files, while large values are written out-of-line into vSST files
// and referenced by a small fixed-size pointer. A manifest records the
// set of live files and is replayed on Open to reconstruct state after
// a crash. Background workers flush frozen memtables and compact
// overlapping SSTs without blocking foreground reads or writes.
package lasagnedb

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/xxxuuu/lasagnedb/internal/cache"
	"github.com/xxxuuu/lasagnedb/internal/dbformat"
	"github.com/xxxuuu/lasagnedb/internal/logging"
	"github.com/xxxuuu/lasagnedb/internal/manifest"
	"github.com/xxxuuu/lasagnedb/internal/memtable"
	"github.com/xxxuuu/lasagnedb/internal/sst"
)

// DB is a single open handle onto a database directory. A DB is safe
// for concurrent use by multiple goroutines.
type DB struct {
	dir  string
	opts Options

	// mu guards only the state pointer itself: readers and writers
	// take RLock just long enough to read/replace it, never holding it
	// across blocking I/O, except writers which hold it for the
	// duration of their WAL append + memtable insert so a concurrent
	// freeze cannot swap the memtable out from under them (spec.md §5).
	mu    sync.RWMutex
	state *dbState

	seq      atomic.Uint64
	nextSst  atomic.Uint64
	nextVSst atomic.Uint64
	nextLog  atomic.Uint64

	// writeMu serializes seq assignment, WAL append and memtable
	// insert across concurrent writers; the memtable's skip list
	// requires external synchronization for concurrent inserts.
	writeMu sync.Mutex

	manifestMu      sync.Mutex
	manifest        *manifest.Manifest
	manifestVersion uint64

	cache       *cache.BlockCache
	tables      *tableRegistry
	blockSource sst.BlockSource

	freezeCh  chan struct{}
	compactCh chan int

	shutdownCh chan struct{}
	wg         sync.WaitGroup
	closeOnce  sync.Once
	closed     atomic.Bool
}

// Open opens (creating if CreateIfMissing is set and dir is empty or
// absent) the database at dir, replaying its manifest and WAL to
// reconstruct in-memory state, then starts its background flush and
// compaction workers.
func Open(dir string, opts Options) (*DB, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts.Logger = logging.OrDefault(opts.Logger)

	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return nil, ioErr("Open", err)
		}
		if !opts.CreateIfMissing {
			return nil, logicErr("Open", fmt.Errorf("database %q does not exist", dir))
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, ioErr("Open", err)
		}
	}

	db := &DB{
		dir:        dir,
		opts:       opts,
		cache:      cache.New(opts.BlockCacheSize),
		tables:     newTableRegistry(),
		freezeCh:   make(chan struct{}, 1),
		compactCh:  make(chan int, opts.SstLevelLimit),
		shutdownCh: make(chan struct{}),
	}
	db.blockSource = cache.BlockSource(db.cache, db.tables)

	if err := db.recover(); err != nil {
		return nil, err
	}

	db.wg.Add(2)
	go db.flushWorker()
	go db.compactionWorker()

	return db, nil
}

// NextSstID implements compaction.IDAllocator.
func (db *DB) NextSstID() uint64 { return db.nextSst.Add(1) }

// NextVSstID implements compaction.IDAllocator.
func (db *DB) NextVSstID() uint64 { return db.nextVSst.Add(1) }

// openVSst implements sst.VSstResolver and compaction.VSstOpener: it
// returns the already-open table for a live vSST, or opens it fresh
// if it has not yet been registered (a compaction can need to read a
// vSST that is not part of the levels currently being merged).
func (db *DB) openVSst(id uint64) (*sst.Table, error) {
	db.mu.RLock()
	if e, ok := db.state.vssts[id]; ok {
		db.mu.RUnlock()
		return e.table, nil
	}
	db.mu.RUnlock()

	t, err := sst.Open(db.VSstPath(id), sst.PlainKeyOrder)
	if err != nil {
		return nil, ioErr("openVSst", err)
	}
	db.tables.register(t, vsstCacheID(id))
	return t, nil
}

func (db *DB) appendManifest(items ...manifest.Item) error {
	db.manifestMu.Lock()
	defer db.manifestMu.Unlock()
	if err := db.manifest.Append(items...); err != nil {
		return ioErr("manifest append", err)
	}
	if err := db.manifest.Flush(); err != nil {
		return ioErr("manifest flush", err)
	}
	return nil
}

// Put writes key=value, durable once Put returns without error.
func (db *DB) Put(key, value []byte) error {
	if db.closed.Load() {
		return ErrClosed
	}
	return db.write(dbformat.NewPutEntry(key, value, false))
}

// Delete removes key. Deleting an absent key is not an error.
func (db *DB) Delete(key []byte) error {
	if db.closed.Load() {
		return ErrClosed
	}
	return db.write(dbformat.NewDeleteEntry(key))
}

func (db *DB) write(e dbformat.Entry) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	db.mu.RLock()
	defer db.mu.RUnlock()
	st := db.state

	seq := dbformat.SequenceNumber(db.seq.Add(1))
	if err := st.wal.Write([]dbformat.Entry{e}); err != nil {
		return ioErr("write", err)
	}
	if err := st.wal.Flush(); err != nil {
		return ioErr("write", err)
	}
	st.mem.PutEntry(e, seq)

	if uint64(st.mem.ApproximateSize()) >= db.opts.MemtableSizeLimit {
		select {
		case db.freezeCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// Get returns the current value for key, or (nil, nil) if key is
// absent. Get never returns an error for a missing key.
func (db *DB) Get(key []byte) ([]byte, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	db.mu.RLock()
	st := db.state
	snapshotSeq := dbformat.SequenceNumber(db.seq.Load())
	db.mu.RUnlock()

	if meta, value, ok := st.mem.Get(key, snapshotSeq); ok {
		return getResult(meta, value)
	}
	for i := len(st.frozen) - 1; i >= 0; i-- {
		if meta, value, ok := st.frozen[i].mem.Get(key, snapshotSeq); ok {
			return getResult(meta, value)
		}
	}

	seekKey := dbformat.SeekKeyAt(key, snapshotSeq)
	for level := 0; level < len(st.levels); level++ {
		files := st.levels[level]
		if level == 0 {
			for i := len(files) - 1; i >= 0; i-- {
				v, found, err := db.getFromTable(files[i].table, key, seekKey)
				if err != nil {
					return nil, corruptionErr("Get", err)
				}
				if found {
					return v, nil
				}
			}
			continue
		}
		for _, lf := range files {
			if !containsUserKey(lf.table, key) {
				continue
			}
			v, found, err := db.getFromTable(lf.table, key, seekKey)
			if err != nil {
				return nil, corruptionErr("Get", err)
			}
			if found {
				return v, nil
			}
			break
		}
	}
	return nil, nil
}

func getResult(meta uint8, value []byte) ([]byte, error) {
	if op, _ := dbformat.SplitMeta(meta); op == dbformat.OpDelete {
		return nil, nil
	}
	return value, nil
}

// getFromTable looks up key in t, returning found=true only when an
// entry (live or tombstone) for key exists at or before snapshotSeq.
func (db *DB) getFromTable(t *sst.Table, key []byte, seekKey dbformat.InternalKey) ([]byte, bool, error) {
	if !t.MayContainKey(key) {
		return nil, false, nil
	}
	vit := sst.NewVIterator(sst.NewIterator(t, db.blockSource), db.openVSst, db.blockSource)
	vit.Seek([]byte(seekKey))
	if !vit.Valid() {
		return nil, false, vit.Error()
	}
	if !bytes.Equal(dbformat.InternalKey(vit.Key()).UserKey(), key) {
		return nil, false, nil
	}
	if op, _ := dbformat.SplitMeta(vit.Meta()); op == dbformat.OpDelete {
		return nil, true, nil
	}
	return append([]byte(nil), vit.Value()...), true, nil
}

// Close stops the background workers and flushes all open WAL and
// manifest handles. Close is idempotent; only the first call does any
// work, and later calls return nil.
func (db *DB) Close() error {
	var err error
	db.closeOnce.Do(func() {
		db.closed.Store(true)
		close(db.shutdownCh)
		db.wg.Wait()

		db.mu.Lock()
		defer db.mu.Unlock()

		if e := db.state.wal.Flush(); e != nil && err == nil {
			err = ioErr("Close", e)
		}
		if e := db.state.wal.Close(); e != nil && err == nil {
			err = ioErr("Close", e)
		}
		for _, fm := range db.state.frozen {
			_ = fm.wal.Flush()
			_ = fm.wal.Close()
		}
		if e := db.appendManifest(manifest.MaxSeqNum(db.seq.Load())); e != nil && err == nil {
			err = e
		}
		if e := db.manifest.Close(); e != nil && err == nil {
			err = ioErr("Close", e)
		}
	})
	return err
}
