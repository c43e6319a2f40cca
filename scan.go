package lasagnedb

import (
	"bytes"

	"github.com/xxxuuu/lasagnedb/internal/dbformat"
	intiter "github.com/xxxuuu/lasagnedb/internal/iterator"
	"github.com/xxxuuu/lasagnedb/internal/sst"
)

// Bound names one end of a Scan range. The zero value, Unbounded,
// means that end of the scan is open.
type Bound struct {
	Key       []byte
	Inclusive bool
	bounded   bool
}

// Unbounded leaves the corresponding end of a Scan range open.
var Unbounded = Bound{}

// Inclusive bounds a Scan at key, key included.
func Inclusive(key []byte) Bound { return Bound{Key: key, Inclusive: true, bounded: true} }

// Exclusive bounds a Scan at key, key excluded.
func Exclusive(key []byte) Bound { return Bound{Key: key, Inclusive: false, bounded: true} }

// Iterator walks a key range in ascending order over the memtables and
// SSTs that were live when Scan was called. The set of frozen memtables
// and SSTs is fixed at that point, but the active memtable is read
// live with no sequence bound, so a Put or Delete that lands in it
// after Scan can be visible. Tombstoned keys are skipped.
type Iterator struct {
	src   intiter.Iterator
	upper Bound
	done  bool
}

// Scan returns an Iterator over [lower, upper) (bounds adjusted for
// Inclusive/Exclusive), reading the active memtable, frozen memtables,
// and every live SST/vSST of the state current at the call (see
// Iterator for what later writes it can see).
func (db *DB) Scan(lower, upper Bound) *Iterator {
	db.mu.RLock()
	st := db.state
	db.mu.RUnlock()

	merged := intiter.NewMergingIterator(db.scanSources(st))
	collapsed := intiter.NewCollapseIterator(merged, false)

	it := &Iterator{src: collapsed, upper: upper}
	if !lower.bounded {
		collapsed.SeekToFirst()
	} else {
		collapsed.Seek(dbformat.SeekKey(lower.Key))
		if !lower.Inclusive {
			for collapsed.Valid() && bytes.Equal(collapsed.Key().UserKey(), lower.Key) {
				collapsed.Next()
			}
		}
	}
	it.checkUpper()
	return it
}

func (db *DB) scanSources(st *dbState) []intiter.Source {
	var sources []intiter.Source
	p := 0

	sources = append(sources, intiter.Source{It: st.mem.NewIterator(), Priority: p})
	p++
	for i := len(st.frozen) - 1; i >= 0; i-- {
		sources = append(sources, intiter.Source{It: st.frozen[i].mem.NewIterator(), Priority: p})
		p++
	}
	for level := 0; level < len(st.levels); level++ {
		files := st.levels[level]
		if level == 0 {
			for i := len(files) - 1; i >= 0; i-- {
				sources = append(sources, db.tableSource(files[i].table, p))
				p++
			}
			continue
		}
		for _, lf := range files {
			sources = append(sources, db.tableSource(lf.table, p))
			p++
		}
	}
	return sources
}

func (db *DB) tableSource(t *sst.Table, priority int) intiter.Source {
	vit := sst.NewVIterator(sst.NewIterator(t, db.blockSource), db.openVSst, db.blockSource)
	return intiter.Source{It: intiter.FromTable(vit), Priority: priority}
}

func (it *Iterator) checkUpper() {
	if it.done || !it.src.Valid() || !it.upper.bounded {
		return
	}
	c := bytes.Compare(it.src.Key().UserKey(), it.upper.Key)
	if c > 0 || (c == 0 && !it.upper.Inclusive) {
		it.done = true
	}
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return !it.done && it.src.Valid() }

// Key returns the current entry's key. The returned slice is a copy.
func (it *Iterator) Key() []byte { return append([]byte(nil), it.src.Key().UserKey()...) }

// Value returns the current entry's value. The returned slice is a copy.
func (it *Iterator) Value() []byte { return append([]byte(nil), it.src.Value()...) }

// Next advances to the next entry.
func (it *Iterator) Next() {
	if it.done {
		return
	}
	it.src.Next()
	it.checkUpper()
}

// Error reports any error encountered while reading the underlying
// SSTs; once non-nil, Valid is false and will stay false.
func (it *Iterator) Error() error {
	if err := it.src.Error(); err != nil {
		return corruptionErr("Scan", err)
	}
	return nil
}
