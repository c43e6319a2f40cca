package sst

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/xxxuuu/lasagnedb/internal/compression"
	"github.com/xxxuuu/lasagnedb/internal/dbformat"
)

func buildSst(t *testing.T, path string, n int, filterBitsPerKey int) *Table {
	t.Helper()
	w, err := NewWriter(path, InternalKeyOrder, compression.None, filterBitsPerKey)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i := 0; i < n; i++ {
		ik := dbformat.Build([]byte(fmt.Sprintf("key-%04d", i)), dbformat.SequenceNumber(i+1), dbformat.OpPut)
		e := dbformat.Entry{Meta: dbformat.MetaByte(dbformat.OpPut, false), Key: ik, Value: []byte(fmt.Sprintf("value-%04d", i))}
		if err := w.Add(e); err != nil {
			t.Fatalf("Add(%d): %v", i, err)
		}
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	tbl, err := Open(path, InternalKeyOrder)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return tbl
}

func TestWriteOpenIterateInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.SST")
	tbl := buildSst(t, path, 200, 10)

	it := NewIterator(tbl, DirectBlockSource)
	it.SeekToFirst()
	count := 0
	for ; it.Valid(); it.Next() {
		want := fmt.Sprintf("value-%04d", count)
		if string(it.Entry().Value) != want {
			t.Fatalf("entry %d value = %q, want %q", count, it.Entry().Value, want)
		}
		count++
	}
	if it.Error() != nil {
		t.Fatalf("iteration error: %v", it.Error())
	}
	if count != 200 {
		t.Fatalf("iterated %d entries, want 200", count)
	}
}

func TestSeekAcrossBlockBoundary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.SST")
	tbl := buildSst(t, path, 500, 10)
	if tbl.NumBlocks() < 2 {
		t.Fatalf("test needs multiple blocks to exercise boundary seek, got %d", tbl.NumBlocks())
	}

	target := dbformat.Build([]byte("key-0250"), dbformat.SequenceNumber(251), dbformat.OpPut)
	it := NewIterator(tbl, DirectBlockSource)
	it.Seek(target)
	if !it.Valid() {
		t.Fatalf("Seek(key-0250) invalid")
	}
	if string(it.Entry().Value) != "value-0250" {
		t.Fatalf("Seek landed on %q, want value-0250", it.Entry().Value)
	}
}

func TestFirstKeyLastKeyAndRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.SST")
	tbl := buildSst(t, path, 50, 10)

	firstUK := dbformat.InternalKey(tbl.FirstKey()).UserKey()
	lastUK := dbformat.InternalKey(tbl.LastKey()).UserKey()
	if string(firstUK) != "key-0000" {
		t.Fatalf("FirstKey user key = %q, want key-0000", firstUK)
	}
	if string(lastUK) != "key-0049" {
		t.Fatalf("LastKey user key = %q, want key-0049", lastUK)
	}
}

func TestMayContainKeyFilterBehavior(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.SST")
	tbl := buildSst(t, path, 100, 10)

	present := dbformat.InternalKey(tbl.FirstKey()).UserKey()
	if !tbl.MayContainKey(present) {
		t.Fatalf("MayContainKey reported false for a key actually in the table")
	}
}

func TestMayContainKeyWithoutFilterAlwaysTrue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.SST")
	tbl := buildSst(t, path, 10, 0)
	if !tbl.MayContainKey([]byte("anything-at-all")) {
		t.Fatalf("table with no filter should answer MayContainKey true unconditionally")
	}
}

func TestTotalEntriesMatchesWrittenCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.SST")
	tbl := buildSst(t, path, 73, 10)

	total, err := tbl.TotalEntries()
	if err != nil {
		t.Fatalf("TotalEntries: %v", err)
	}
	if total != 73 {
		t.Fatalf("TotalEntries() = %d, want 73", total)
	}
}

func TestOverlapsAndKeyRangeOverlaps(t *testing.T) {
	dir := t.TempDir()
	a := buildSstRange(t, filepath.Join(dir, "a.SST"), 0, 50)
	b := buildSstRange(t, filepath.Join(dir, "b.SST"), 40, 90)
	c := buildSstRange(t, filepath.Join(dir, "c.SST"), 100, 150)

	if !a.Overlaps(b) {
		t.Fatalf("a and b should overlap (ranges [0,50) and [40,90))")
	}
	if a.Overlaps(c) {
		t.Fatalf("a and c should not overlap")
	}
	if !a.KeyRangeOverlaps([]byte("key-0045"), []byte("key-0200")) {
		t.Fatalf("a should overlap range [key-0045, key-0200]")
	}
}

func buildSstRange(t *testing.T, path string, lo, hi int) *Table {
	t.Helper()
	w, err := NewWriter(path, InternalKeyOrder, compression.None, 10)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i := lo; i < hi; i++ {
		ik := dbformat.Build([]byte(fmt.Sprintf("key-%04d", i)), dbformat.SequenceNumber(i+1), dbformat.OpPut)
		e := dbformat.Entry{Meta: dbformat.MetaByte(dbformat.OpPut, false), Key: ik, Value: []byte("v")}
		if err := w.Add(e); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	tbl, err := Open(path, InternalKeyOrder)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return tbl
}

func TestVIteratorResolvesSeparatedValue(t *testing.T) {
	dir := t.TempDir()

	vw, err := NewWriter(filepath.Join(dir, "v.VSST"), PlainKeyOrder, compression.None, 10)
	if err != nil {
		t.Fatalf("NewWriter vsst: %v", err)
	}
	bigValue := make([]byte, 1024)
	for i := range bigValue {
		bigValue[i] = byte(i)
	}
	if err := vw.Add(dbformat.Entry{Meta: 0, Key: []byte("sep-key"), Value: bigValue}); err != nil {
		t.Fatalf("Add to vsst: %v", err)
	}
	if err := vw.Finish(); err != nil {
		t.Fatalf("Finish vsst: %v", err)
	}
	vtbl, err := Open(filepath.Join(dir, "v.VSST"), PlainKeyOrder)
	if err != nil {
		t.Fatalf("Open vsst: %v", err)
	}

	sw, err := NewWriter(filepath.Join(dir, "s.SST"), InternalKeyOrder, compression.None, 10)
	if err != nil {
		t.Fatalf("NewWriter sst: %v", err)
	}
	ik := dbformat.Build([]byte("sep-key"), 1, dbformat.OpPut)
	ref := make([]byte, 4)
	ref[0] = 1
	if err := sw.Add(dbformat.Entry{Meta: dbformat.MetaByte(dbformat.OpPut, true), Key: ik, Value: ref}); err != nil {
		t.Fatalf("Add to sst: %v", err)
	}
	if err := sw.Finish(); err != nil {
		t.Fatalf("Finish sst: %v", err)
	}
	stbl, err := Open(filepath.Join(dir, "s.SST"), InternalKeyOrder)
	if err != nil {
		t.Fatalf("Open sst: %v", err)
	}

	resolve := func(id uint64) (*Table, error) { return vtbl, nil }
	it := NewVIterator(NewIterator(stbl, DirectBlockSource), resolve, DirectBlockSource)
	it.SeekToFirst()
	if !it.Valid() {
		t.Fatalf("VIterator not valid after SeekToFirst")
	}
	if string(it.Value()) != string(bigValue) {
		t.Fatalf("VIterator did not materialize the separated value correctly")
	}
}

func TestVIteratorNonSeparatedPassesThroughValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.SST")
	tbl := buildSst(t, path, 5, 10)
	it := NewVIterator(NewIterator(tbl, DirectBlockSource), nil, DirectBlockSource)
	it.SeekToFirst()
	if !it.Valid() {
		t.Fatalf("VIterator not valid")
	}
	if string(it.Value()) != "value-0000" {
		t.Fatalf("Value() = %q, want value-0000", it.Value())
	}
}
