package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestItemEncodeDecodeAllTags(t *testing.T) {
	items := []Item{
		Init(3),
		NewSst(0, 10),
		DelSst(1, 11),
		NewVSst(20),
		DelVSst(21),
		VSstRefCnt(20, -2),
		MaxSeqNum(999),
		FreezeAndCreateWal(5, 6),
		DelFrozenWal(5),
	}
	for _, it := range items {
		buf := it.AppendTo(nil)
		got, n, err := DecodeItem(buf)
		if err != nil {
			t.Fatalf("DecodeItem(tag=%d): %v", it.Tag, err)
		}
		if n != len(buf) {
			t.Fatalf("tag=%d: consumed %d, want %d", it.Tag, n, len(buf))
		}
		if got != it {
			t.Fatalf("tag=%d: round trip mismatch: got %+v, want %+v", it.Tag, got, it)
		}
	}
}

func TestDecodeItemShortBuffer(t *testing.T) {
	full := NewSst(0, 7).AppendTo(nil)
	if _, _, err := DecodeItem(full[:len(full)-1]); err != ErrShortItem {
		t.Fatalf("err = %v, want ErrShortItem", err)
	}
	if _, _, err := DecodeItem([]byte{1, 2}); err != ErrShortItem {
		t.Fatalf("err = %v, want ErrShortItem", err)
	}
}

func TestCatalogAppliesInOrder(t *testing.T) {
	items := []Item{
		Init(1),
		NewSst(0, 1),
		NewSst(0, 2),
		DelSst(0, 1),
		NewVSst(100),
		VSstRefCnt(100, 3),
		MaxSeqNum(50),
		MaxSeqNum(10), // lower value must not regress MaxSeqNum
		FreezeAndCreateWal(0, 1),
		FreezeAndCreateWal(1, 2),
		DelFrozenWal(1),
	}
	c := BuildCatalog(items, 6)

	if c.Version != 1 {
		t.Fatalf("Version = %d, want 1", c.Version)
	}
	if c.Levels[0][1] {
		t.Fatalf("sst 1 should have been deleted from level 0")
	}
	if !c.Levels[0][2] {
		t.Fatalf("sst 2 should be live in level 0")
	}
	if c.MaxSstID != 2 {
		t.Fatalf("MaxSstID = %d, want 2", c.MaxSstID)
	}
	if !c.VSsts[100] || c.VSstRefCounts[100] != 3 {
		t.Fatalf("vsst 100 not tracked correctly: live=%v refcount=%d", c.VSsts[100], c.VSstRefCounts[100])
	}
	if c.MaxSeqNum != 50 {
		t.Fatalf("MaxSeqNum = %d, want 50", c.MaxSeqNum)
	}
	if c.ActiveLogID != 2 {
		t.Fatalf("ActiveLogID = %d, want 2", c.ActiveLogID)
	}
	if c.PendingFrozenWals[1] {
		t.Fatalf("log 1 should no longer be pending after DelFrozenWal")
	}
}

func TestCatalogDelVSstClearsRefCount(t *testing.T) {
	items := []Item{Init(1), NewVSst(5), VSstRefCnt(5, 2), DelVSst(5)}
	c := BuildCatalog(items, 1)
	if c.VSsts[5] {
		t.Fatalf("vsst 5 should no longer be live")
	}
	if _, ok := c.VSstRefCounts[5]; ok {
		t.Fatalf("refcount for deleted vsst 5 should be cleared")
	}
}

func TestManifestCreateAppendFlushReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "00001.MANIFEST")

	m, err := Create(path, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Append(NewSst(0, 1), NewVSst(10)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := m.Append(MaxSeqNum(42)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := m.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	items, err := Replay(path)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	// Create's own Init(1) record precedes the two Appends.
	if len(items) != 4 {
		t.Fatalf("Replay returned %d items, want 4", len(items))
	}
	if items[0].Tag != TagInit || items[0].Version != 1 {
		t.Fatalf("first item = %+v, want Init(1)", items[0])
	}
}

func TestManifestOpenForAppendContinuesLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "00001.MANIFEST")

	m, err := Create(path, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Append(NewSst(0, 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	m2, err := OpenForAppend(path)
	if err != nil {
		t.Fatalf("OpenForAppend: %v", err)
	}
	if err := m2.Append(NewSst(0, 2)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := m2.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	items, err := Replay(path)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("Replay returned %d items, want 3", len(items))
	}
}

func TestReplayAbsentManifestReturnsNil(t *testing.T) {
	items, err := Replay(filepath.Join(t.TempDir(), "missing.MANIFEST"))
	if err != nil || items != nil {
		t.Fatalf("Replay(missing) = %v, %v, want nil, nil", items, err)
	}
}

func TestWriteCurrentReadCurrentRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if err := WriteCurrent(dir, "00003.MANIFEST"); err != nil {
		t.Fatalf("WriteCurrent: %v", err)
	}
	got, err := ReadCurrent(dir)
	if err != nil {
		t.Fatalf("ReadCurrent: %v", err)
	}
	if got != "00003.MANIFEST" {
		t.Fatalf("ReadCurrent = %q, want 00003.MANIFEST", got)
	}
}

func TestReadCurrentAbsentReturnsEmpty(t *testing.T) {
	got, err := ReadCurrent(t.TempDir())
	if err != nil || got != "" {
		t.Fatalf("ReadCurrent(no file) = %q, %v, want \"\", nil", got, err)
	}
}

func TestWriteCurrentOverwritesPreviousPointer(t *testing.T) {
	dir := t.TempDir()
	if err := WriteCurrent(dir, "00001.MANIFEST"); err != nil {
		t.Fatalf("WriteCurrent 1: %v", err)
	}
	if err := WriteCurrent(dir, "00002.MANIFEST"); err != nil {
		t.Fatalf("WriteCurrent 2: %v", err)
	}
	got, err := ReadCurrent(dir)
	if err != nil {
		t.Fatalf("ReadCurrent: %v", err)
	}
	if got != "00002.MANIFEST" {
		t.Fatalf("ReadCurrent = %q, want 00002.MANIFEST", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "CURRENT.tmp")); !os.IsNotExist(err) {
		t.Fatalf("CURRENT.tmp should not remain after a successful rename")
	}
}
