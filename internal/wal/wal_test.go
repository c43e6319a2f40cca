package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xxxuuu/lasagnedb/internal/dbformat"
)

func TestWriteFlushReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "00001.LOG")

	w, err := Open(1, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	batch1 := []dbformat.Entry{dbformat.NewPutEntry([]byte("a"), []byte("1"), false)}
	batch2 := []dbformat.Entry{
		dbformat.NewPutEntry([]byte("b"), []byte("2"), false),
		dbformat.NewDeleteEntry([]byte("a")),
	}
	if err := w.Write(batch1); err != nil {
		t.Fatalf("Write batch1: %v", err)
	}
	if err := w.Write(batch2); err != nil {
		t.Fatalf("Write batch2: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	replayed, err := Replay(path)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(replayed) != 3 {
		t.Fatalf("Replay returned %d entries, want 3", len(replayed))
	}
	if string(replayed[0].Entry.Key) == "" {
		t.Fatalf("first replayed entry has empty key")
	}
	for i, re := range replayed {
		if re.Index != i+1 {
			t.Fatalf("entry %d has Index %d, want %d", i, re.Index, i+1)
		}
	}
}

func TestReplayAbsentFileReturnsNil(t *testing.T) {
	replayed, err := Replay(filepath.Join(t.TempDir(), "missing.LOG"))
	if err != nil {
		t.Fatalf("Replay(missing) err = %v, want nil", err)
	}
	if replayed != nil {
		t.Fatalf("Replay(missing) = %v, want nil", replayed)
	}
}

func TestReplayStopsAtTornTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "00001.LOG")

	w, err := Open(1, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Write([]dbformat.Entry{dbformat.NewPutEntry([]byte("a"), []byte("1"), false)}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if err := os.WriteFile(path, append(data, []byte{1, 2, 3, 4, 5}...), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	replayed, err := Replay(path)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(replayed) != 1 {
		t.Fatalf("Replay with torn tail returned %d entries, want 1", len(replayed))
	}
}

func TestDeleteRemovesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "00001.LOG")
	w, err := Open(1, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Delete(); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file still exists after Delete")
	}
}

func TestIDAndPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "00007.LOG")
	w, err := Open(7, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()
	if w.ID() != 7 {
		t.Fatalf("ID() = %d, want 7", w.ID())
	}
	if w.Path() != path {
		t.Fatalf("Path() = %q, want %q", w.Path(), path)
	}
}
