// Package wal implements the write-ahead journal: one Record per
// write batch, each holding one or more encoded dbformat.Entry items,
// per spec.md §4.5/§6.
//
// Reference: structured after the teacher's internal/wal package
// (Writer/Reader split, fsync-on-flush, open-time replay), adapted to
// spec.md's simpler unfragmented Record framing (internal/recordio)
// rather than the teacher's RocksDB block-fragmented log format.
package wal

import (
	"os"

	"github.com/xxxuuu/lasagnedb/internal/dbformat"
	"github.com/xxxuuu/lasagnedb/internal/recordio"
)

// Wal is a single append-only journal file identified by a log id.
type Wal struct {
	id   uint64
	path string
	f    *os.File
}

// Open opens (creating if absent) the journal file at path for
// appending, associating it with id.
func Open(id uint64, path string) (*Wal, error) {
	f, err := recordio.OpenForAppend(path)
	if err != nil {
		return nil, err
	}
	return &Wal{id: id, path: path, f: f}, nil
}

// ID returns the journal's log id.
func (w *Wal) ID() uint64 { return w.id }

// Path returns the journal's file path.
func (w *Wal) Path() string { return w.path }

// Write appends a Record containing entries as a single batch.
func (w *Wal) Write(entries []dbformat.Entry) error {
	items := make([][]byte, len(entries))
	for i, e := range entries {
		items[i] = e.AppendTo(nil)
	}
	_, err := recordio.AppendItems(w.f, items)
	return err
}

// Flush fsyncs the journal file, making prior Write calls durable.
func (w *Wal) Flush() error {
	return w.f.Sync()
}

// Close closes the underlying file handle without deleting it.
func (w *Wal) Close() error {
	return w.f.Close()
}

// Delete closes and removes the journal file. Callers must only call
// this once the journal's data has been materialized into an SST and
// the removal has been recorded in the manifest (spec.md §4.5).
func (w *Wal) Delete() error {
	_ = w.f.Close()
	return os.Remove(w.path)
}

// ReplayedEntry is one Entry recovered from a journal, tagged with
// the position (1-based, log order) it was written in — used to
// assign a strictly increasing recovered sequence number, per the
// binding decision in SPEC_FULL.md §10.1.
type ReplayedEntry struct {
	Entry dbformat.Entry
	Index int
}

// Replay decodes every committed Record in the journal at path in
// order, stopping silently at the first torn tail (spec.md: "trailing
// partial frames are dropped"). It never errors on a torn tail; it
// only errors if the file itself cannot be opened or read.
func Replay(path string) ([]ReplayedEntry, error) {
	data, err := recordio.ReadFileForRecords(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	r := recordio.NewReader(data)
	var out []ReplayedEntry
	for {
		items, err := r.Next(decodeEntryItem)
		if err != nil {
			break
		}
		for _, raw := range items {
			e, _, derr := dbformat.DecodeEntry(raw)
			if derr != nil {
				return out, nil
			}
			out = append(out, ReplayedEntry{Entry: e, Index: len(out) + 1})
		}
	}
	return out, nil
}

func decodeEntryItem(data []byte) ([]byte, int, error) {
	_, n, err := dbformat.DecodeEntry(data)
	if err != nil {
		return nil, 0, err
	}
	return data[:n], n, nil
}
