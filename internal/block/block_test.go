package block

import (
	"fmt"
	"testing"

	"github.com/xxxuuu/lasagnedb/internal/compression"
	"github.com/xxxuuu/lasagnedb/internal/dbformat"
)

func buildTestBlock(t *testing.T, n int) *Block {
	t.Helper()
	b := NewBuilder(compression.None)
	for i := 0; i < n; i++ {
		key := dbformat.Build([]byte(fmt.Sprintf("key-%03d", i)), dbformat.SequenceNumber(i+1), dbformat.OpPut)
		if err := b.Add(dbformat.Entry{Meta: dbformat.MetaByte(dbformat.OpPut, false), Key: key, Value: []byte(fmt.Sprintf("val-%03d", i))}); err != nil {
			t.Fatalf("Add(%d): %v", i, err)
		}
	}
	data, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	blk, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return blk
}

func TestBuilderParseIterateInOrder(t *testing.T) {
	blk := buildTestBlock(t, 10)
	if blk.NumEntries() != 10 {
		t.Fatalf("NumEntries() = %d, want 10", blk.NumEntries())
	}

	it := blk.NewIterator()
	i := 0
	for it.SeekToFirst(); it.Valid(); it.Next() {
		want := fmt.Sprintf("val-%03d", i)
		if string(it.Entry().Value) != want {
			t.Fatalf("entry %d value = %q, want %q", i, it.Entry().Value, want)
		}
		i++
	}
	if it.Error() != nil {
		t.Fatalf("iteration error: %v", it.Error())
	}
	if i != 10 {
		t.Fatalf("iterated %d entries, want 10", i)
	}
}

func TestSeekFindsExactAndGreater(t *testing.T) {
	blk := buildTestBlock(t, 10)
	target := dbformat.Build([]byte("key-005"), dbformat.SequenceNumber(6), dbformat.OpPut)

	it := blk.NewIterator()
	it.Seek(target)
	if !it.Valid() {
		t.Fatalf("Seek did not find key-005")
	}
	if string(it.Entry().Value) != "val-005" {
		t.Fatalf("Seek landed on %q, want val-005", it.Entry().Value)
	}
}

func TestSeekPastEndIsInvalid(t *testing.T) {
	blk := buildTestBlock(t, 3)
	it := blk.NewIterator()
	it.Seek(dbformat.SeekKey([]byte("zzz")))
	if it.Valid() {
		t.Fatalf("Seek past the last key should be invalid")
	}
}

func TestParseRejectsCorruptData(t *testing.T) {
	b := NewBuilder(compression.None)
	e := dbformat.Entry{Meta: dbformat.MetaByte(dbformat.OpPut, false), Key: []byte("k"), Value: []byte("value-bytes")}
	if err := b.Add(e); err != nil {
		t.Fatalf("Add: %v", err)
	}
	data, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if _, err := Parse(data); err != nil {
		t.Fatalf("Parse of valid data failed: %v", err)
	}

	corrupt := append([]byte(nil), data...)
	corrupt[1] ^= 0xFF // flip a byte inside the CRC-covered entry region
	if _, err := Parse(corrupt); err != ErrBadBlock {
		t.Fatalf("Parse(corrupt) = %v, want ErrBadBlock", err)
	}
}

func TestParseRejectsTruncatedData(t *testing.T) {
	if _, err := Parse([]byte{1, 2}); err != ErrBadBlock {
		t.Fatalf("Parse(short) = %v, want ErrBadBlock", err)
	}
}

func TestBuilderRejectsOversizedEntryOnceNonEmpty(t *testing.T) {
	b := NewBuilder(compression.None)
	small := dbformat.Entry{Meta: dbformat.MetaByte(dbformat.OpPut, false), Key: []byte("k"), Value: []byte("v")}
	if err := b.Add(small); err != nil {
		t.Fatalf("Add(small): %v", err)
	}
	huge := dbformat.Entry{Meta: dbformat.MetaByte(dbformat.OpPut, false), Key: []byte("k2"), Value: make([]byte, TargetSize*2)}
	if err := b.Add(huge); err != ErrBlockFull {
		t.Fatalf("Add(huge) = %v, want ErrBlockFull", err)
	}
}
