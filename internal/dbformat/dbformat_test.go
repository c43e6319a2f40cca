package dbformat

import (
	"bytes"
	"testing"
)

func TestEntryEncodeDecodeRoundTrip(t *testing.T) {
	e := Entry{Meta: MetaByte(OpPut, true), Key: []byte("hello"), Value: []byte("world")}
	buf := e.AppendTo(nil)
	if len(buf) != e.EncodedLen() {
		t.Fatalf("AppendTo produced %d bytes, EncodedLen said %d", len(buf), e.EncodedLen())
	}

	got, n, err := DecodeEntry(buf)
	if err != nil {
		t.Fatalf("DecodeEntry: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("consumed %d, want %d", n, len(buf))
	}
	if got.Meta != e.Meta || !bytes.Equal(got.Key, e.Key) || !bytes.Equal(got.Value, e.Value) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, e)
	}
}

func TestDecodeEntryShortBuffer(t *testing.T) {
	e := Entry{Meta: MetaByte(OpPut, false), Key: []byte("k"), Value: []byte("v")}
	full := e.AppendTo(nil)
	if _, _, err := DecodeEntry(full[:len(full)-1]); err != ErrShortEntry {
		t.Fatalf("err = %v, want ErrShortEntry", err)
	}
}

func TestMetaByteSplitMeta(t *testing.T) {
	for _, op := range []OpType{OpPut, OpDelete} {
		for _, sep := range []bool{true, false} {
			m := MetaByte(op, sep)
			gotOp, gotSep := SplitMeta(m)
			if gotOp != op || gotSep != sep {
				t.Fatalf("SplitMeta(MetaByte(%v,%v)) = %v,%v", op, sep, gotOp, gotSep)
			}
		}
	}
}

func TestInternalKeyUserKeyAndSequence(t *testing.T) {
	ik := Build([]byte("mykey"), SequenceNumber(42), OpPut)
	if !bytes.Equal(ik.UserKey(), []byte("mykey")) {
		t.Fatalf("UserKey() = %q, want mykey", ik.UserKey())
	}
	if ik.Sequence() != 42 {
		t.Fatalf("Sequence() = %d, want 42", ik.Sequence())
	}
}

func TestInternalKeyOrderingUserKeyAscending(t *testing.T) {
	a := Build([]byte("a"), 1, OpPut)
	b := Build([]byte("b"), 1, OpPut)
	if Compare(a, b) >= 0 {
		t.Fatalf("Compare(a, b) >= 0, want a < b")
	}
}

func TestInternalKeyOrderingSeqDescending(t *testing.T) {
	newer := Build([]byte("k"), 5, OpPut)
	older := Build([]byte("k"), 3, OpPut)
	if Compare(newer, older) >= 0 {
		t.Fatalf("newer-seq key did not sort before older-seq key for the same user key")
	}
}

func TestInternalKeyOrderingDeleteShadowsPutAtSameSeq(t *testing.T) {
	del := Build([]byte("k"), 5, OpDelete)
	put := Build([]byte("k"), 5, OpPut)
	if Compare(del, put) >= 0 {
		t.Fatalf("Delete did not sort before Put at an identical sequence number")
	}
}

func TestSeekKeySortsBeforeAnyRealEntryForSameKey(t *testing.T) {
	real := Build([]byte("k"), 5, OpPut)
	seek := SeekKey([]byte("k"))
	if Compare(seek, real) >= 0 {
		t.Fatalf("SeekKey did not sort at-or-before the real entry")
	}
}

func TestSeekKeyAtExcludesHigherSequence(t *testing.T) {
	higher := Build([]byte("k"), 10, OpPut)
	seekAt5 := SeekKeyAt([]byte("k"), 5)
	if Compare(seekAt5, higher) <= 0 {
		t.Fatalf("SeekKeyAt(5) did not sort after a seq-10 entry")
	}
	lower := Build([]byte("k"), 3, OpPut)
	if Compare(seekAt5, lower) >= 0 {
		t.Fatalf("SeekKeyAt(5) did not sort at-or-before a seq-3 entry")
	}
}
