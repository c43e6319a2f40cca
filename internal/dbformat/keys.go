// Package dbformat implements the InternalKey encoding and ordering
// described in spec.md §3: a user key followed by an 8-byte trailer
// packing a 56-bit sequence number and an op-type.
//
// Reference: the packed-trailer technique and the max-sequence seek
// sentinel mirror RocksDB's db/dbformat.h (ParsedInternalKey,
// InternalKeyComparator, kValueTypeForSeek), adapted to this store's
// two-op-type, tombstone-shadows-tie ordering.
package dbformat

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// SequenceNumber is the 56-bit monotonic write counter.
type SequenceNumber uint64

// MaxSequenceNumber is the largest representable sequence number.
const MaxSequenceNumber SequenceNumber = (1 << 56) - 1

// OpType identifies what an Entry does to a key.
type OpType uint8

const (
	// OpPut stores a value.
	OpPut OpType = 1
	// OpDelete writes a tombstone.
	OpDelete OpType = 2
	// opSeekSentinel never reaches disk; it only exists to build a
	// lookup key that sorts at or before every real entry sharing its
	// (user_key, seq_num).
	opSeekSentinel OpType = 0
)

// KVSeparateFlag is set in the Entry meta byte when the stored value
// is a 4-byte vSST id rather than the literal value.
const KVSeparateFlag uint8 = 0x80

const opTypeMask uint8 = 0x0F

// MetaByte packs an op-type and the kv-separate flag into a single
// on-disk byte.
func MetaByte(op OpType, kvSeparate bool) uint8 {
	b := uint8(op) & opTypeMask
	if kvSeparate {
		b |= KVSeparateFlag
	}
	return b
}

// SplitMeta extracts the op-type and kv-separate flag from a meta byte.
func SplitMeta(meta uint8) (OpType, bool) {
	return OpType(meta & opTypeMask), meta&KVSeparateFlag != 0
}

// typeRank totally orders op-types so that, at equal sequence numbers,
// a Delete shadows a Put (spec.md §3: "Delete < Put"). The trailer is
// inverted by swapForDescend, so a higher rank sorts earlier: the
// in-memory seek sentinel ranks above both so a lookup key always
// sorts at or before the real entry it is searching for, then Delete,
// then Put.
func typeRank(op OpType) uint8 {
	switch op {
	case opSeekSentinel:
		return 2
	case OpDelete:
		return 1
	case OpPut:
		return 0
	default:
		return 0
	}
}

// InternalKey is user_key ‖ trailer, where trailer packs
// (seq_num << 8) | typeRank(op_type) as an 8-byte big-endian integer.
// Using typeRank (not the raw op-type byte) in the trailer keeps the
// comparator a single unsigned integer comparison while still
// expressing the Delete-shadows-Put tie-break.
type InternalKey []byte

// Build constructs an InternalKey for (userKey, seq, op).
func Build(userKey []byte, seq SequenceNumber, op OpType) InternalKey {
	buf := make([]byte, 0, len(userKey)+8)
	buf = append(buf, userKey...)
	trailer := (uint64(seq) << 8) | uint64(typeRank(op))
	buf = binary.BigEndian.AppendUint64(buf, swapForDescend(trailer))
	return buf
}

// SeekKey constructs a lookup key for the newest version of userKey:
// maximum sequence number, sentinel op-type, so comparing it against
// real InternalKeys for the same user key always lands at-or-before
// the highest real sequence number.
func SeekKey(userKey []byte) InternalKey {
	return Build(userKey, MaxSequenceNumber, opSeekSentinel)
}

// SeekKeyAt constructs a lookup key for the newest version of userKey
// visible at or before snapshotSeq: sentinel op-type at snapshotSeq,
// so it sorts at-or-before any real entry for userKey at that exact
// sequence number while still excluding entries with a higher one.
func SeekKeyAt(userKey []byte, snapshotSeq SequenceNumber) InternalKey {
	return Build(userKey, snapshotSeq, opSeekSentinel)
}

// swapForDescend flips the trailer's sort contribution so that a
// plain ascending byte-compare over the encoded trailer yields a
// descending sequence-number ordering (newer first), matching
// spec.md §3 rule 2 ("seq_num descending"). Flipping via XOR against
// the all-ones mask is cheaper than reversing bytes and is reversed
// identically on decode.
func swapForDescend(trailer uint64) uint64 {
	return ^trailer
}

// UserKey returns the user-key portion of an InternalKey.
func (k InternalKey) UserKey() []byte {
	if len(k) < 8 {
		return k
	}
	return k[:len(k)-8]
}

// decodedTrailer returns the original (unflipped) packed trailer.
func (k InternalKey) decodedTrailer() uint64 {
	if len(k) < 8 {
		return 0
	}
	return ^binary.BigEndian.Uint64(k[len(k)-8:])
}

// Sequence returns the sequence number encoded in the key.
func (k InternalKey) Sequence() SequenceNumber {
	return SequenceNumber(k.decodedTrailer() >> 8)
}

// IsDelete reports whether the key's op-type rank is exactly that of
// a Delete. A Put or a seek sentinel reports false.
func (k InternalKey) IsDelete() bool {
	return uint8(k.decodedTrailer()&0xFF) == 1
}

// Compare orders InternalKeys per spec.md §3: user_key ascending,
// then the packed trailer ascending (which — because the trailer was
// encoded with swapForDescend — yields seq_num descending with
// Delete-before-Put on exact ties).
func Compare(a, b InternalKey) int {
	ua, ub := a.UserKey(), b.UserKey()
	if c := bytes.Compare(ua, ub); c != 0 {
		return c
	}
	ta, tb := trailerBytes(a), trailerBytes(b)
	return bytes.Compare(ta, tb)
}

func trailerBytes(k InternalKey) []byte {
	if len(k) < 8 {
		return nil
	}
	return k[len(k)-8:]
}

// String renders a debug form, mainly for test failure messages.
func (k InternalKey) String() string {
	return fmt.Sprintf("%q@%d", k.UserKey(), k.Sequence())
}
