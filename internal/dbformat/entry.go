package dbformat

import (
	"errors"

	"github.com/xxxuuu/lasagnedb/internal/encoding"
)

// ErrShortEntry is returned when a buffer ends before a full Entry
// could be decoded.
var ErrShortEntry = errors.New("dbformat: short entry")

// Entry is the logical key/value record written to the journal and
// SST data blocks: a meta byte, the user key, and the value (empty
// for a Delete). Size on disk is 1 + 8 + len(Key) + 8 + len(Value),
// matching spec.md §3.
type Entry struct {
	Meta  uint8
	Key   []byte
	Value []byte
}

// NewPutEntry builds a Put entry. kvSeparate should be set by the
// caller once it knows the value will be redirected to a vSST.
func NewPutEntry(key, value []byte, kvSeparate bool) Entry {
	return Entry{Meta: MetaByte(OpPut, kvSeparate), Key: key, Value: value}
}

// NewDeleteEntry builds a tombstone entry.
func NewDeleteEntry(key []byte) Entry {
	return Entry{Meta: MetaByte(OpDelete, false), Key: key, Value: nil}
}

// OpType returns the entry's op-type.
func (e Entry) OpType() OpType {
	op, _ := SplitMeta(e.Meta)
	return op
}

// KVSeparate reports whether Value is a 4-byte vSST id rather than a
// literal value.
func (e Entry) KVSeparate() bool {
	_, sep := SplitMeta(e.Meta)
	return sep
}

// EncodedLen returns the on-disk size of e.
func (e Entry) EncodedLen() int {
	return 1 + 8 + len(e.Key) + 8 + len(e.Value)
}

// AppendTo appends the encoded form of e to dst and returns the result.
func (e Entry) AppendTo(dst []byte) []byte {
	dst = append(dst, e.Meta)
	dst = encoding.AppendFixed64(dst, uint64(len(e.Key)))
	dst = append(dst, e.Key...)
	dst = encoding.AppendFixed64(dst, uint64(len(e.Value)))
	dst = append(dst, e.Value...)
	return dst
}

// DecodeEntry decodes a single Entry from the front of src. It
// returns the entry, the number of bytes consumed, and an error if
// src is truncated.
func DecodeEntry(src []byte) (Entry, int, error) {
	s := encoding.NewSlice(src)
	meta, err := s.GetUint8()
	if err != nil {
		return Entry{}, 0, ErrShortEntry
	}
	keyLen, err := s.GetUint64()
	if err != nil {
		return Entry{}, 0, ErrShortEntry
	}
	key, err := s.GetBytes(int(keyLen))
	if err != nil {
		return Entry{}, 0, ErrShortEntry
	}
	valLen, err := s.GetUint64()
	if err != nil {
		return Entry{}, 0, ErrShortEntry
	}
	val, err := s.GetBytes(int(valLen))
	if err != nil {
		return Entry{}, 0, ErrShortEntry
	}
	consumed := len(src) - s.Remaining()
	return Entry{Meta: meta, Key: key, Value: val}, consumed, nil
}
