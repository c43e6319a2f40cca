// Package encoding provides the binary primitives used to serialize
// entries, blocks, and manifest/journal records. All multi-byte
// integers are little-endian; variable-length fields use a
// length-prefixed slice convention rather than C-style varints, since
// every on-disk field in this format has a fixed-width length prefix.
package encoding

import (
	"encoding/binary"
	"errors"
)

// ErrBufferTooSmall is returned when a decode call runs past the end
// of the supplied buffer.
var ErrBufferTooSmall = errors.New("encoding: buffer too small")

// PutFixed8 writes a single byte.
func PutFixed8(dst []byte, v uint8) { dst[0] = v }

// PutFixed16 writes a little-endian uint16.
func PutFixed16(dst []byte, v uint16) { binary.LittleEndian.PutUint16(dst, v) }

// PutFixed32 writes a little-endian uint32.
func PutFixed32(dst []byte, v uint32) { binary.LittleEndian.PutUint32(dst, v) }

// PutFixed64 writes a little-endian uint64.
func PutFixed64(dst []byte, v uint64) { binary.LittleEndian.PutUint64(dst, v) }

// GetFixed16 reads a little-endian uint16.
func GetFixed16(src []byte) uint16 { return binary.LittleEndian.Uint16(src) }

// GetFixed32 reads a little-endian uint32.
func GetFixed32(src []byte) uint32 { return binary.LittleEndian.Uint32(src) }

// GetFixed64 reads a little-endian uint64.
func GetFixed64(src []byte) uint64 { return binary.LittleEndian.Uint64(src) }

// AppendFixed16 appends a little-endian uint16.
func AppendFixed16(dst []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(dst, v)
}

// AppendFixed32 appends a little-endian uint32.
func AppendFixed32(dst []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, v)
}

// AppendFixed64 appends a little-endian uint64.
func AppendFixed64(dst []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, v)
}

// AppendLengthPrefixedSlice appends a uint32-length-prefixed byte slice.
func AppendLengthPrefixedSlice(dst []byte, v []byte) []byte {
	dst = AppendFixed32(dst, uint32(len(v)))
	return append(dst, v...)
}

// GetLengthPrefixedSlice reads a uint32-length-prefixed byte slice from
// the front of src. It returns the slice (pointing into src), the
// number of bytes consumed, and an error if src is too short.
func GetLengthPrefixedSlice(src []byte) ([]byte, int, error) {
	if len(src) < 4 {
		return nil, 0, ErrBufferTooSmall
	}
	n := int(GetFixed32(src))
	if len(src) < 4+n {
		return nil, 0, ErrBufferTooSmall
	}
	return src[4 : 4+n], 4 + n, nil
}

// Slice is a cursor over a byte buffer used while decoding sequential
// fixed/length-prefixed fields.
type Slice struct {
	data []byte
	pos  int
}

// NewSlice wraps data for sequential decoding.
func NewSlice(data []byte) *Slice { return &Slice{data: data} }

// Remaining returns the number of unread bytes.
func (s *Slice) Remaining() int { return len(s.data) - s.pos }

// Bytes returns the unread portion of the buffer.
func (s *Slice) Bytes() []byte { return s.data[s.pos:] }

// GetUint8 reads one byte.
func (s *Slice) GetUint8() (uint8, error) {
	if s.Remaining() < 1 {
		return 0, ErrBufferTooSmall
	}
	v := s.data[s.pos]
	s.pos++
	return v, nil
}

// GetUint32 reads a little-endian uint32.
func (s *Slice) GetUint32() (uint32, error) {
	if s.Remaining() < 4 {
		return 0, ErrBufferTooSmall
	}
	v := GetFixed32(s.data[s.pos:])
	s.pos += 4
	return v, nil
}

// GetUint64 reads a little-endian uint64.
func (s *Slice) GetUint64() (uint64, error) {
	if s.Remaining() < 8 {
		return 0, ErrBufferTooSmall
	}
	v := GetFixed64(s.data[s.pos:])
	s.pos += 8
	return v, nil
}

// GetBytes reads exactly n raw bytes.
func (s *Slice) GetBytes(n int) ([]byte, error) {
	if s.Remaining() < n {
		return nil, ErrBufferTooSmall
	}
	v := s.data[s.pos : s.pos+n]
	s.pos += n
	return v, nil
}

// GetLengthPrefixed reads a uint32-length-prefixed slice.
func (s *Slice) GetLengthPrefixed() ([]byte, error) {
	v, n, err := GetLengthPrefixedSlice(s.data[s.pos:])
	if err != nil {
		return nil, err
	}
	s.pos += n
	return v, nil
}
