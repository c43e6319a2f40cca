package block

import (
	"encoding/binary"
	"errors"

	"github.com/xxxuuu/lasagnedb/internal/checksum"
	"github.com/xxxuuu/lasagnedb/internal/compression"
	"github.com/xxxuuu/lasagnedb/internal/dbformat"
)

// ErrBlockFull is returned by Add when appending the entry would grow
// the block past TargetSize and the block already holds at least one
// entry (the first entry is always accepted regardless of size).
var ErrBlockFull = errors.New("block: would exceed target size")

// Builder accumulates entries in ascending InternalKey order and
// produces the on-disk block bytes described in spec.md §3.
type Builder struct {
	entries    [][]byte // already-encoded Entry records
	offsets    []uint16
	size       int // running size of the entry region
	compressor compression.Type
}

// NewBuilder returns an empty Builder that compresses its output with
// the given codec (compression.None for the spec.md default layout).
func NewBuilder(compressor compression.Type) *Builder {
	return &Builder{compressor: compressor}
}

// Empty reports whether any entry has been added.
func (b *Builder) Empty() bool { return len(b.entries) == 0 }

// EstimatedSize returns the entry region size if Finish were called
// now (excluding the trailer), used by callers deciding whether Add
// would overflow TargetSize.
func (b *Builder) EstimatedSize() int { return b.size }

// Add appends an entry. It refuses entries that would push the
// uncompressed entry region past TargetSize unless the block is still
// empty, per spec.md §4.1 ("reject an Entry that would make size() >
// 4 KiB unless empty").
func (b *Builder) Add(e dbformat.Entry) error {
	n := e.EncodedLen()
	if !b.Empty() && b.size+n > TargetSize {
		return ErrBlockFull
	}
	if len(b.entries) >= 1<<16 {
		return ErrBlockFull
	}
	buf := e.AppendTo(make([]byte, 0, n))
	b.offsets = append(b.offsets, uint16(b.size))
	b.entries = append(b.entries, buf)
	b.size += n
	return nil
}

// Finish serializes the accumulated entries into a complete block:
// the (optionally compressed) entry region, the offset table, the
// CRC32 over the entry region, and the entry count.
func (b *Builder) Finish() ([]byte, error) {
	region := make([]byte, 0, b.size)
	for _, e := range b.entries {
		region = append(region, e...)
	}
	compressed, err := compression.Compress(b.compressor, region)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(compressed)+len(b.offsets)*2+4+2+1)
	out = append(out, byte(b.compressor))
	out = append(out, compressed...)
	regionEnd := len(out)
	for _, off := range b.offsets {
		out = binary.LittleEndian.AppendUint16(out, off)
	}
	crc := checksum.Value(out[:regionEnd])
	out = binary.LittleEndian.AppendUint32(out, crc)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(b.entries)))
	return out, nil
}

// Reset clears the builder so it can be reused for the next block.
func (b *Builder) Reset() {
	b.entries = b.entries[:0]
	b.offsets = b.offsets[:0]
	b.size = 0
}
