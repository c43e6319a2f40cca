// Package compression provides the block compression codecs wired
// into internal/block's BlockBuilder. Each compressed block carries a
// single leading type byte so a reader can decompress it regardless
// of what Options the writer used.
//
// Reference: internal/compression/compression.go in the teacher repo,
// trimmed to the three codecs spec.md's domain stack actually needs
// (snappy, zstd, lz4) and dropping the teacher's zlib/bzip2/xpress
// entries, which exist there only for RocksDB wire compatibility.
package compression

import (
	"fmt"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type identifies the codec used to compress a block's entry region.
type Type uint8

const (
	// None stores the entry region uncompressed. This is the default
	// so the on-disk layout in spec.md §3 holds byte-for-byte when
	// compression is left off.
	None Type = 0
	// Snappy compresses with Google Snappy.
	Snappy Type = 1
	// Zstd compresses with Zstandard.
	Zstd Type = 2
	// LZ4 compresses with LZ4's raw block format.
	LZ4 Type = 3
)

func (t Type) String() string {
	switch t {
	case None:
		return "None"
	case Snappy:
		return "Snappy"
	case Zstd:
		return "Zstd"
	case LZ4:
		return "LZ4"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// Compress encodes data with t.
func Compress(t Type, data []byte) ([]byte, error) {
	switch t {
	case None:
		return data, nil
	case Snappy:
		return snappy.Encode(nil, data), nil
	case Zstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("compression: zstd encoder: %w", err)
		}
		out := enc.EncodeAll(data, nil)
		_ = enc.Close()
		return out, nil
	case LZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		var ht [1 << 16]int
		n, err := lz4.CompressBlock(data, dst, ht[:])
		if err != nil {
			return nil, fmt.Errorf("compression: lz4 compress: %w", err)
		}
		if n == 0 {
			// Incompressible input: fall back to storing it raw with
			// the None tag so the caller never has to special-case
			// this at decompress time.
			return data, nil
		}
		return dst[:n], nil
	default:
		return nil, fmt.Errorf("compression: unsupported type %s", t)
	}
}

// Decompress decodes data that was compressed with t. expectedSize,
// when known, avoids LZ4's retry-with-bigger-buffer decode path.
func Decompress(t Type, data []byte, expectedSize int) ([]byte, error) {
	switch t {
	case None:
		return data, nil
	case Snappy:
		return snappy.Decode(nil, data)
	case Zstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("compression: zstd decoder: %w", err)
		}
		defer dec.Close()
		return dec.DecodeAll(data, nil)
	case LZ4:
		return decompressLZ4(data, expectedSize)
	default:
		return nil, fmt.Errorf("compression: unsupported type %s", t)
	}
}

func decompressLZ4(data []byte, expectedSize int) ([]byte, error) {
	if expectedSize > 0 {
		dst := make([]byte, expectedSize)
		n, err := lz4.UncompressBlock(data, dst)
		if err != nil {
			return nil, fmt.Errorf("compression: lz4 uncompress: %w", err)
		}
		return dst[:n], nil
	}
	bufSize := max(len(data)*4, 256)
	for range 10 {
		dst := make([]byte, bufSize)
		n, err := lz4.UncompressBlock(data, dst)
		if err == nil {
			return dst[:n], nil
		}
		bufSize *= 2
	}
	return nil, fmt.Errorf("compression: lz4 uncompress: buffer too small after retries")
}
