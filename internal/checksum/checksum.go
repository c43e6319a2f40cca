// Package checksum provides the CRC32 and XXH3 primitives used to
// detect corruption in blocks, journal records, and manifest records,
// and to hash keys for the bloom filter.
//
// Reference: the CRC32C masking scheme follows RocksDB's
// util/crc32c.h convention of never storing a raw CRC next to the
// data it covers (a masked CRC that happens to collide with the
// payload bytes would otherwise be mis-detected as corruption-free).
package checksum

import (
	"hash/crc32"

	"github.com/zeebo/xxh3"
)

var table = crc32.MakeTable(crc32.Castagnoli)

// maskDelta is added (after a bit rotation) when masking a CRC so the
// stored value never collides with an unmasked CRC embedded in data.
const maskDelta = 0xa282ead8

// Value computes the CRC32C of data.
func Value(data []byte) uint32 {
	return crc32.Checksum(data, table)
}

// Mask returns the masked representation of crc for on-disk storage.
func Mask(crc uint32) uint32 {
	return ((crc >> 15) | (crc << 17)) + maskDelta
}

// Unmask recovers the original CRC from its masked representation.
func Unmask(maskedCRC uint32) uint32 {
	rot := maskedCRC - maskDelta
	return (rot >> 17) | (rot << 15)
}

// MaskedValue computes and masks the CRC32C of data in one call.
func MaskedValue(data []byte) uint32 {
	return Mask(Value(data))
}

// Hash64 returns the XXH3 64-bit hash of key, used to derive bloom
// filter probe positions.
func Hash64(key []byte) uint64 {
	return xxh3.Hash(key)
}
