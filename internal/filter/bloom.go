// Package filter implements the cache-line-local Bloom filter stored
// in each SST's filter block.
//
// Reference: internal/filter/bloom.go in the teacher repo, which
// ports RocksDB's FastLocalBloom (util/bloom_impl.h): all probes for
// a key land in a single 64-byte cache line, selected by one 32-bit
// half of the key's hash, with the other half driving the in-line
// probe sequence. This implementation reuses that layout and keeps a
// 4-byte metadata suffix (num_probes plus three reserved bytes) so a
// reader can size the filter without consulting the SST trailer, but
// drops the RocksDB-compatibility marker bytes the teacher carries
// for on-disk format parity with an external reader — this store's
// SST format isn't wire-compatible with RocksDB regardless, and
// spec.md never specifies the filter's byte layout precisely enough
// to require matching it.
package filter

import (
	"github.com/xxxuuu/lasagnedb/internal/checksum"
)

const (
	// CacheLineSize is the size of a CPU cache line in bytes.
	CacheLineSize = 64
	// CacheLineBits is the number of bits in a cache line.
	CacheLineBits = CacheLineSize * 8
	// metadataLen is the number of trailing metadata bytes.
	metadataLen = 4
)

// DefaultBitsPerKey targets roughly a 1% false-positive rate.
const DefaultBitsPerKey = 10

// Builder accumulates key hashes and produces filter bytes.
type Builder struct {
	bitsPerKey int
	hashes     []uint64
}

// NewBuilder returns a Builder targeting bitsPerKey bits of filter
// space per key added.
func NewBuilder(bitsPerKey int) *Builder {
	if bitsPerKey < 1 {
		bitsPerKey = 1
	}
	return &Builder{bitsPerKey: bitsPerKey, hashes: make([]uint64, 0, 256)}
}

// Add records a key.
func (b *Builder) Add(key []byte) {
	b.hashes = append(b.hashes, checksum.Hash64(key))
}

// NumKeys returns the number of keys added so far.
func (b *Builder) NumKeys() int { return len(b.hashes) }

// Finish builds and returns the filter bytes, including the metadata
// suffix. An empty builder produces an always-false filter.
func (b *Builder) Finish() []byte {
	numEntries := len(b.hashes)
	if numEntries == 0 {
		return []byte{0, 0, 0, 0}
	}

	lenWithMetadata := calculateSpace(numEntries, b.bitsPerKey)
	filterLen := lenWithMetadata - metadataLen
	data := make([]byte, lenWithMetadata)

	numProbes := chooseNumProbes(b.bitsPerKey * 1000)
	for _, h := range b.hashes {
		addHash(h, uint32(filterLen), numProbes, data)
	}

	data[filterLen+0] = byte(numProbes)
	data[filterLen+1] = 0
	data[filterLen+2] = 0
	data[filterLen+3] = 0
	return data
}

// Reset clears the builder for reuse.
func (b *Builder) Reset() { b.hashes = b.hashes[:0] }

// Reader answers membership queries against filter bytes produced by
// Builder.Finish.
type Reader struct {
	data      []byte
	filterLen uint32
	numProbes int
}

// NewReader wraps filter bytes for querying. It returns nil if data
// is too short to be a valid filter.
func NewReader(data []byte) *Reader {
	if len(data) < metadataLen {
		return nil
	}
	filterLen := len(data) - metadataLen
	numProbes := int(data[filterLen])
	if numProbes == 0 {
		return &Reader{data: data, filterLen: 0, numProbes: 0}
	}
	return &Reader{data: data, filterLen: uint32(filterLen), numProbes: numProbes}
}

// MayContain reports whether key might be present. A false result is
// a definitive negative.
func (r *Reader) MayContain(key []byte) bool {
	if r == nil || r.filterLen == 0 || r.numProbes == 0 {
		return false
	}
	h := checksum.Hash64(key)
	return hashMayMatch(h, r.filterLen, r.numProbes, r.data)
}

func calculateSpace(numEntries, bitsPerKey int) int {
	totalBits := numEntries * bitsPerKey
	numCacheLines := (totalBits + CacheLineBits - 1) / CacheLineBits
	if numCacheLines == 0 {
		numCacheLines = 1
	}
	return numCacheLines*CacheLineSize + metadataLen
}

// chooseNumProbes picks a probe count for a given bits-per-key budget
// (expressed in millibits to avoid floating point), following the
// same table RocksDB's FastLocalBloomImpl::ChooseNumProbes uses.
func chooseNumProbes(millibitsPerKey int) int {
	switch {
	case millibitsPerKey <= 2080:
		return 1
	case millibitsPerKey <= 3580:
		return 2
	case millibitsPerKey <= 5100:
		return 3
	case millibitsPerKey <= 6640:
		return 4
	case millibitsPerKey <= 8300:
		return 5
	case millibitsPerKey <= 10070:
		return 6
	case millibitsPerKey <= 11720:
		return 7
	case millibitsPerKey <= 14001:
		return 8
	case millibitsPerKey <= 16050:
		return 9
	case millibitsPerKey <= 18300:
		return 10
	case millibitsPerKey <= 22001:
		return 11
	case millibitsPerKey <= 25501:
		return 12
	case millibitsPerKey > 50000:
		return 24
	default:
		return (millibitsPerKey-1)/2000 - 1
	}
}

func fastRange32(h, n uint32) uint32 {
	return uint32((uint64(h) * uint64(n)) >> 32)
}

func addHash(hash uint64, lenBytes uint32, numProbes int, data []byte) {
	h1 := uint32(hash)
	h2 := uint32(hash >> 32)
	numCacheLines := lenBytes >> 6
	cacheLineOffset := fastRange32(h1, numCacheLines) << 6
	addHashPrepared(h2, numProbes, data[cacheLineOffset:cacheLineOffset+CacheLineSize])
}

func addHashPrepared(h2 uint32, numProbes int, cacheLine []byte) {
	h := h2
	for range numProbes {
		bitpos := h >> (32 - 9)
		cacheLine[bitpos>>3] |= 1 << (bitpos & 7)
		h *= 0x9e3779b9
	}
}

func hashMayMatch(hash uint64, lenBytes uint32, numProbes int, data []byte) bool {
	h1 := uint32(hash)
	h2 := uint32(hash >> 32)
	numCacheLines := lenBytes >> 6
	cacheLineOffset := fastRange32(h1, numCacheLines) << 6
	return hashMayMatchPrepared(h2, numProbes, data[cacheLineOffset:cacheLineOffset+CacheLineSize])
}

func hashMayMatchPrepared(h2 uint32, numProbes int, cacheLine []byte) bool {
	h := h2
	for range numProbes {
		bitpos := h >> (32 - 9)
		if (cacheLine[bitpos>>3] & (1 << (bitpos & 7))) == 0 {
			return false
		}
		h *= 0x9e3779b9
	}
	return true
}
