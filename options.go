package lasagnedb

import (
	"fmt"

	"github.com/xxxuuu/lasagnedb/internal/compression"
	"github.com/xxxuuu/lasagnedb/internal/logging"
)

// Default tunables, per spec.md §6.
const (
	DefaultMemtableSizeLimit = 4 * 1024 * 1024
	DefaultBlockCacheSize    = 8 * 1024 * 1024
	DefaultMinVSstSize       = 4 * 1024
	DefaultSstLevelLimit     = 6
	DefaultMaxSstSize        = 4 * 1024 * 1024
	DefaultL0SstNumLimit     = 4
	DefaultMaxVSstSpareRatio = 0.5
	DefaultFilterBitsPerKey  = 10
)

// DefaultMaxLevelSize is the per-level soft size budget, spec.md §3/§6.
var DefaultMaxLevelSize = []uint64{
	4 << 20, 10 << 20, 100 << 20, 1 << 30, 10 << 30, 100 << 30,
}

// Options configures an Open call. The zero value is not usable;
// start from DefaultOptions and override individual fields.
type Options struct {
	// MemtableSizeLimit is the approximate byte size at which a
	// memtable is frozen and queued for flush.
	MemtableSizeLimit uint64
	// BlockCacheSize is the shared block cache's capacity. The cache
	// charges each block its entry count plus one, so this bounds the
	// cached entries, not the cached bytes.
	BlockCacheSize uint64
	// MinVSstSize is the value length above which a Put's value is
	// written to a vSST instead of inline in the SST, at flush time.
	MinVSstSize uint64
	// SstLevelLimit is the number of levels (spec.md default 6).
	SstLevelLimit int
	// MaxSstSize is the on-disk size at which a flush or compaction
	// output rolls to a new file.
	MaxSstSize uint64
	// MaxLevelSize holds one soft size budget per level; must have
	// exactly SstLevelLimit entries.
	MaxLevelSize []uint64
	// L0SstNumLimit is the number of L0 SSTs that triggers a
	// level-0 compaction.
	L0SstNumLimit int
	// MaxVSstSpareRatio is the live_refs/total_pairs threshold above
	// which a compaction rewrites a kv_separate value into a denser
	// vSST rather than copying the reference through.
	MaxVSstSpareRatio float64
	// FilterBitsPerKey sizes each SST's Bloom filter; 0 disables it.
	FilterBitsPerKey int
	// Compression selects the block codec new SSTs/vSSTs are written
	// with (see SPEC_FULL.md §4.D). Existing blocks carry their own
	// type prefix and are always read correctly regardless of this
	// setting.
	Compression compression.Type
	// Logger receives structured log lines from recovery and the
	// background workers. Defaults to a WARN-level stderr logger.
	Logger logging.Logger
	// CreateIfMissing creates the database directory (and a fresh,
	// empty catalog) when it does not already exist.
	CreateIfMissing bool
}

// DefaultOptions returns the spec.md §6 defaults.
func DefaultOptions() Options {
	return Options{
		MemtableSizeLimit: DefaultMemtableSizeLimit,
		BlockCacheSize:    DefaultBlockCacheSize,
		MinVSstSize:       DefaultMinVSstSize,
		SstLevelLimit:     DefaultSstLevelLimit,
		MaxSstSize:        DefaultMaxSstSize,
		MaxLevelSize:      append([]uint64(nil), DefaultMaxLevelSize...),
		L0SstNumLimit:     DefaultL0SstNumLimit,
		MaxVSstSpareRatio: DefaultMaxVSstSpareRatio,
		FilterBitsPerKey:  DefaultFilterBitsPerKey,
		Compression:       compression.None,
		Logger:            logging.NewDefaultLogger(logging.LevelWarn),
		CreateIfMissing:   true,
	}
}

// Validate rejects nonsensical tunable combinations before Open does
// any I/O.
func (o *Options) Validate() error {
	if o.MemtableSizeLimit == 0 {
		return logicErr("Options.Validate", fmt.Errorf("MemtableSizeLimit must be > 0"))
	}
	if o.MaxSstSize == 0 {
		return logicErr("Options.Validate", fmt.Errorf("MaxSstSize must be > 0"))
	}
	if o.MinVSstSize == 0 {
		return logicErr("Options.Validate", fmt.Errorf("MinVSstSize must be > 0"))
	}
	if o.SstLevelLimit <= 0 {
		return logicErr("Options.Validate", fmt.Errorf("SstLevelLimit must be > 0"))
	}
	if len(o.MaxLevelSize) != o.SstLevelLimit {
		return logicErr("Options.Validate", fmt.Errorf("MaxLevelSize must have %d entries, has %d", o.SstLevelLimit, len(o.MaxLevelSize)))
	}
	if o.L0SstNumLimit <= 0 {
		return logicErr("Options.Validate", fmt.Errorf("L0SstNumLimit must be > 0"))
	}
	if o.MaxVSstSpareRatio <= 0 || o.MaxVSstSpareRatio > 1 {
		return logicErr("Options.Validate", fmt.Errorf("MaxVSstSpareRatio must be in (0,1]"))
	}
	if o.FilterBitsPerKey < 0 {
		return logicErr("Options.Validate", fmt.Errorf("FilterBitsPerKey must be >= 0"))
	}
	return nil
}
