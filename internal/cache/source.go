package cache

import (
	"github.com/xxxuuu/lasagnedb/internal/block"
	"github.com/xxxuuu/lasagnedb/internal/sst"
)

// TableIDs abstracts whatever scheme the caller uses to turn an
// *sst.Table into the numeric id a cache.Key needs; the db façade
// supplies this from its sst_id/vsst_id bookkeeping.
type TableIDs interface {
	IDFor(t *sst.Table) uint64
}

// BlockSource returns an sst.BlockSource backed by c: a cache hit
// returns the resident block directly; a miss loads it through t's
// direct reader, coalescing concurrent misses for the same block.
func BlockSource(c *BlockCache, ids TableIDs) sst.BlockSource {
	return func(t *sst.Table, i int) (*block.Block, error) {
		key := Key{TableID: ids.IDFor(t), BlockIdx: i}
		return c.GetOrLoad(key, func() (*block.Block, error) {
			return sst.DirectBlockSource(t, i)
		})
	}
}
