package lasagnedb

import (
	"sync"

	"github.com/xxxuuu/lasagnedb/internal/sst"
)

// tableRegistry maps an open *sst.Table to the cache key id it was
// registered under, implementing cache.TableIDs so the block cache can
// be shared across every SST/vSST the DB has opened.
type tableRegistry struct {
	mu  sync.Mutex
	ids map[*sst.Table]uint64
}

func newTableRegistry() *tableRegistry {
	return &tableRegistry{ids: make(map[*sst.Table]uint64)}
}

func (r *tableRegistry) register(t *sst.Table, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[t] = id
}

// IDFor implements cache.TableIDs.
func (r *tableRegistry) IDFor(t *sst.Table) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ids[t]
}
