package manifest

// Catalog is the accumulated state produced by replaying a manifest's
// Items in order: which SSTs live at which level, which vSSTs exist
// and their reference counts, the highest observed ids, and any
// journal files still pending deletion (spec.md §4.7 step 2).
type Catalog struct {
	Version uint64

	// Levels[i] is the set of sst_ids live at level i.
	Levels []map[uint64]bool

	// VSsts is the set of live vsst_ids.
	VSsts map[uint64]bool

	// VSstRefCounts is the last-write-wins refcount per vsst_id.
	VSstRefCounts map[uint64]int64

	MaxSstID uint64
	MaxVSstID uint64
	ActiveLogID uint64
	MaxSeqNum   uint64

	// PendingFrozenWals are log ids scheduled for deletion by a
	// FreezeAndCreateWal that have not yet seen a matching
	// DelFrozenWal.
	PendingFrozenWals map[uint64]bool
}

// NewCatalog returns an empty Catalog with numLevels levels.
func NewCatalog(numLevels int) *Catalog {
	levels := make([]map[uint64]bool, numLevels)
	for i := range levels {
		levels[i] = make(map[uint64]bool)
	}
	return &Catalog{
		Levels:            levels,
		VSsts:             make(map[uint64]bool),
		VSstRefCounts:     make(map[uint64]int64),
		PendingFrozenWals: make(map[uint64]bool),
	}
}

// Apply folds one Item into the catalog, per spec.md §4.7 step 2.
func (c *Catalog) Apply(it Item) {
	switch it.Tag {
	case TagInit:
		c.Version = it.Version
	case TagNewSst:
		c.ensureLevel(it.Level)
		c.Levels[it.Level][it.SstID] = true
		if it.SstID > c.MaxSstID {
			c.MaxSstID = it.SstID
		}
	case TagDelSst:
		c.ensureLevel(it.Level)
		delete(c.Levels[it.Level], it.SstID)
	case TagNewVSst:
		c.VSsts[it.VSstID] = true
		if it.VSstID > c.MaxVSstID {
			c.MaxVSstID = it.VSstID
		}
	case TagDelVSst:
		delete(c.VSsts, it.VSstID)
		delete(c.VSstRefCounts, it.VSstID)
	case TagVSstRefCnt:
		c.VSstRefCounts[it.VSstID] = it.RefCount
	case TagMaxSeqNum:
		if it.SeqNum > c.MaxSeqNum {
			c.MaxSeqNum = it.SeqNum
		}
	case TagFreezeAndCreateWal:
		if it.OldLogID != 0 || c.ActiveLogID != 0 {
			c.PendingFrozenWals[it.OldLogID] = true
		}
		c.ActiveLogID = it.NewLogID
	case TagDelFrozenWal:
		delete(c.PendingFrozenWals, it.LogID)
	}
}

func (c *Catalog) ensureLevel(level uint32) {
	for uint32(len(c.Levels)) <= level {
		c.Levels = append(c.Levels, make(map[uint64]bool))
	}
}

// BuildCatalog replays items in order into a fresh Catalog.
func BuildCatalog(items []Item, numLevels int) *Catalog {
	c := NewCatalog(numLevels)
	for _, it := range items {
		c.Apply(it)
	}
	return c
}
