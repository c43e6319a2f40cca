// Package compaction implements leveled compaction: overlap
// selection, shadow-drop merge-iteration with vSST refcount
// accounting, and install-time bookkeeping, per spec.md §4.8.
//
// Reference: structured after the teacher's internal/compaction
// package shape (a Compaction struct describing input files per
// level plus an output level, a separate picker choosing inputs) but
// new, teacher idiom throughout: the teacher's Compaction/picker pair
// is RocksDB's leveled+universal+FIFO picker trio operating on
// version-edit FileMetaData with compensated sizes, compaction
// scores, and subcompaction splitting — none of which spec.md's
// single fixed leveled policy (one L0 limit, one per-level size cap,
// one hole-ratio threshold) calls for.
package compaction

import (
	"github.com/xxxuuu/lasagnedb/internal/dbformat"
	"github.com/xxxuuu/lasagnedb/internal/sst"
)

// Handle is one live SST participating in compaction: its catalog id,
// level, opened reader, and the sequence-number span of the entries
// it holds (used by the L0 picker).
type Handle struct {
	ID      uint64
	Level   int
	Table   *sst.Table // InternalKeyOrder
	MinSeq  dbformat.SequenceNumber
	MaxSeq  dbformat.SequenceNumber
}

// VHandle is one live vSST: its catalog id and opened reader.
type VHandle struct {
	ID    uint64
	Table *sst.Table // PlainKeyOrder
}

// PickL0Base chooses the base SST for an L0→L1 compaction: the one
// with the smallest sequence-number range (MaxSeq - MinSeq),
// tie-broken by the smallest MinSeq. The chosen table is not
// necessarily the oldest one. This is the binding
// decision from SPEC_FULL.md §10.4, replacing spec.md §9's
// documented "TODO: picks the first SST" placeholder.
func PickL0Base(l0 []*Handle) *Handle {
	if len(l0) == 0 {
		return nil
	}
	best := l0[0]
	bestSpan := span(best)
	for _, h := range l0[1:] {
		s := span(h)
		if s < bestSpan || (s == bestSpan && h.MinSeq < best.MinSeq) {
			best, bestSpan = h, s
		}
	}
	return best
}

func span(h *Handle) uint64 {
	if h.MaxSeq < h.MinSeq {
		return 0
	}
	return uint64(h.MaxSeq - h.MinSeq)
}

// SelectOverlap computes the input set for a compaction rooted at
// base (itself a member of levelL): every table at L whose range
// transitively overlaps base's, widened to a fixpoint, plus every
// table at L+1 whose range overlaps the final widened range, per
// spec.md §4.8's four-step procedure and the binding decision from
// SPEC_FULL.md §10.2 (iterate to a fixpoint rather than one extra
// pass, since pathological inputs can need more than one rescan).
func SelectOverlap(levelL, levelL1 []*Handle, base *Handle) (selL, selL1 []*Handle) {
	selected := map[uint64]bool{base.ID: true}
	lo, hi := base.Table.FirstKey(), base.Table.LastKey()

	for {
		grew := false
		for _, h := range levelL {
			if selected[h.ID] {
				continue
			}
			if h.Table.KeyRangeOverlaps(lo, hi) {
				selected[h.ID] = true
				lo, hi = widen(lo, hi, h.Table.FirstKey(), h.Table.LastKey())
				grew = true
			}
		}
		if !grew {
			break
		}
	}

	for _, h := range levelL {
		if selected[h.ID] {
			selL = append(selL, h)
		}
	}
	for _, h := range levelL1 {
		if h.Table.KeyRangeOverlaps(lo, hi) {
			selL1 = append(selL1, h)
		}
	}
	return selL, selL1
}

func widen(lo, hi, candLo, candHi []byte) ([]byte, []byte) {
	if dbformat.Compare(dbformat.InternalKey(candLo), dbformat.InternalKey(lo)) < 0 {
		lo = candLo
	}
	if dbformat.Compare(dbformat.InternalKey(candHi), dbformat.InternalKey(hi)) > 0 {
		hi = candHi
	}
	return lo, hi
}
