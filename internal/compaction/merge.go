package compaction

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/xxxuuu/lasagnedb/internal/compression"
	"github.com/xxxuuu/lasagnedb/internal/dbformat"
	"github.com/xxxuuu/lasagnedb/internal/iterator"
	"github.com/xxxuuu/lasagnedb/internal/sst"
)

// Options tunes a compaction run; fields mirror spec.md §6's
// MAX_SST_SIZE and MAX_VSST_SPARE_RATIO tunables.
type Options struct {
	MaxFileSize       uint64
	MaxVSstSpareRatio float64
	Compressor        compression.Type
	FilterBitsPerKey  int
}

// IDAllocator hands out ids for newly built SSTs and vSSTs.
type IDAllocator interface {
	NextSstID() uint64
	NextVSstID() uint64
}

// Paths names the on-disk file for a newly allocated SST/vSST id.
type Paths interface {
	SstPath(id uint64) string
	VSstPath(id uint64) string
}

// VSstOpener opens (or returns an already-open) vSST by id, used to
// read a kv_separate entry's original value when rewriting it into a
// denser vSST.
type VSstOpener func(id uint64) (*sst.Table, error)

// Result is the set of changes a Run produces, applied atomically at
// install time under the DB's exclusive lock (spec.md §4.8 "Install").
type Result struct {
	OutputLevel int
	NewSSTs     []*Handle
	NewVSsts    []*VHandle
	// RefCountDeltas maps vsst_id to the net change in live references
	// observed during this compaction; callers add this to the prior
	// VSstRefCnt and, for any id reaching <= 0, emit DelVSst and unlink
	// the file.
	RefCountDeltas map[uint64]int64
	RetiredSstIDs  map[int][]uint64 // level -> ids consumed by this compaction
}

// Run performs the merge-iteration described by spec.md §4.8: k-way
// merge over selL/selL1 with shadow-drop, vSST hole-ratio rewriting,
// and output rolled across files at MaxFileSize. On any error, any
// partially written output files are unlinked and the error is
// returned; no Result is produced, matching spec.md §4.8's failure
// semantics (no manifest record for a failed compaction).
func Run(
	selL, selL1 []*Handle,
	outputLevel int,
	refCounts map[uint64]int64,
	openVSst VSstOpener,
	ids IDAllocator,
	paths Paths,
	opts Options,
) (*Result, error) {
	sources := make([]iterator.Source, 0, len(selL)+len(selL1))
	for _, h := range selL {
		it := sst.NewIterator(h.Table, sst.DirectBlockSource)
		sources = append(sources, iterator.Source{It: iterator.FromRawTable(it), Priority: h.Level})
	}
	for _, h := range selL1 {
		it := sst.NewIterator(h.Table, sst.DirectBlockSource)
		sources = append(sources, iterator.Source{It: iterator.FromRawTable(it), Priority: h.Level})
	}
	merged := iterator.NewMergingIterator(sources)
	merged.SeekToFirst()

	m := &merger{
		opts:           opts,
		ids:            ids,
		paths:          paths,
		openVSst:       openVSst,
		baseRefCounts:  refCounts,
		deltas:         make(map[uint64]int64),
		totalPairs:     make(map[uint64]int),
		outputLevel:    outputLevel,
	}
	defer m.abortPending()

	for merged.Valid() {
		if err := merged.Error(); err != nil {
			return nil, err
		}
		key := append(dbformat.InternalKey(nil), merged.Key()...)
		meta := merged.Meta()
		value := append([]byte(nil), merged.Value()...)
		userKey := key.UserKey()

		merged.Next()
		for merged.Valid() && bytes.Equal(merged.Key().UserKey(), userKey) {
			m.dropShadowed(merged.Meta(), merged.Value())
			merged.Next()
		}
		if err := merged.Error(); err != nil {
			return nil, err
		}

		if _, sep := dbformat.SplitMeta(meta); sep {
			rewritten, err := m.maybeRewrite(userKey, value)
			if err != nil {
				return nil, err
			}
			value = rewritten
		}

		if err := m.writeEntry(dbformat.Entry{Meta: meta, Key: key, Value: value}); err != nil {
			return nil, err
		}
	}
	if err := merged.Error(); err != nil {
		return nil, err
	}

	result, err := m.finish()
	if err != nil {
		return nil, err
	}
	result.RetiredSstIDs = map[int][]uint64{}
	for _, h := range selL {
		result.RetiredSstIDs[h.Level] = append(result.RetiredSstIDs[h.Level], h.ID)
	}
	for _, h := range selL1 {
		result.RetiredSstIDs[h.Level] = append(result.RetiredSstIDs[h.Level], h.ID)
	}
	m.committed = true
	return result, nil
}

type merger struct {
	opts        Options
	ids         IDAllocator
	paths       Paths
	openVSst    VSstOpener
	outputLevel int

	baseRefCounts map[uint64]int64
	deltas        map[uint64]int64
	totalPairs    map[uint64]int

	curSST    *sst.Writer
	curSSTID  uint64
	doneSSTs  []*Handle

	curVSst   *sst.Writer
	curVSstID uint64
	doneVSsts []*VHandle

	allPaths  []string // every file this run has created, for cleanup on failure
	committed bool
}

func (m *merger) liveRefs(vsstID uint64) int64 { return m.baseRefCounts[vsstID] + m.deltas[vsstID] }

func (m *merger) totalEntries(vsstID uint64) (int, error) {
	if n, ok := m.totalPairs[vsstID]; ok {
		return n, nil
	}
	t, err := m.openVSst(vsstID)
	if err != nil {
		return 0, err
	}
	n, err := t.TotalEntries()
	if err != nil {
		return 0, err
	}
	m.totalPairs[vsstID] = n
	return n, nil
}

func (m *merger) dropShadowed(meta uint8, value []byte) {
	if _, sep := dbformat.SplitMeta(meta); sep && len(value) >= 4 {
		vid := decodeVSstID(value)
		m.deltas[vid]--
	}
}

// maybeRewrite consults the hole ratio for value's vSST id and either
// returns value unchanged or rewrites the reference into the
// in-progress new vSST, per spec.md §4.8's merge-iteration step.
func (m *merger) maybeRewrite(userKey, value []byte) ([]byte, error) {
	if len(value) < 4 {
		return value, fmt.Errorf("compaction: kv_separate entry has a short value")
	}
	vid := decodeVSstID(value)
	total, err := m.totalEntries(vid)
	if err != nil || total == 0 {
		return value, err
	}
	ratio := float64(m.liveRefs(vid)) / float64(total)
	if ratio <= m.opts.MaxVSstSpareRatio {
		return value, nil
	}

	oldVSst, err := m.openVSst(vid)
	if err != nil {
		return nil, err
	}
	vit := sst.NewIterator(oldVSst, sst.DirectBlockSource)
	vit.Seek(userKey)
	if !vit.Valid() || !bytes.Equal(vit.Key(), userKey) {
		if vit.Error() != nil {
			return nil, vit.Error()
		}
		return nil, fmt.Errorf("%w: vsst %d has no entry for key during rewrite", sst.ErrMissingVSst, vid)
	}
	origValue := append([]byte(nil), vit.Entry().Value...)

	if err := m.ensureVSstWriter(); err != nil {
		return nil, err
	}
	if err := m.curVSst.Add(dbformat.Entry{Meta: dbformat.MetaByte(dbformat.OpPut, false), Key: userKey, Value: origValue}); err != nil {
		return nil, err
	}
	m.deltas[vid]--
	m.deltas[m.curVSstID]++

	newRef := make([]byte, 4)
	binary.LittleEndian.PutUint32(newRef, uint32(m.curVSstID))
	if m.curVSst.ApproxSize() >= m.opts.MaxFileSize {
		if err := m.rollVSst(); err != nil {
			return nil, err
		}
	}
	return newRef, nil
}

func (m *merger) ensureVSstWriter() error {
	if m.curVSst != nil {
		return nil
	}
	m.curVSstID = m.ids.NextVSstID()
	path := m.paths.VSstPath(m.curVSstID)
	w, err := sst.NewWriter(path, sst.PlainKeyOrder, m.opts.Compressor, 0)
	if err != nil {
		return err
	}
	m.curVSst = w
	m.allPaths = append(m.allPaths, path)
	return nil
}

func (m *merger) rollVSst() error {
	if m.curVSst == nil || m.curVSst.Empty() {
		return nil
	}
	path := m.paths.VSstPath(m.curVSstID)
	if err := m.curVSst.Finish(); err != nil {
		return err
	}
	t, err := sst.Open(path, sst.PlainKeyOrder)
	if err != nil {
		return err
	}
	m.doneVSsts = append(m.doneVSsts, &VHandle{ID: m.curVSstID, Table: t})
	m.curVSst = nil
	return nil
}

func (m *merger) writeEntry(e dbformat.Entry) error {
	if err := m.ensureSSTWriter(); err != nil {
		return err
	}
	if err := m.curSST.Add(e); err != nil {
		return err
	}
	if m.curSST.ApproxSize() >= m.opts.MaxFileSize {
		return m.rollSST()
	}
	return nil
}

func (m *merger) ensureSSTWriter() error {
	if m.curSST != nil {
		return nil
	}
	m.curSSTID = m.ids.NextSstID()
	path := m.paths.SstPath(m.curSSTID)
	w, err := sst.NewWriter(path, sst.InternalKeyOrder, m.opts.Compressor, m.opts.FilterBitsPerKey)
	if err != nil {
		return err
	}
	m.curSST = w
	m.allPaths = append(m.allPaths, path)
	return nil
}

func (m *merger) rollSST() error {
	if m.curSST == nil || m.curSST.Empty() {
		return nil
	}
	path := m.paths.SstPath(m.curSSTID)
	if err := m.curSST.Finish(); err != nil {
		return err
	}
	t, err := sst.Open(path, sst.InternalKeyOrder)
	if err != nil {
		return err
	}
	m.doneSSTs = append(m.doneSSTs, &Handle{ID: m.curSSTID, Level: m.outputLevel, Table: t})
	m.curSST = nil
	return nil
}

func (m *merger) finish() (*Result, error) {
	if err := m.rollSST(); err != nil {
		return nil, err
	}
	if err := m.rollVSst(); err != nil {
		return nil, err
	}
	return &Result{
		OutputLevel:    m.outputLevel,
		NewSSTs:        m.doneSSTs,
		NewVSsts:       m.doneVSsts,
		RefCountDeltas: m.deltas,
	}, nil
}

// abortPending unlinks any output file that was opened but never
// committed (i.e. Run returned an error), per spec.md §4.8's failure
// semantics: "unlinks partial output files and aborts the
// compaction; no manifest record ... has been written".
func (m *merger) abortPending() {
	if m.committed {
		return
	}
	if m.curSST != nil {
		_ = m.curSST.Abort(m.paths.SstPath(m.curSSTID))
	}
	if m.curVSst != nil {
		_ = m.curVSst.Abort(m.paths.VSstPath(m.curVSstID))
	}
	for _, p := range m.allPaths {
		_ = os.Remove(p)
	}
}

func decodeVSstID(value []byte) uint64 {
	return uint64(binary.LittleEndian.Uint32(value[:4]))
}
