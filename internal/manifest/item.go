// Package manifest implements the append-only catalog log described
// in spec.md §4.6: a sequence of Records (internal/recordio), each
// holding one or more tagged ManifestItems, describing the set of
// live SSTs, vSSTs, and their reference counts.
//
// Reference: structured after the teacher's internal/manifest
// package (tagged VersionEdit items replayed to reconstruct a
// Version), trimmed to spec.md's smaller, flatter item set — there is
// no VersionEdit/Version split here, since this store's manifest
// tracks raw per-level SST-id sets rather than RocksDB's richer
// per-file metadata (smallest/largest keys, compensated size, etc).
package manifest

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/xxxuuu/lasagnedb/internal/encoding"
)

// ErrShortItem is returned when a buffer ends before a full
// ManifestItem could be decoded.
var ErrShortItem = errors.New("manifest: short item")

// Tag identifies a ManifestItem variant.
type Tag uint8

const (
	TagInit               Tag = 1
	TagNewSst             Tag = 2
	TagDelSst             Tag = 3
	TagNewVSst            Tag = 4
	TagDelVSst            Tag = 5
	TagVSstRefCnt         Tag = 6
	TagMaxSeqNum          Tag = 7
	TagFreezeAndCreateWal Tag = 8
	TagDelFrozenWal       Tag = 9
)

// Item is one decoded ManifestItem. Only the fields relevant to its
// Tag are populated; zero otherwise.
type Item struct {
	Tag Tag

	Version  uint64 // Init
	Level    uint32 // NewSst, DelSst
	SstID    uint64 // NewSst, DelSst
	VSstID   uint64 // NewVSst, DelVSst, VSstRefCnt
	RefCount int64  // VSstRefCnt
	SeqNum   uint64 // MaxSeqNum
	OldLogID uint64 // FreezeAndCreateWal
	NewLogID uint64 // FreezeAndCreateWal
	LogID    uint64 // DelFrozenWal
}

func Init(version uint64) Item { return Item{Tag: TagInit, Version: version} }
func NewSst(level uint32, sstID uint64) Item {
	return Item{Tag: TagNewSst, Level: level, SstID: sstID}
}
func DelSst(level uint32, sstID uint64) Item {
	return Item{Tag: TagDelSst, Level: level, SstID: sstID}
}
func NewVSst(vsstID uint64) Item     { return Item{Tag: TagNewVSst, VSstID: vsstID} }
func DelVSst(vsstID uint64) Item     { return Item{Tag: TagDelVSst, VSstID: vsstID} }
func MaxSeqNum(seq uint64) Item      { return Item{Tag: TagMaxSeqNum, SeqNum: seq} }
func DelFrozenWal(logID uint64) Item { return Item{Tag: TagDelFrozenWal, LogID: logID} }

func VSstRefCnt(vsstID uint64, count int64) Item {
	return Item{Tag: TagVSstRefCnt, VSstID: vsstID, RefCount: count}
}

func FreezeAndCreateWal(oldLogID, newLogID uint64) Item {
	return Item{Tag: TagFreezeAndCreateWal, OldLogID: oldLogID, NewLogID: newLogID}
}

// AppendTo encodes item as `type:u8 ‖ len:u32 ‖ payload` and appends
// it to dst.
func (it Item) AppendTo(dst []byte) []byte {
	var payload []byte
	switch it.Tag {
	case TagInit:
		payload = encoding.AppendFixed64(payload, it.Version)
	case TagNewSst, TagDelSst:
		payload = encoding.AppendFixed32(payload, it.Level)
		payload = encoding.AppendFixed64(payload, it.SstID)
	case TagNewVSst, TagDelVSst:
		payload = encoding.AppendFixed64(payload, it.VSstID)
	case TagVSstRefCnt:
		payload = encoding.AppendFixed64(payload, it.VSstID)
		payload = encoding.AppendFixed64(payload, uint64(it.RefCount))
	case TagMaxSeqNum:
		payload = encoding.AppendFixed64(payload, it.SeqNum)
	case TagFreezeAndCreateWal:
		payload = encoding.AppendFixed64(payload, it.OldLogID)
		payload = encoding.AppendFixed64(payload, it.NewLogID)
	case TagDelFrozenWal:
		payload = encoding.AppendFixed64(payload, it.LogID)
	}
	dst = append(dst, byte(it.Tag))
	dst = encoding.AppendFixed32(dst, uint32(len(payload)))
	dst = append(dst, payload...)
	return dst
}

// DecodeItem decodes one Item from the front of src, returning the
// item and the number of bytes consumed.
func DecodeItem(src []byte) (Item, int, error) {
	if len(src) < 5 {
		return Item{}, 0, ErrShortItem
	}
	tag := Tag(src[0])
	plen := int(binary.LittleEndian.Uint32(src[1:5]))
	if len(src) < 5+plen {
		return Item{}, 0, ErrShortItem
	}
	p := src[5 : 5+plen]
	s := encoding.NewSlice(p)

	it := Item{Tag: tag}
	var err error
	switch tag {
	case TagInit:
		v, e := s.GetUint64()
		it.Version, err = v, e
	case TagNewSst, TagDelSst:
		lvl, e1 := s.GetUint32()
		id, e2 := s.GetUint64()
		it.Level, it.SstID = lvl, id
		err = firstErr(e1, e2)
	case TagNewVSst, TagDelVSst:
		id, e := s.GetUint64()
		it.VSstID, err = id, e
	case TagVSstRefCnt:
		id, e1 := s.GetUint64()
		cnt, e2 := s.GetUint64()
		it.VSstID, it.RefCount = id, int64(cnt)
		err = firstErr(e1, e2)
	case TagMaxSeqNum:
		v, e := s.GetUint64()
		it.SeqNum, err = v, e
	case TagFreezeAndCreateWal:
		o, e1 := s.GetUint64()
		n, e2 := s.GetUint64()
		it.OldLogID, it.NewLogID = o, n
		err = firstErr(e1, e2)
	case TagDelFrozenWal:
		v, e := s.GetUint64()
		it.LogID, err = v, e
	default:
		return Item{}, 0, fmt.Errorf("manifest: unknown item tag %d", tag)
	}
	if err != nil {
		return Item{}, 0, ErrShortItem
	}
	return it, 5 + plen, nil
}

func firstErr(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}
