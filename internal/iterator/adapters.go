package iterator

import (
	"github.com/xxxuuu/lasagnedb/internal/dbformat"
	"github.com/xxxuuu/lasagnedb/internal/sst"
)

// FromTable adapts an SST's sst.VIterator (InternalKey-ordered, with
// kv_separate values resolved from their vSST by the VIterator's
// resolver) to this package's Iterator interface.
func FromTable(v *sst.VIterator) Iterator { return tableAdapter{v} }

type tableAdapter struct{ v *sst.VIterator }

func (t tableAdapter) Valid() bool                  { return t.v.Valid() }
func (t tableAdapter) Key() dbformat.InternalKey     { return dbformat.InternalKey(t.v.Key()) }
func (t tableAdapter) Meta() uint8                   { return t.v.Meta() }
func (t tableAdapter) Value() []byte                 { return t.v.Value() }
func (t tableAdapter) Error() error                  { return t.v.Error() }
func (t tableAdapter) SeekToFirst()                  { t.v.SeekToFirst() }
func (t tableAdapter) Seek(target dbformat.InternalKey) { t.v.Seek([]byte(target)) }
func (t tableAdapter) Next()                         { t.v.Next() }

// FromRawTable adapts an SST's sst.Iterator (unmaterialized: Value()
// returns the literal stored bytes, a 4-byte vSST id for a
// kv_separate entry) to this package's Iterator interface. Compaction
// uses this instead of FromTable because it needs to see and rewrite
// kv_separate references rather than have them transparently resolved.
func FromRawTable(it *sst.Iterator) Iterator { return rawTableAdapter{it} }

type rawTableAdapter struct{ it *sst.Iterator }

func (r rawTableAdapter) Valid() bool              { return r.it.Valid() }
func (r rawTableAdapter) Key() dbformat.InternalKey { return dbformat.InternalKey(r.it.Key()) }
func (r rawTableAdapter) Meta() uint8               { return r.it.Entry().Meta }
func (r rawTableAdapter) Value() []byte             { return r.it.Entry().Value }
func (r rawTableAdapter) Error() error               { return r.it.Error() }
func (r rawTableAdapter) SeekToFirst()               { r.it.SeekToFirst() }
func (r rawTableAdapter) Seek(target dbformat.InternalKey) { r.it.Seek([]byte(target)) }
func (r rawTableAdapter) Next()                      { r.it.Next() }
