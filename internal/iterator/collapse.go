package iterator

import (
	"bytes"

	"github.com/xxxuuu/lasagnedb/internal/dbformat"
)

// CollapseIterator wraps a merged, InternalKey-ordered stream and
// surfaces exactly one entry per distinct user key: the first one
// seen, which dbformat.Compare's ordering guarantees is the entry
// with the highest (newest) sequence number for that key. Skipped
// older versions are the "shadowing" spec.md §4.8 describes
// compaction as performing. Scan reads through it; Get and the
// compaction merge loop do not use it.
type CollapseIterator struct {
	src        Iterator
	includeDel bool // if false, tombstone entries are skipped entirely
}

// NewCollapseIterator wraps src. When includeDel is false, delete
// tombstones are dropped rather than surfaced (used by Scan, which
// never returns deleted keys); with true, the newest entry is
// surfaced even when it is a tombstone.
func NewCollapseIterator(src Iterator, includeDel bool) *CollapseIterator {
	return &CollapseIterator{src: src, includeDel: includeDel}
}

func (c *CollapseIterator) Valid() bool        { return c.src.Valid() }
func (c *CollapseIterator) Key() dbformat.InternalKey { return c.src.Key() }
func (c *CollapseIterator) Meta() uint8        { return c.src.Meta() }
func (c *CollapseIterator) Value() []byte      { return c.src.Value() }
func (c *CollapseIterator) Error() error       { return c.src.Error() }

func (c *CollapseIterator) SeekToFirst() {
	c.src.SeekToFirst()
	c.skipShadowedAndMaybeDeletes()
}

func (c *CollapseIterator) Seek(target dbformat.InternalKey) {
	c.src.Seek(target)
	c.skipShadowedAndMaybeDeletes()
}

func (c *CollapseIterator) Next() {
	if !c.src.Valid() {
		return
	}
	userKey := append([]byte(nil), c.src.Key().UserKey()...)
	c.src.Next()
	for c.src.Valid() && bytes.Equal(c.src.Key().UserKey(), userKey) {
		c.src.Next()
	}
	c.skipShadowedAndMaybeDeletes()
}

// skipShadowedAndMaybeDeletes drops a leading run of tombstones when
// the caller asked not to see them; it does not need to worry about
// shadowed older versions of the *same* key landing here, since those
// only ever appear after a non-skipped entry and Next() already jumps
// past the whole run for the previous key.
func (c *CollapseIterator) skipShadowedAndMaybeDeletes() {
	if c.includeDel {
		return
	}
	for c.src.Valid() && c.src.Key().IsDelete() {
		userKey := append([]byte(nil), c.src.Key().UserKey()...)
		c.src.Next()
		for c.src.Valid() && bytes.Equal(c.src.Key().UserKey(), userKey) {
			c.src.Next()
		}
	}
}
