package lasagnedb

import (
	"fmt"
	"path/filepath"
)

// File naming, per spec.md §6: zero-padded 5-digit ids, one file-type
// suffix per kind. manifestBasename's id is a manifest version, not an
// sst/vsst/log id, but shares the same width convention.
func manifestBasename(version uint64) string { return fmt.Sprintf("%05d.MANIFEST", version) }
func sstBasename(id uint64) string           { return fmt.Sprintf("%05d.SST", id) }
func vsstBasename(id uint64) string          { return fmt.Sprintf("%05d.VSST", id) }
func logBasename(id uint64) string           { return fmt.Sprintf("%05d.LOG", id) }

func (db *DB) SstPath(id uint64) string  { return filepath.Join(db.dir, sstBasename(id)) }
func (db *DB) VSstPath(id uint64) string { return filepath.Join(db.dir, vsstBasename(id)) }
func (db *DB) logPath(id uint64) string  { return filepath.Join(db.dir, logBasename(id)) }

// vsstCacheID distinguishes vSST ids from SST ids inside the shared
// table registry / block cache key space: both id spaces start at 1,
// so a raw vsst id could otherwise collide with an unrelated sst id.
func vsstCacheID(id uint64) uint64 { return id | (1 << 63) }
