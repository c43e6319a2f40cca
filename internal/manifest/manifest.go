package manifest

import (
	"os"

	"github.com/xxxuuu/lasagnedb/internal/recordio"
)

// Manifest is an append-only log of Records, each holding one or more
// ManifestItems (spec.md §4.6).
type Manifest struct {
	path string
	f    *os.File
}

// Create truncates (or creates) the manifest file at path and writes
// an initial Init record.
func Create(path string, version uint64) (*Manifest, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	m := &Manifest{path: path, f: f}
	if err := m.Append(Init(version)); err != nil {
		_ = f.Close()
		return nil, err
	}
	return m, nil
}

// OpenForAppend opens an existing manifest file for further appends,
// without writing anything.
func OpenForAppend(path string) (*Manifest, error) {
	f, err := recordio.OpenForAppend(path)
	if err != nil {
		return nil, err
	}
	return &Manifest{path: path, f: f}, nil
}

// Path returns the manifest's file path.
func (m *Manifest) Path() string { return m.path }

// Append writes a single Record containing items.
func (m *Manifest) Append(items ...Item) error {
	raw := make([][]byte, len(items))
	for i, it := range items {
		raw[i] = it.AppendTo(nil)
	}
	_, err := recordio.AppendItems(m.f, raw)
	return err
}

// Flush fsyncs the manifest file.
func (m *Manifest) Flush() error { return m.f.Sync() }

// Close closes the underlying file handle.
func (m *Manifest) Close() error { return m.f.Close() }

// Replay decodes every committed Record in the manifest file at path,
// in order, stopping silently at the first torn tail.
func Replay(path string) ([]Item, error) {
	data, err := recordio.ReadFileForRecords(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	r := recordio.NewReader(data)
	var out []Item
	for {
		raws, err := r.Next(decodeItemRaw)
		if err != nil {
			break
		}
		for _, raw := range raws {
			it, _, derr := DecodeItem(raw)
			if derr != nil {
				return out, nil
			}
			out = append(out, it)
		}
	}
	return out, nil
}

func decodeItemRaw(data []byte) ([]byte, int, error) {
	_, n, err := DecodeItem(data)
	if err != nil {
		return nil, 0, err
	}
	return data[:n], n, nil
}

// WriteCurrent atomically points CURRENT at the manifest basename via
// write-to-temp-then-rename, matching spec.md §4.7's
// "write-truncate-create" swap.
func WriteCurrent(dir, manifestBasename string) error {
	tmp := dir + "/CURRENT.tmp"
	if err := os.WriteFile(tmp, []byte(manifestBasename+"\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dir+"/CURRENT")
}

// ReadCurrent returns the basename of the active manifest referenced
// by dir's CURRENT file, or ("", nil) if no CURRENT file exists yet.
func ReadCurrent(dir string) (string, error) {
	data, err := os.ReadFile(dir + "/CURRENT")
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	s := string(data)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s, nil
}
