// Package store persists per-day assistance buckets between runs so the
// receiver can be aided while offline data for today is already on disk.
//
// Files are zstd-compressed with a blake3 content hash up front; a failed
// hash check on read means the file is corrupt or foreign, and no bytes from
// it ever reach the receiver.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

var fileMagic = []byte("MGA1")

const hashLen = 32

// ErrCorrupt reports a day file whose content hash or header did not check
// out.
var ErrCorrupt = errors.New("store: corrupt day file")

var encoder, _ = zstd.NewWriter(nil)

// Reader with cached decompressors; nil input reader, DecodeAll only.
var decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))

type Store struct {
	dir string
}

// Open ensures dir exists and returns a store rooted there.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("store: dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return "", fmt.Errorf("store: invalid name %q", name)
	}
	return filepath.Join(s.dir, name+".mga"), nil
}

// Exists reports whether a day file with the given name is present.
func (s *Store) Exists(name string) bool {
	p, err := s.path(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Write stores data under name, replacing any previous content. The write
// goes through a temp file and rename so readers never see a half-written
// day file.
func (s *Store) Write(name string, data []byte) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}

	sum := blake3.Sum256(data)
	out := make([]byte, 0, len(fileMagic)+hashLen+len(data)/2)
	out = append(out, fileMagic...)
	out = append(out, sum[:]...)
	out = encoder.EncodeAll(data, out)

	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", name, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("store: rename %s: %w", name, err)
	}
	return nil
}

// Read loads and verifies the day file with the given name.
func (s *Store) Read(name string) ([]byte, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	if len(raw) < len(fileMagic)+hashLen || !bytes.Equal(raw[:len(fileMagic)], fileMagic) {
		return nil, fmt.Errorf("%w: %s: bad header", ErrCorrupt, name)
	}
	want := raw[len(fileMagic) : len(fileMagic)+hashLen]
	data, err := decoder.DecodeAll(raw[len(fileMagic)+hashLen:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
	}
	sum := blake3.Sum256(data)
	if !bytes.Equal(sum[:], want) {
		return nil, fmt.Errorf("%w: %s: hash mismatch", ErrCorrupt, name)
	}
	return data, nil
}

// Erase removes the day file with the given name. Removing a missing file
// is not an error.
func (s *Store) Erase(name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: erase %s: %w", name, err)
	}
	return nil
}

// SaveBuckets writes every day bucket, replacing existing files.
func (s *Store) SaveBuckets(buckets map[string][]byte) error {
	for day, data := range buckets {
		if err := s.Write(day, data); err != nil {
			return err
		}
	}
	return nil
}

// List returns the stored day names in ascending order.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n, ok := strings.CutSuffix(e.Name(), ".mga"); ok {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Prune erases every day file whose name sorts before cutoff ("YYYYMMDD"
// names make that a date comparison). Returns how many files were removed.
func (s *Store) Prune(cutoff string) (int, error) {
	names, err := s.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, n := range names {
		if n >= cutoff {
			break
		}
		if err := s.Erase(n); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
