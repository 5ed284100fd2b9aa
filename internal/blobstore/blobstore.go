// Package blobstore keeps binary clipboard payloads (images, copied files)
// on disk, addressed by their content fingerprint. History rows store the
// returned path; equal content maps to the same file.
package blobstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/filex"
)

type Store struct {
	root string
}

// New creates root if needed.
func New(root string) (*Store, error) {
	dir, err := filex.EnsureDir(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrIO, err)
	}
	return &Store{root: dir}, nil
}

func (s *Store) Root() string { return s.root }

// Path returns where a blob with the given hash and extension lives.
func (s *Store) Path(hash, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	prefix := "00"
	if len(hash) >= 2 {
		prefix = hash[:2]
	}
	return filepath.Join(s.root, prefix, hash+ext)
}

// Put writes data under hash unless a blob is already there. Writes go to
// a temp file that is renamed into place, so a crash never leaves a torn
// blob under the final name.
func (s *Store) Put(hash, ext string, r io.Reader) (string, error) {
	path := s.Path(hash, ext)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	dir := filepath.Dir(path)
	if _, err := filex.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrIO, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("%w: create temp blob: %w", common.ErrIO, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: write blob: %w", common.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: close blob: %w", common.ErrIO, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("%w: rename blob: %w", common.ErrIO, err)
	}
	return path, nil
}

// PutFile copies the file at src into the store.
func (s *Store) PutFile(hash, src string) (string, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %w", common.ErrIO, src, err)
	}
	defer f.Close()

	return s.Put(hash, filepath.Ext(src), f)
}

// Contains reports whether path points inside the store.
func (s *Store) Contains(path string) bool {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}

// Read returns the blob at path. Paths outside the store are refused.
func (s *Store) Read(path string) ([]byte, error) {
	if !s.Contains(path) {
		return nil, fmt.Errorf("%w: %s is outside the blob store", common.ErrIO, path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrIO, err)
	}
	return b, nil
}

// Remove deletes the blob at path. Missing files and paths outside the
// store are ignored.
func (s *Store) Remove(path string) error {
	if !s.Contains(path) {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %w", common.ErrIO, err)
	}
	return nil
}
