// Package blobstore keeps the raw bytes behind clip references.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// ErrInvalidRef is returned for references that do not name a blob in the store.
var ErrInvalidRef = errors.New("invalid clip reference")

// FileStore keeps clip bytes as files in a single directory. The directory is
// held under an advisory lock while the store is open.
type FileStore struct {
	dir  string
	lock *flock.Flock
}

// Open creates dir if needed and locks it.
func Open(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create clip dir: %w", err)
	}
	lock := flock.New(filepath.Join(dir, ".looper.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock clip dir: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("clip dir %s is in use by another looper", dir)
	}
	return &FileStore{dir: dir, lock: lock}, nil
}

// Close releases the directory lock.
func (s *FileStore) Close() error {
	return s.lock.Unlock()
}

// Dir returns the backing directory.
func (s *FileStore) Dir() string { return s.dir }

// Create opens a new blob for writing. ext includes the leading dot and may
// be empty.
func (s *FileStore) Create(ext string) (string, *os.File, error) {
	if !validExt(ext) {
		return "", nil, fmt.Errorf("%w: extension %q", ErrInvalidRef, ext)
	}
	ref := uuid.NewString() + ext
	f, err := os.OpenFile(filepath.Join(s.dir, ref), os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return "", nil, fmt.Errorf("create blob: %w", err)
	}
	return ref, f, nil
}

// Put stores data as a new blob.
func (s *FileStore) Put(data []byte, ext string) (string, error) {
	ref, f, err := s.Create(ext)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close blob: %w", err)
	}
	return ref, nil
}

// Fetch reads a blob.
func (s *FileStore) Fetch(_ context.Context, ref string) ([]byte, error) {
	path, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Delete removes a blob. Missing blobs are not an error.
func (s *FileStore) Delete(ref string) error {
	path, err := s.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Purge removes every blob, keeping the lock file.
func (s *FileStore) Purge() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read clip dir: %w", err)
	}
	var errs []error
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *FileStore) path(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return filepath.Join(s.dir, ref), nil
}

func validExt(ext string) bool {
	if ext == "" {
		return true
	}
	if len(ext) > 16 || ext[0] != '.' {
		return false
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return len(ext) > 1
}
