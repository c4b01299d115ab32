package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// LocalStore keeps blobs on the local filesystem under a root directory.
type LocalStore struct {
	root string
	now  func() time.Time
}

// NewLocalStore creates the root directory when missing.
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &LocalStore{root: root, now: time.Now}, nil
}

func (s *LocalStore) Name() string { return "local" }

func (s *LocalStore) Put(ctx context.Context, r io.Reader, contentType string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	handle := newHandle(s.now())
	full := s.path(handle)
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return Object{}, fmt.Errorf("create blob partition: %w", err)
	}

	// O_EXCL keeps blobs write-once.
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return Object{}, fmt.Errorf("create blob: %w", err)
	}
	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(full)
		return Object{}, fmt.Errorf("write blob: %w", errors.Join(copyErr, closeErr))
	}
	return Object{Handle: handle, Size: n, ContentType: contentType}, nil
}

func (s *LocalStore) Open(_ context.Context, handle string) (io.ReadCloser, error) {
	if err := validateHandle(handle); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(handle))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

func (s *LocalStore) Stat(_ context.Context, handle string) (Object, error) {
	if err := validateHandle(handle); err != nil {
		return Object{}, err
	}
	info, err := os.Stat(s.path(handle))
	if errors.Is(err, fs.ErrNotExist) {
		return Object{}, ErrNotFound
	}
	if err != nil {
		return Object{}, err
	}
	return Object{Handle: handle, Size: info.Size()}, nil
}

func (s *LocalStore) Delete(_ context.Context, handle string) error {
	if err := validateHandle(handle); err != nil {
		return err
	}
	err := os.Remove(s.path(handle))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *LocalStore) path(handle string) string {
	return filepath.Join(s.root, filepath.FromSlash(handle))
}
