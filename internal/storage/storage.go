// Package storage provides the write-once blob store that holds upload bodies.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"chapterhub/internal/config"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a handle does not name a stored blob.
var ErrNotFound = errors.New("blob not found")

// ErrInvalidHandle is returned for handles that could escape the store root.
var ErrInvalidHandle = errors.New("invalid blob handle")

// Object describes a stored blob.
type Object struct {
	Handle      string
	Size        int64
	ContentType string
}

// BlobStore persists opaque upload bodies. Handles are never reused: every Put
// produces a new handle.
type BlobStore interface {
	Put(ctx context.Context, r io.Reader, contentType string) (Object, error)
	Open(ctx context.Context, handle string) (io.ReadCloser, error)
	Stat(ctx context.Context, handle string) (Object, error)
	Delete(ctx context.Context, handle string) error
	Name() string
}

// New builds the store selected by BLOB_BACKEND.
func New(cfg *config.Config) (BlobStore, error) {
	switch cfg.BlobBackend {
	case "", "local":
		dir := cfg.BlobDir
		if dir == "" {
			dir = "./data/blobs"
		}
		return NewLocalStore(dir)
	case "memory":
		return NewMemoryStore(), nil
	case "oss":
		return NewOSSStore(OSSConfig{
			Endpoint:        cfg.OSSEndpoint,
			Bucket:          cfg.OSSBucket,
			AccessKeyID:     cfg.OSSAccessKeyID,
			AccessKeySecret: cfg.OSSAccessSecret,
			Prefix:          cfg.OSSPrefix,
		})
	default:
		return nil, fmt.Errorf("unsupported blob backend %q", cfg.BlobBackend)
	}
}

// newHandle returns a fresh date-partitioned handle.
func newHandle(now time.Time) string {
	return path.Join(now.UTC().Format("2006/01/02"), uuid.NewString())
}

func validateHandle(handle string) error {
	if handle == "" || strings.HasPrefix(handle, "/") || strings.Contains(handle, "..") || strings.Contains(handle, `\`) {
		return ErrInvalidHandle
	}
	return nil
}
