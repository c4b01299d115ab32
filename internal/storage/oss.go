package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

// OSSConfig holds Alibaba Cloud OSS credentials.
type OSSConfig struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	AccessKeySecret string
	Prefix          string
}

// OSSStore keeps blobs in an OSS bucket.
type OSSStore struct {
	bucket *oss.Bucket
	prefix string
}

// NewOSSStore connects to the configured bucket.
func NewOSSStore(cfg OSSConfig) (*OSSStore, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("oss.New: %w", err)
	}
	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("oss bucket %q: %w", cfg.Bucket, err)
	}
	return &OSSStore{bucket: bucket, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

func (s *OSSStore) Name() string { return "oss" }

func (s *OSSStore) Put(ctx context.Context, r io.Reader, contentType string) (Object, error) {
	handle := newHandle(time.Now())
	counter := &countingReader{r: r}
	opts := []oss.Option{
		oss.WithContext(ctx),
		oss.ContentType(contentType),
		oss.ForbidOverWrite(true),
	}
	if err := s.bucket.PutObject(s.key(handle), counter, opts...); err != nil {
		return Object{}, fmt.Errorf("oss put: %w", err)
	}
	return Object{Handle: handle, Size: counter.n, ContentType: contentType}, nil
}

func (s *OSSStore) Open(ctx context.Context, handle string) (io.ReadCloser, error) {
	if err := validateHandle(handle); err != nil {
		return nil, err
	}
	body, err := s.bucket.GetObject(s.key(handle), oss.WithContext(ctx))
	if isOSSNotFound(err) {
		return nil, ErrNotFound
	}
	return body, err
}

func (s *OSSStore) Stat(ctx context.Context, handle string) (Object, error) {
	if err := validateHandle(handle); err != nil {
		return Object{}, err
	}
	header, err := s.bucket.GetObjectMeta(s.key(handle), oss.WithContext(ctx))
	if isOSSNotFound(err) {
		return Object{}, ErrNotFound
	}
	if err != nil {
		return Object{}, err
	}
	size, _ := strconv.ParseInt(header.Get("Content-Length"), 10, 64)
	return Object{Handle: handle, Size: size, ContentType: header.Get("Content-Type")}, nil
}

func (s *OSSStore) Delete(ctx context.Context, handle string) error {
	if err := validateHandle(handle); err != nil {
		return err
	}
	return s.bucket.DeleteObject(s.key(handle), oss.WithContext(ctx))
}

func (s *OSSStore) key(handle string) string {
	if s.prefix == "" {
		return handle
	}
	return path.Join(s.prefix, handle)
}

func isOSSNotFound(err error) bool {
	var se oss.ServiceError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusNotFound
	}
	return false
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
