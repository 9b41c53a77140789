package storage

import (
	"context"
	"errors"
	"io"
)

var ErrNotFound = errors.New("object not found")

// Storage is an opaque blob store for uploaded files.
type Storage interface {
	Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Read(ctx context.Context, key string) (io.ReadCloser, error)
	// DeletePrefix removes every object whose key starts with prefix. An
	// empty prefix empties the store.
	DeletePrefix(ctx context.Context, prefix string) error
	// URL is the address clients use to fetch key.
	URL(key string) string
}
