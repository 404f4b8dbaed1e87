// Package storage provides the durable key/value contract used to
// persist endpoint health, cache contents and the offline queue, plus
// in-memory and file-backed implementations. Redis and PostgreSQL
// backends live in subpackages.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when a key has no stored value.
var ErrNotFound = errors.New("storage: key not found")

// Store is a durable key/value store. Values are opaque blobs; the
// components serialize versioned JSON into them.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
