package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a named blob does not exist in the store.
var ErrNotFound = errors.New("blob not found")

// Store is a flat key/value space for workflow artifacts. Names carry no
// hierarchy; writes replace the whole value.
type Store interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	Exists(ctx context.Context, name string) (bool, error)
	Delete(ctx context.Context, name string) error
}
