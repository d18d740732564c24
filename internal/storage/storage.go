// Package storage abstracts the byte store holding encrypted payloads.
// Each transfer touches only its own key, so there is no cross-transfer
// contention at this layer.
package storage

import (
	"context"
	"io"
)

// BlobStore reads and writes opaque ciphertext blobs.
type BlobStore interface {
	// Put streams a blob under key. size may be -1 when unknown up front.
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Get opens the blob for streaming reads.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, key string) error
}
