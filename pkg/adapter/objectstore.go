package adapter

import (
	"context"
	"io"
)

// ObjectStore reads and writes whole objects in a bucket
type ObjectStore interface {
	// Get opens the object for reading. The caller closes the reader.
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	// Put writes body as the object, replacing any existing one
	Put(ctx context.Context, bucket, key string, body io.Reader, contentType string) error
}
