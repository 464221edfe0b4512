package adapter

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
)

// storageClient implements ObjectStore using Cloud Storage
type storageClient struct {
	client *storage.Client
}

// NewStorage creates a new Cloud Storage client
func NewStorage(ctx context.Context) (ObjectStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	return &storageClient{
		client: client,
	}, nil
}

func (s *storageClient) Put(ctx context.Context, bucket, key string, body io.Reader, contentType string) error {
	writer := s.client.Bucket(bucket).Object(key).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := io.Copy(writer, body); err != nil {
		_ = writer.Close()
		return goerr.Wrap(err, "failed to write to storage", goerr.V("bucket", bucket), goerr.V("key", key))
	}
	// The object is committed on Close
	if err := writer.Close(); err != nil {
		return goerr.Wrap(err, "failed to commit object", goerr.V("bucket", bucket), goerr.V("key", key))
	}
	return nil
}

func (s *storageClient) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	reader, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read from storage", goerr.V("bucket", bucket), goerr.V("key", key))
	}

	return reader, nil
}
