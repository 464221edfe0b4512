package adapter

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// localStore maps buckets to directories under root. It lets the conversion
// pipeline run without cloud credentials.
type localStore struct {
	root string
}

// NewLocalStore creates an ObjectStore backed by the local file system
func NewLocalStore(root string) ObjectStore {
	return &localStore{root: root}
}

// path resolves an object to a file. A bucket must be a single directory name
// under root and the key must stay inside that bucket.
func (s *localStore) path(bucket, key string) (string, error) {
	if bucket == "" || bucket == "." || bucket == ".." || strings.ContainsAny(bucket, `/\`) {
		return "", goerr.New("invalid bucket name", goerr.V("bucket", bucket))
	}

	root := filepath.Clean(s.root) + string(filepath.Separator)
	base := filepath.Join(s.root, bucket) + string(filepath.Separator)
	if !strings.HasPrefix(base, root) {
		return "", goerr.New("bucket escapes store root", goerr.V("bucket", bucket), goerr.V("root", s.root))
	}

	p := filepath.Join(s.root, bucket, filepath.FromSlash(key))
	if !strings.HasPrefix(p, base) {
		return "", goerr.New("object key escapes bucket", goerr.V("bucket", bucket), goerr.V("key", key))
	}
	return p, nil
}

func (s *localStore) Get(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	p, err := s.path(bucket, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open object", goerr.V("path", p))
	}
	return f, nil
}

func (s *localStore) Put(_ context.Context, bucket, key string, body io.Reader, _ string) error {
	p, err := s.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return goerr.Wrap(err, "failed to create directory", goerr.V("path", p))
	}

	f, err := os.Create(p)
	if err != nil {
		return goerr.Wrap(err, "failed to create object", goerr.V("path", p))
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		return goerr.Wrap(err, "failed to write object", goerr.V("path", p))
	}
	if err := f.Close(); err != nil {
		return goerr.Wrap(err, "failed to close object", goerr.V("path", p))
	}
	return nil
}
