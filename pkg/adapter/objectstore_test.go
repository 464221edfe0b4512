package adapter_test

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/m-mizutani/finagent/pkg/adapter"
	"github.com/m-mizutani/gt"
)

func testObjectStore(t *testing.T, store adapter.ObjectStore, bucket string) {
	t.Helper()
	ctx := context.Background()
	key := "test/" + uuid.NewString() + "/ledger.csv"

	gt.NoError(t, store.Put(ctx, bucket, key, strings.NewReader("a,b\n1,2\n"), "text/csv"))

	r, err := store.Get(ctx, bucket, key)
	gt.NoError(t, err)
	defer r.Close()

	data, err := io.ReadAll(r)
	gt.NoError(t, err)
	gt.Equal(t, string(data), "a,b\n1,2\n")
}

func TestLocalStore(t *testing.T) {
	store := adapter.NewLocalStore(t.TempDir())
	testObjectStore(t, store, "raw")

	t.Run("missing object", func(t *testing.T) {
		_, err := store.Get(context.Background(), "raw", "nothing.csv")
		gt.Error(t, err)
	})

	t.Run("key escaping bucket", func(t *testing.T) {
		err := store.Put(context.Background(), "raw", "../other/x.csv", strings.NewReader(""), "text/csv")
		gt.Error(t, err)
	})

	t.Run("bucket escaping root", func(t *testing.T) {
		parent := t.TempDir()
		root := filepath.Join(parent, "buckets")
		store := adapter.NewLocalStore(root)
		ctx := context.Background()

		for _, bucket := range []string{"..", ".", "", "raw/..", "../raw", `..\raw`} {
			err := store.Put(ctx, bucket, "outside.txt", strings.NewReader("x"), "text/plain")
			gt.Error(t, err)

			_, err = store.Get(ctx, bucket, "outside.txt")
			gt.Error(t, err)
		}

		_, err := os.Stat(filepath.Join(parent, "outside.txt"))
		gt.True(t, errors.Is(err, fs.ErrNotExist))
	})
}

func TestStorage(t *testing.T) {
	bucket := os.Getenv("TEST_STORAGE_BUCKET")
	if bucket == "" {
		t.Skip("TEST_STORAGE_BUCKET is not set")
	}

	store, err := adapter.NewStorage(context.Background())
	gt.NoError(t, err)
	testObjectStore(t, store, bucket)
}

func TestS3(t *testing.T) {
	bucket := os.Getenv("TEST_S3_BUCKET")
	if bucket == "" {
		t.Skip("TEST_S3_BUCKET is not set")
	}

	var opts []adapter.S3Option
	if endpoint := os.Getenv("TEST_S3_ENDPOINT"); endpoint != "" {
		opts = append(opts, adapter.WithS3Endpoint(endpoint))
	}

	store, err := adapter.NewS3(context.Background(), opts...)
	gt.NoError(t, err)
	testObjectStore(t, store, bucket)
}
