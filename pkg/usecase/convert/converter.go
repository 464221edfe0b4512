package convert

import (
	"bytes"
	"context"
	"errors"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/m-mizutani/finagent/pkg/adapter"
	"github.com/m-mizutani/finagent/pkg/model"
	"github.com/m-mizutani/finagent/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const parquetContentType = "application/vnd.apache.parquet"

type Status string

const (
	StatusSkipped   Status = "skipped"
	StatusConverted Status = "converted"
)

// Result reports what happened to one uploaded object
type Result struct {
	Status      Status     `json:"status"`
	Source      ObjectRef  `json:"source"`
	Destination *ObjectRef `json:"destination,omitempty"`
	Rows        int64      `json:"rows,omitempty"`
	Columns     []string   `json:"columns,omitempty"`
}

// Converter rewrites uploaded CSV ledgers as Parquet into the destination bucket
type Converter struct {
	store      adapter.ObjectStore
	destBucket string
	destPrefix string
	mem        memory.Allocator
}

// Option is a functional option for Converter
type Option func(*Converter)

// WithPrefix prepends prefix to every output key
func WithPrefix(prefix string) Option {
	return func(c *Converter) {
		c.destPrefix = prefix
	}
}

// WithAllocator sets the Arrow allocator used while encoding
func WithAllocator(mem memory.Allocator) Option {
	return func(c *Converter) {
		c.mem = mem
	}
}

// New creates a Converter writing into destBucket
func New(store adapter.ObjectStore, destBucket string, opts ...Option) (*Converter, error) {
	if store == nil {
		return nil, goerr.Wrap(model.ErrInvalidConfig, "object store is required")
	}
	if destBucket == "" {
		return nil, goerr.Wrap(model.ErrInvalidConfig, "destination bucket is required")
	}

	c := &Converter{
		store:      store,
		destBucket: destBucket,
		mem:        memory.NewGoAllocator(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Convert processes one uploaded object. Keys without the .csv suffix are
// skipped without touching the destination.
func (c *Converter) Convert(ctx context.Context, src ObjectRef) (*Result, error) {
	logger := logging.From(ctx).With("bucket", src.Bucket, "key", src.Key)

	if !IsSource(src.Key) {
		logger.Info("skipping non-CSV object")
		return &Result{Status: StatusSkipped, Source: src}, nil
	}

	r, err := c.store.Get(ctx, src.Bucket, src.Key)
	if err != nil {
		logger.Error("failed to read source object", logging.ErrAttr(err))
		return nil, err
	}
	defer r.Close()

	var buf bytes.Buffer
	encoded, err := EncodeParquet(&buf, r, c.mem)
	if err != nil {
		err = goerr.Wrap(err, "failed to convert object", goerr.V("source", src.String()))
		logger.Error("failed to convert object", logging.ErrAttr(err))
		return nil, err
	}

	dst := ObjectRef{Bucket: c.destBucket, Key: OutputKey(c.destPrefix, src.Key)}
	if err := c.store.Put(ctx, dst.Bucket, dst.Key, &buf, parquetContentType); err != nil {
		logger.Error("failed to write parquet object", logging.ErrAttr(err), "destination", dst.String())
		return nil, err
	}

	logger.Info("converted object",
		"destination", dst.String(),
		"rows", encoded.Rows,
		"columns", encoded.Schema.NumFields(),
	)

	return &Result{
		Status:      StatusConverted,
		Source:      src,
		Destination: &dst,
		Rows:        encoded.Rows,
		Columns:     encoded.Columns(),
	}, nil
}

// HandleEvent converts every object of a trigger event. Each object is
// independent: a failure does not stop the others, and the returned error
// reports every failed object.
func (c *Converter) HandleEvent(ctx context.Context, refs []ObjectRef) ([]*Result, error) {
	results := make([]*Result, 0, len(refs))
	var errs []error
	for _, ref := range refs {
		result, err := c.Convert(ctx, ref)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, result)
	}

	if len(errs) > 0 {
		return results, goerr.Wrap(errors.Join(errs...), "failed to handle event",
			goerr.V("objects", len(refs)), goerr.V("failed", len(errs)))
	}
	return results, nil
}
