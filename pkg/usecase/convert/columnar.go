package convert

import (
	"bytes"
	"encoding/csv"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	arrowcsv "github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/m-mizutani/finagent/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// Encoded describes a Parquet file written by EncodeParquet
type Encoded struct {
	Schema *arrow.Schema
	Rows   int64
}

// Columns returns the column names in file order
func (e *Encoded) Columns() []string {
	names := make([]string, e.Schema.NumFields())
	for i, f := range e.Schema.Fields() {
		names[i] = f.Name
	}
	return names
}

// inferSchema reads the whole CSV once to normalize the header and pick a type
// for every column
func inferSchema(data []byte) (*arrow.Schema, error) {
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, goerr.Wrap(model.ErrInvalidFormat, "failed to parse CSV", goerr.V("error", err.Error()))
	}
	if len(records) == 0 {
		return nil, goerr.Wrap(model.ErrInvalidFormat, "CSV has no header row")
	}

	header := records[0]
	body := records[1:]

	fields := make([]arrow.Field, len(header))
	seen := make(map[string]string, len(header))
	column := make([]string, len(body))
	for i, name := range header {
		normalized := NormalizeColumn(name)
		if normalized == "" {
			return nil, goerr.Wrap(model.ErrInvalidFormat, "empty column name", goerr.V("index", i))
		}
		if prev, ok := seen[normalized]; ok {
			return nil, goerr.Wrap(model.ErrInvalidFormat, "columns collide after normalization",
				goerr.V("column", normalized), goerr.V("first", prev), goerr.V("second", name))
		}
		seen[normalized] = name

		for j, rec := range body {
			column[j] = rec[i]
		}
		fields[i] = arrow.Field{Name: normalized, Type: InferType(column), Nullable: true}
	}

	return arrow.NewSchema(fields, nil), nil
}

// EncodeParquet converts a CSV with a header row into a Snappy-compressed
// Parquet file. Column names are normalized, every row is kept and empty cells
// become nulls.
func EncodeParquet(w io.Writer, r io.Reader, mem memory.Allocator) (*Encoded, error) {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read CSV")
	}

	schema, err := inferSchema(data)
	if err != nil {
		return nil, err
	}

	reader := arrowcsv.NewReader(bytes.NewReader(data), schema,
		arrowcsv.WithHeader(true),
		arrowcsv.WithChunk(-1),
		arrowcsv.WithNullReader(true, ""),
		arrowcsv.WithAllocator(mem),
	)
	defer reader.Release()

	if !reader.Next() {
		if err := reader.Err(); err != nil {
			return nil, goerr.Wrap(model.ErrInvalidFormat, "failed to decode CSV", goerr.V("error", err.Error()))
		}
		return nil, goerr.Wrap(model.ErrInvalidFormat, "CSV produced no record")
	}
	if err := reader.Err(); err != nil {
		return nil, goerr.Wrap(model.ErrInvalidFormat, "failed to decode CSV", goerr.V("error", err.Error()))
	}

	// The reader names fields after the raw header, so reattach the normalized schema
	decoded := reader.Record()
	rec := array.NewRecord(schema, decoded.Columns(), decoded.NumRows())
	defer rec.Release()

	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	fw, err := pqarrow.NewFileWriter(schema, w, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create parquet writer")
	}
	if err := fw.Write(rec); err != nil {
		_ = fw.Close()
		return nil, goerr.Wrap(err, "failed to write parquet record")
	}
	if err := fw.Close(); err != nil {
		return nil, goerr.Wrap(err, "failed to close parquet writer")
	}

	return &Encoded{Schema: schema, Rows: rec.NumRows()}, nil
}
