package convert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/m-mizutani/finagent/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

type ColumnInfo struct {
	Name string
	Type string
}

// Summary describes the content of a Parquet file
type Summary struct {
	Rows    int64
	Columns []ColumnInfo
	Head    [][]string
}

// Inspect reads a whole Parquet file and keeps its shape and first head rows
func Inspect(ctx context.Context, r io.Reader, head int) (*Summary, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read parquet file")
	}

	mem := memory.NewGoAllocator()
	tbl, err := pqarrow.ReadTable(ctx, bytes.NewReader(data), parquet.NewReaderProperties(mem), pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, goerr.Wrap(model.ErrInvalidFormat, "failed to decode parquet file", goerr.V("error", err.Error()))
	}
	defer tbl.Release()

	summary := &Summary{Rows: tbl.NumRows()}
	for _, f := range tbl.Schema().Fields() {
		summary.Columns = append(summary.Columns, ColumnInfo{Name: f.Name, Type: f.Type.String()})
	}

	if head <= 0 || tbl.NumRows() == 0 {
		return summary, nil
	}

	tr := array.NewTableReader(tbl, int64(head))
	defer tr.Release()
	if tr.Next() {
		rec := tr.Record()
		for i := 0; i < int(rec.NumRows()); i++ {
			row := make([]string, rec.NumCols())
			for j, col := range rec.Columns() {
				if col.IsNull(i) {
					row[j] = model.NullCell
					continue
				}
				row[j] = col.ValueStr(i)
			}
			summary.Head = append(summary.Head, row)
		}
	}

	return summary, nil
}

// Print writes the summary in a human readable layout
func (s *Summary) Print(w io.Writer) {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}

	fmt.Fprintf(w, "Rows: %d\n", s.Rows)
	fmt.Fprintf(w, "Columns: %s\n", strings.Join(names, ", "))

	if len(s.Head) > 0 {
		fmt.Fprintf(w, "\nFirst %d rows:\n", len(s.Head))
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, strings.Join(names, "\t"))
		for _, row := range s.Head {
			fmt.Fprintln(tw, strings.Join(row, "\t"))
		}
		_ = tw.Flush()
	}

	fmt.Fprintf(w, "\nColumn types:\n")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, c := range s.Columns {
		fmt.Fprintf(tw, "  %s\t%s\n", c.Name, c.Type)
	}
	_ = tw.Flush()
}
