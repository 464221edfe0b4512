package generate

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/m-mizutani/finagent/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// WriteCSV writes the ledger with the fixed header row
func WriteCSV(w io.Writer, txns []*model.Transaction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(model.LedgerColumns); err != nil {
		return goerr.Wrap(err, "failed to write ledger header")
	}
	for _, txn := range txns {
		if err := cw.Write(txn.Record()); err != nil {
			return goerr.Wrap(err, "failed to write ledger row", goerr.V("id", txn.ID))
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return goerr.Wrap(err, "failed to flush ledger")
	}
	return nil
}

// PrintSummary shows what was generated along with a preview of the first rows
func PrintSummary(w io.Writer, txns []*model.Transaction, dest string, preview int) {
	fmt.Fprintf(w, "Generated %d realistic transactions.\n", len(txns))
	fmt.Fprintf(w, "   - Includes columns: %s\n", strings.Join(model.LedgerColumns, ", "))
	fmt.Fprintf(w, "   - Saved to: %s\n", dest)
	fmt.Fprintf(w, "\nSample Data:\n")

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Date\tDescription\tAmount\tRunning Balance\t")
	for i, txn := range txns {
		if i >= preview {
			break
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n",
			txn.Date(), txn.Description, txn.Amount.StringFixed(2), txn.RunningBalance.StringFixed(2))
	}
	_ = tw.Flush()
}
