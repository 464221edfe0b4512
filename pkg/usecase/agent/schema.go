package agent

import (
	"strings"

	"github.com/m-mizutani/finagent/pkg/model"
)

// Dialect names the SQL flavor of a query backend and its type names
type Dialect struct {
	Service    string
	Name       string
	TextType   string
	NumberType string
}

var (
	DialectAthena = Dialect{
		Service:    "AWS Athena",
		Name:       "Presto",
		TextType:   "string",
		NumberType: "double",
	}
	DialectBigQuery = Dialect{
		Service:    "BigQuery",
		Name:       "GoogleSQL",
		TextType:   "STRING",
		NumberType: "FLOAT64",
	}
)

type Column struct {
	Name string
	Type string
	Note string
}

// Schema is the fixed description of the ledger table given to the model
type Schema struct {
	Dialect Dialect
	Table   string
	Columns []Column
}

// LedgerSchema describes the converted ledger as registered in the catalog.
// table is the qualified name the backend resolves, such as finance_db.transactions.
func LedgerSchema(dialect Dialect, table string) *Schema {
	text, number := dialect.TextType, dialect.NumberType

	categories := make([]string, len(model.Categories))
	for i, c := range model.Categories {
		categories[i] = string(c)
	}
	return &Schema{
		Dialect: dialect,
		Table:   table,
		Columns: []Column{
			{Name: "transaction_id", Type: text},
			{Name: "date", Type: text, Note: "YYYY-MM-DD"},
			{Name: "description", Type: text, Note: "e.g. 'POS PURCHASE: Starbucks' or 'DEPOSIT: Tech Internship Pay'"},
			{Name: "category", Type: text, Note: "one of " + strings.Join(categories, ", ")},
			{Name: "amount", Type: number},
			{Name: "type", Type: text},
			{Name: "city", Type: text},
			{Name: "state", Type: text},
			{Name: "running_balance", Type: number, Note: "balance after the transaction"},
		},
	}
}
