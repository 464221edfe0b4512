package model

import (
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/shopspring/decimal"
)

// DateLayout is the calendar date format used in the ledger file
const DateLayout = "2006-01-02"

// LedgerColumns is the fixed header of the row-oriented ledger file
var LedgerColumns = []string{
	"Transaction ID",
	"Date",
	"Description",
	"Category",
	"Amount",
	"Type",
	"City",
	"State",
	"Running Balance",
}

type TransactionID string

// NewTransactionID generates a new unique TransactionID
func NewTransactionID() TransactionID {
	return TransactionID(uuid.New().String())
}

// NewTransactionIDFromReader generates a TransactionID from the given entropy source
func NewTransactionIDFromReader(r io.Reader) (TransactionID, error) {
	id, err := uuid.NewRandomFromReader(r)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate transaction ID")
	}
	return TransactionID(id.String()), nil
}

type Category string

const (
	CategoryFoodAndDrink   Category = "Food & Drink"
	CategoryGrocery        Category = "Grocery"
	CategoryUtilities      Category = "Utilities"
	CategoryTransportation Category = "Transportation"
	CategoryRent           Category = "Rent"
	CategoryIncome         Category = "Income"
)

// Categories lists every valid category in display order
var Categories = []Category{
	CategoryFoodAndDrink,
	CategoryGrocery,
	CategoryUtilities,
	CategoryTransportation,
	CategoryRent,
	CategoryIncome,
}

// Validate checks if the category is one of the fixed set
func (c Category) Validate() error {
	for _, v := range Categories {
		if c == v {
			return nil
		}
	}
	return goerr.Wrap(ErrInvalidConfig, "unknown category", goerr.V("category", c))
}

// Type returns the transaction type implied by the category
func (c Category) Type() TxnType {
	if c == CategoryIncome {
		return TxnTypeCredit
	}
	return TxnTypeDebit
}

// Describe builds the description label for a merchant in this category
func (c Category) Describe(merchant string) string {
	if c == CategoryIncome {
		return "DEPOSIT: " + merchant
	}
	return "POS PURCHASE: " + merchant
}

type TxnType string

const (
	TxnTypeCredit TxnType = "Credit"
	TxnTypeDebit  TxnType = "Debit"
)

// Sign applies the direction of the transaction type to a positive amount
func (t TxnType) Sign(amount decimal.Decimal) decimal.Decimal {
	if t == TxnTypeCredit {
		return amount
	}
	return amount.Neg()
}

// Transaction is a single ledger entry. It is immutable once generated.
type Transaction struct {
	ID             TransactionID
	Timestamp      time.Time
	Description    string
	Category       Category
	Amount         decimal.Decimal
	Type           TxnType
	City           string
	State          string
	RunningBalance decimal.Decimal
}

// Date returns the calendar date of the transaction
func (t *Transaction) Date() string {
	return t.Timestamp.Format(DateLayout)
}

// SignedAmount returns +Amount for credits and -Amount for debits
func (t *Transaction) SignedAmount() decimal.Decimal {
	return t.Type.Sign(t.Amount)
}

// Record renders the transaction in LedgerColumns order
func (t *Transaction) Record() []string {
	return []string{
		string(t.ID),
		t.Date(),
		t.Description,
		string(t.Category),
		t.Amount.StringFixed(2),
		string(t.Type),
		t.City,
		t.State,
		t.RunningBalance.StringFixed(2),
	}
}
