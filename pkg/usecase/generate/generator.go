package generate

import (
	"encoding/binary"
	"math/rand/v2"
	"time"

	"github.com/m-mizutani/finagent/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	minOffsetHours = 4
	maxOffsetHours = 48
)

var (
	DefaultStartDate       = time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	DefaultStartingBalance = decimal.RequireFromString("3000.00")
)

// Generator produces a synthetic ledger with a running balance. All randomness
// comes from a single seedable source so a seed reproduces the whole ledger,
// transaction IDs included.
type Generator struct {
	catalog         *Catalog
	seed            uint64
	startDate       time.Time
	startingBalance decimal.Decimal

	src        *rand.ChaCha8
	rng        *rand.Rand
	categories distuv.Categorical
}

// Option is a functional option for Generator
type Option func(*Generator)

// WithSeed fixes the random seed. Zero picks a random seed.
func WithSeed(seed uint64) Option {
	return func(g *Generator) {
		g.seed = seed
	}
}

// WithStartDate sets the timestamp the first offset is added to
func WithStartDate(start time.Time) Option {
	return func(g *Generator) {
		g.startDate = start
	}
}

// WithStartingBalance sets the balance before the first transaction
func WithStartingBalance(balance decimal.Decimal) Option {
	return func(g *Generator) {
		g.startingBalance = balance
	}
}

// New creates a Generator after validating the catalog
func New(catalog *Catalog, opts ...Option) (*Generator, error) {
	if catalog == nil {
		return nil, goerr.Wrap(model.ErrInvalidConfig, "catalog is required")
	}
	if err := catalog.Validate(); err != nil {
		return nil, err
	}

	g := &Generator{
		catalog:         catalog,
		startDate:       DefaultStartDate,
		startingBalance: DefaultStartingBalance,
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.seed == 0 {
		g.seed = rand.Uint64()
	}

	var key [32]byte
	binary.LittleEndian.PutUint64(key[:8], g.seed)
	g.src = rand.NewChaCha8(key)
	g.rng = rand.New(g.src)
	g.categories = distuv.NewCategorical(catalog.weights(), g.src)

	return g, nil
}

// Seed returns the seed in effect, useful to reproduce a run
func (g *Generator) Seed() uint64 {
	return g.seed
}

// Generate produces n transactions in chronological order
func (g *Generator) Generate(n int) ([]*model.Transaction, error) {
	if n <= 0 {
		return nil, goerr.Wrap(model.ErrInvalidConfig, "row count must be positive", goerr.V("rows", n))
	}

	txns := make([]*model.Transaction, 0, n)
	current := g.startDate

	for i := 0; i < n; i++ {
		spec := g.catalog.Categories[int(g.categories.Rand())]
		merchant := spec.Merchants[g.rng.IntN(len(spec.Merchants))]
		amount := g.price(merchant)

		offset := minOffsetHours + g.rng.IntN(maxOffsetHours-minOffsetHours+1)
		current = current.Add(time.Duration(offset) * time.Hour)

		loc := g.catalog.Locations[g.rng.IntN(len(g.catalog.Locations))]

		id, err := model.NewTransactionIDFromReader(g.src)
		if err != nil {
			return nil, err
		}

		txns = append(txns, &model.Transaction{
			ID:          id,
			Timestamp:   current,
			Description: spec.Name.Describe(merchant.Name),
			Category:    spec.Name,
			Amount:      amount,
			Type:        spec.Name.Type(),
			City:        loc.City,
			State:       loc.State,
		})
	}

	ApplyRunningBalance(txns, g.startingBalance)
	return txns, nil
}

func (g *Generator) price(m Merchant) decimal.Decimal {
	if m.Fixed() {
		return m.minAmount()
	}
	u := distuv.Uniform{Min: m.Min, Max: m.Max, Src: g.src}
	return decimal.NewFromFloat(u.Rand()).Round(2)
}

// ApplyRunningBalance sets RunningBalance on each transaction by carrying the
// signed amounts forward from start, in slice order.
func ApplyRunningBalance(txns []*model.Transaction, start decimal.Decimal) {
	balance := start
	for _, txn := range txns {
		balance = balance.Add(txn.SignedAmount())
		txn.RunningBalance = balance.Round(2)
	}
}
