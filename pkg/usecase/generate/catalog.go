package generate

import (
	"os"

	"github.com/m-mizutani/finagent/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Merchant is a payee with a price range. Min == Max means a fixed price.
type Merchant struct {
	Name string  `yaml:"name"`
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
}

// Fixed reports whether the merchant always charges the same amount
func (m Merchant) Fixed() bool {
	return m.Min == m.Max
}

func (m Merchant) minAmount() decimal.Decimal {
	return decimal.NewFromFloat(m.Min).Round(2)
}

// CategorySpec is a category with its selection weight and merchant table
type CategorySpec struct {
	Name      model.Category `yaml:"name"`
	Weight    float64        `yaml:"weight"`
	Merchants []Merchant     `yaml:"merchants"`
}

type Location struct {
	City  string `yaml:"city"`
	State string `yaml:"state"`
}

// Catalog holds the tables the generator draws from
type Catalog struct {
	Categories []CategorySpec `yaml:"categories"`
	Locations  []Location     `yaml:"locations"`
}

// DefaultCatalog returns weights and merchants approximating a student's spending
func DefaultCatalog() *Catalog {
	return &Catalog{
		Categories: []CategorySpec{
			{
				Name:   model.CategoryFoodAndDrink,
				Weight: 0.40,
				Merchants: []Merchant{
					{Name: "Starbucks", Min: 4.50, Max: 8.50},
					{Name: "Dunkin", Min: 3.00, Max: 12.00},
					{Name: "Chipotle", Min: 11.00, Max: 18.00},
					{Name: "UberEats", Min: 25.00, Max: 60.00},
					{Name: "Local Bar", Min: 15.00, Max: 80.00},
					{Name: "Vending Machine", Min: 1.50, Max: 3.50},
				},
			},
			{
				Name:   model.CategoryGrocery,
				Weight: 0.15,
				Merchants: []Merchant{
					{Name: "Trader Joes", Min: 30.00, Max: 120.00},
					{Name: "Whole Foods", Min: 50.00, Max: 200.00},
					{Name: "Wegmans", Min: 40.00, Max: 150.00},
					{Name: "7-Eleven", Min: 5.00, Max: 25.00},
				},
			},
			{
				Name:   model.CategoryUtilities,
				Weight: 0.15,
				Merchants: []Merchant{
					{Name: "Spotify", Min: 11.99, Max: 11.99},
					{Name: "Netflix", Min: 15.49, Max: 15.49},
					{Name: "ConEd Electric", Min: 80.00, Max: 140.00},
					{Name: "Verizon Fios", Min: 79.99, Max: 79.99},
					{Name: "AWS Cloud Bill", Min: 0.50, Max: 15.00},
				},
			},
			{
				Name:   model.CategoryTransportation,
				Weight: 0.15,
				Merchants: []Merchant{
					{Name: "Uber Trip", Min: 12.00, Max: 45.00},
					{Name: "MTA Subway", Min: 2.90, Max: 2.90},
					{Name: "Shell Station", Min: 30.00, Max: 60.00},
				},
			},
			{
				Name:   model.CategoryRent,
				Weight: 0.05,
				Merchants: []Merchant{
					{Name: "Luxury Apartments LLC", Min: 1450.00, Max: 1450.00},
				},
			},
			{
				Name:   model.CategoryIncome,
				Weight: 0.10,
				Merchants: []Merchant{
					{Name: "Tech Internship Pay", Min: 2500.00, Max: 2500.00},
					{Name: "Zelle from Mom", Min: 50.00, Max: 200.00},
				},
			},
		},
		Locations: []Location{
			{City: "New Brunswick", State: "NJ"},
			{City: "Piscataway", State: "NJ"},
			{City: "New York", State: "NY"},
			{City: "Princeton", State: "NJ"},
			{City: "Philadelphia", State: "PA"},
		},
	}
}

// LoadCatalog reads a catalog from a YAML file
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read catalog file", goerr.V("path", path))
	}

	var catalog Catalog
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return nil, goerr.Wrap(model.ErrInvalidConfig, "failed to parse catalog file",
			goerr.V("path", path), goerr.V("error", err.Error()))
	}

	if err := catalog.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid catalog", goerr.V("path", path))
	}
	return &catalog, nil
}

// Validate checks the catalog can produce records
func (c *Catalog) Validate() error {
	if len(c.Categories) == 0 {
		return goerr.Wrap(model.ErrInvalidConfig, "category table is empty")
	}
	if len(c.Locations) == 0 {
		return goerr.Wrap(model.ErrInvalidConfig, "location table is empty")
	}

	var total float64
	seen := make(map[model.Category]bool)
	for _, spec := range c.Categories {
		if err := spec.Name.Validate(); err != nil {
			return err
		}
		if seen[spec.Name] {
			return goerr.Wrap(model.ErrInvalidConfig, "duplicated category", goerr.V("category", spec.Name))
		}
		seen[spec.Name] = true

		if spec.Weight < 0 {
			return goerr.Wrap(model.ErrInvalidConfig, "category weight must not be negative",
				goerr.V("category", spec.Name), goerr.V("weight", spec.Weight))
		}
		if spec.Weight > 0 && len(spec.Merchants) == 0 {
			return goerr.Wrap(model.ErrInvalidConfig, "merchant table is empty", goerr.V("category", spec.Name))
		}
		total += spec.Weight

		for _, m := range spec.Merchants {
			if m.Name == "" {
				return goerr.Wrap(model.ErrInvalidConfig, "merchant name is empty", goerr.V("category", spec.Name))
			}
			if m.Min <= 0 || m.Min > m.Max {
				return goerr.Wrap(model.ErrInvalidConfig, "invalid merchant price range",
					goerr.V("merchant", m.Name), goerr.V("min", m.Min), goerr.V("max", m.Max))
			}
		}
	}

	if total <= 0 {
		return goerr.Wrap(model.ErrInvalidConfig, "sum of category weights must be positive")
	}

	for _, loc := range c.Locations {
		if loc.City == "" || loc.State == "" {
			return goerr.Wrap(model.ErrInvalidConfig, "location requires city and state",
				goerr.V("city", loc.City), goerr.V("state", loc.State))
		}
	}
	return nil
}

func (c *Catalog) weights() []float64 {
	w := make([]float64, len(c.Categories))
	for i, spec := range c.Categories {
		w[i] = spec.Weight
	}
	return w
}
