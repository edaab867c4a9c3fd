package commission

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

//go:embed rates.yaml
var defaultRates []byte

const maxBasisPoints domain.BasisPoints = 10_000

type RoleRates struct {
	AccountKind domain.AccountKind            `yaml:"account_kind"`
	Commission  domain.BasisPoints            `yaml:"commission_bps"`
	Tax         domain.BasisPoints            `yaml:"tax_bps"`
	Categories  map[string]domain.BasisPoints `yaml:"categories"`
}

type Table struct {
	Roles map[string]RoleRates `yaml:"roles"`
}

// Rates is the resolved rate set for one role and category.
type Rates struct {
	AccountKind domain.AccountKind
	Commission  domain.BasisPoints
	Tax         domain.BasisPoints
}

func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("Parse: %w", err)
	}
	if len(t.Roles) == 0 {
		return nil, fmt.Errorf("Parse: no roles defined: %w", domain.ErrInvalidRequest)
	}
	for role, r := range t.Roles {
		if !r.AccountKind.IsValid() {
			return nil, fmt.Errorf("Parse: role %s: account kind %q: %w", role, r.AccountKind, domain.ErrInvalidRequest)
		}
		if !validRate(r.Commission) || !validRate(r.Tax) {
			return nil, fmt.Errorf("Parse: role %s: rate out of range: %w", role, domain.ErrInvalidRequest)
		}
		for cat, bps := range r.Categories {
			if !validRate(bps) {
				return nil, fmt.Errorf("Parse: role %s category %s: rate out of range: %w", role, cat, domain.ErrInvalidRequest)
			}
		}
	}
	return &t, nil
}

func validRate(b domain.BasisPoints) bool {
	return b >= 0 && b <= maxBasisPoints
}

// Default returns the table compiled into the binary.
func Default() *Table {
	t, err := Parse(defaultRates)
	if err != nil {
		panic(fmt.Sprintf("embedded commission table: %v", err))
	}
	return t
}

// Load reads a table from path, or returns the default table when path is empty.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("Load %s: %w", path, err)
	}
	return t, nil
}

func (t *Table) Lookup(role, category string) (Rates, error) {
	r, ok := t.Roles[role]
	if !ok {
		return Rates{}, fmt.Errorf("Lookup: unknown role %q: %w", role, domain.ErrInvalidRequest)
	}
	rates := Rates{AccountKind: r.AccountKind, Commission: r.Commission, Tax: r.Tax}
	if bps, ok := r.Categories[category]; ok {
		rates.Commission = bps
	}
	return rates, nil
}

func (t *Table) RoleNames() []string {
	names := make([]string, 0, len(t.Roles))
	for name := range t.Roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
