// Package refdata loads the local reference tables the license report joins
// against: SKU id to product display name, service-plan id to friendly name,
// and optional per-SKU monthly pricing.
package refdata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Cents is a currency amount in integer cents. Prices are parsed straight
// into cents so repeated accumulation never drifts the way float math does
// on sub-cent fractions.
type Cents int64

// Annual returns twelve months of a monthly amount.
func (c Cents) Annual() Cents {
	return c * 12
}

// String renders the amount in major units with two decimals, e.g. "196.80".
func (c Cents) String() string {
	neg := ""
	v := int64(c)
	if v < 0 {
		neg = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", neg, v/100, v%100)
}

// PricingTable maps SKU ids to monthly unit prices, with one process-wide
// currency code. Read-only after load.
type PricingTable struct {
	monthly  map[string]Cents
	Currency string
}

func NewPricingTable(monthly map[string]Cents, currency string) *PricingTable {
	normalized := make(map[string]Cents, len(monthly))
	for id, price := range monthly {
		normalized[normalizeID(id)] = price
	}
	return &PricingTable{monthly: normalized, Currency: strings.ToUpper(strings.TrimSpace(currency))}
}

// MonthlyPrice returns the monthly unit price for a SKU. The ok result is
// false for SKUs the table does not price; callers substitute zero cost.
func (p *PricingTable) MonthlyPrice(skuID string) (Cents, bool) {
	if p == nil {
		return 0, false
	}
	price, ok := p.monthly[normalizeID(skuID)]
	return price, ok
}

func (p *PricingTable) Len() int {
	if p == nil {
		return 0
	}
	return len(p.monthly)
}

// Tables bundles both reference tables plus pricing, when supplied.
type Tables struct {
	skuNames  map[string]string
	planNames map[string]string
	Pricing   *PricingTable
}

// SkuName resolves a SKU id to its display name. ok is false when the id is
// not in the table; callers fall back to the raw id.
func (t Tables) SkuName(skuID string) (string, bool) {
	name, ok := t.skuNames[normalizeID(skuID)]
	return name, ok
}

// PlanName resolves a service-plan id to its friendly name.
func (t Tables) PlanName(planID string) (string, bool) {
	name, ok := t.planNames[normalizeID(planID)]
	return name, ok
}

// HasPricing reports whether the SKU table carried any price data. Cost
// columns and rollups are omitted from the report without it.
func (t Tables) HasPricing() bool {
	return t.Pricing.Len() > 0
}

// Load reads both reference tables. A missing or malformed file is a fatal
// precondition: the report never runs with partial reference data.
func Load(skuPath, planPath, defaultCurrency string) (Tables, error) {
	skuNames, pricing, err := loadSkuTable(skuPath, defaultCurrency)
	if err != nil {
		return Tables{}, fmt.Errorf("sku table %s: %w", skuPath, err)
	}
	planNames, err := loadPlanTable(planPath)
	if err != nil {
		return Tables{}, fmt.Errorf("plan table %s: %w", planPath, err)
	}
	return Tables{skuNames: skuNames, planNames: planNames, Pricing: pricing}, nil
}

func loadSkuTable(path, defaultCurrency string) (map[string]string, *PricingTable, error) {
	rows, header, err := readCSV(path)
	if err != nil {
		return nil, nil, err
	}

	idCol, ok := findColumn(header, "GUID", "SkuId")
	if !ok {
		return nil, nil, errors.New("missing GUID column")
	}
	nameCol, ok := findColumn(header, "Product_Display_Name", "DisplayName")
	if !ok {
		return nil, nil, errors.New("missing Product_Display_Name column")
	}
	priceCol, hasPriceCol := findColumn(header, "Price")
	currencyCol, hasCurrencyCol := findColumn(header, "Currency")

	names := make(map[string]string, len(rows))
	monthly := make(map[string]Cents)
	currency := defaultCurrency

	for i, row := range rows {
		id := normalizeID(cell(row, idCol))
		name := strings.TrimSpace(cell(row, nameCol))
		if id == "" || name == "" {
			continue
		}
		names[id] = name

		if hasPriceCol {
			raw := strings.TrimSpace(cell(row, priceCol))
			if raw == "" {
				continue
			}
			price, err := ParseCents(raw)
			if err != nil {
				return nil, nil, fmt.Errorf("row %d: price %q: %w", i+2, raw, err)
			}
			monthly[id] = price
		}
		if hasCurrencyCol {
			if v := strings.TrimSpace(cell(row, currencyCol)); v != "" && currency == defaultCurrency {
				currency = v
			}
		}
	}

	return names, NewPricingTable(monthly, currency), nil
}

func loadPlanTable(path string) (map[string]string, error) {
	rows, header, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	idCol, ok := findColumn(header, "GUID", "ServicePlanId")
	if !ok {
		return nil, errors.New("missing GUID column")
	}
	nameCol, ok := findColumn(header, "Service_Plan_Friendly_Name", "Service_Plans_Included_Friendly_Names")
	if !ok {
		return nil, errors.New("missing Service_Plan_Friendly_Name column")
	}

	names := make(map[string]string, len(rows))
	for _, row := range rows {
		id := normalizeID(cell(row, idCol))
		name := strings.TrimSpace(cell(row, nameCol))
		if id == "" || name == "" {
			continue
		}
		names[id] = name
	}
	return names, nil
}

func readCSV(path string) ([][]string, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, errors.New("empty file")
		}
		return nil, nil, err
	}

	var rows [][]string
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, row)
	}
	return rows, header, nil
}

func findColumn(header []string, candidates ...string) (int, bool) {
	for _, want := range candidates {
		for i, name := range header {
			if strings.EqualFold(strings.TrimSpace(name), want) {
				return i, true
			}
		}
	}
	return 0, false
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}

// ParseCents parses a decimal currency amount ("16.40", "16.4", "16") into
// integer cents. A lone comma is accepted as the decimal separator.
func ParseCents(raw string) (Cents, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, errors.New("empty amount")
	}
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	var cents Cents
	for _, r := range whole {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid amount %q", raw)
		}
		cents = cents*10 + Cents(r-'0')
	}
	cents *= 100

	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has sub-cent precision", raw)
	}
	mult := Cents(10)
	for _, r := range frac {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid amount %q", raw)
		}
		cents += Cents(r-'0') * mult
		mult /= 10
	}
	return cents, nil
}

func normalizeID(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
