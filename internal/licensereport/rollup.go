package licensereport

import (
	"sort"

	"github.com/tenantlens/tenantlens/internal/refdata"
)

const (
	noDepartmentKey = "No department"
	noCountryKey    = "No country"
)

// RollupByDepartment groups records by exact department value (blank values
// land in a synthetic bucket) and sums their annual cost.
func RollupByDepartment(records []UserRecord) []RollupRow {
	return rollup(records, func(rec UserRecord) string {
		if rec.Department == "" {
			return noDepartmentKey
		}
		return rec.Department
	})
}

// RollupByCountry does the same for the country attribute.
func RollupByCountry(records []UserRecord) []RollupRow {
	return rollup(records, func(rec UserRecord) string {
		if rec.Country == "" {
			return noCountryKey
		}
		return rec.Country
	})
}

func rollup(records []UserRecord, key func(UserRecord) string) []RollupRow {
	buckets := make(map[string]*RollupRow)
	var order []string
	for _, rec := range records {
		k := key(rec)
		row, ok := buckets[k]
		if !ok {
			row = &RollupRow{Key: k}
			buckets[k] = row
			order = append(order, k)
		}
		row.Accounts++
		row.TotalCents += rec.AnnualCostCents
	}

	out := make([]RollupRow, 0, len(order))
	for _, k := range order {
		row := buckets[k]
		// zero-account buckets cannot arise here, but the average must
		// never divide by zero regardless
		if row.Accounts > 0 {
			row.AvgCents = row.TotalCents / refdata.Cents(row.Accounts)
		}
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalCents != out[j].TotalCents {
			return out[i].TotalCents > out[j].TotalCents
		}
		return out[i].Key < out[j].Key
	})
	return out
}
