package licensereport

import (
	"sort"

	"github.com/tenantlens/tenantlens/internal/graph"
	"github.com/tenantlens/tenantlens/internal/refdata"
)

// SkuUsage summarizes every SKU with nonzero consumed units tenant-wide.
//
// Purchased units are the prepaid enabled count, floored at the consumed
// count: under subscription overage consumed can exceed what was bought, and
// the commitment being paid for is at least what is in use. Annual cost is
// priced on purchased units, not consumed - it reports what the subscription
// costs, not what is actually used.
func SkuUsage(skus []graph.SubscribedSku, refs refdata.Tables) []SkuUsageRow {
	rows := make([]SkuUsageRow, 0, len(skus))
	for _, sku := range skus {
		if sku.ConsumedUnits == 0 {
			continue
		}

		purchased := sku.PrepaidUnits.Enabled
		if purchased < sku.ConsumedUnits {
			purchased = sku.ConsumedUnits
		}

		name := sku.SkuPartNumber
		if resolved, ok := refs.SkuName(sku.SkuID); ok {
			name = resolved
		}

		row := SkuUsageRow{
			SkuID:       sku.SkuID,
			DisplayName: name,
			Consumed:    sku.ConsumedUnits,
			Purchased:   purchased,
		}
		if monthly, ok := refs.Pricing.MonthlyPrice(sku.SkuID); ok {
			row.AnnualCostCents = monthly.Annual() * refdata.Cents(purchased)
		}
		rows = append(rows, row)
	}

	if refs.HasPricing() {
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].AnnualCostCents != rows[j].AnnualCostCents {
				return rows[i].AnnualCostCents > rows[j].AnnualCostCents
			}
			return rows[i].DisplayName < rows[j].DisplayName
		})
	} else {
		sort.Slice(rows, func(i, j int) bool {
			return rows[i].DisplayName > rows[j].DisplayName
		})
	}
	return rows
}
