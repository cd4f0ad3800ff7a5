package licensereport

import (
	"sort"
	"strings"

	"github.com/tenantlens/tenantlens/internal/graph"
	"github.com/tenantlens/tenantlens/internal/refdata"
)

// DetectDuplicates flags SKUs a user holds through more than one active
// assignment: direct plus group, or the same SKU inherited via two
// different groups. Holding a SKU twice is a valid directory state, not an
// error, but it usually means money is being wasted.
//
// Returns the human-readable warning for the report row (NoDuplicates when
// clean) and the number of duplicated SKUs.
func DetectDuplicates(states []graph.LicenseAssignmentState, refs refdata.Tables) (string, int) {
	assignments := make(map[string]int)
	for _, state := range states {
		if !strings.EqualFold(strings.TrimSpace(state.State), "Active") {
			continue
		}
		sku := strings.ToLower(strings.TrimSpace(state.SkuID))
		if sku == "" {
			continue
		}
		assignments[sku]++
	}

	var duplicated []string
	for sku, count := range assignments {
		if count < 2 {
			continue
		}
		name := sku
		if resolved, ok := refs.SkuName(sku); ok {
			name = resolved
		}
		duplicated = append(duplicated, name)
	}
	if len(duplicated) == 0 {
		return NoDuplicates, 0
	}
	sort.Strings(duplicated)
	return "Duplicate license assignment: " + strings.Join(duplicated, ", "), len(duplicated)
}
