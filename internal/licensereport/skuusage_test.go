package licensereport

import (
	"testing"

	"github.com/tenantlens/tenantlens/internal/graph"
	"github.com/tenantlens/tenantlens/internal/refdata"
)

func TestSkuUsage_PurchasedFloorsAtConsumed(t *testing.T) {
	t.Parallel()

	refs := testTables(t, true)
	rows := SkuUsage([]graph.SubscribedSku{
		{SkuID: skuE3, SkuPartNumber: "SPE_E3", ConsumedUnits: 50, PrepaidUnits: graph.PrepaidUnits{Enabled: 40}},
	}, refs)
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
	if rows[0].Purchased != 50 {
		t.Fatalf("Purchased = %d, want 50 (consumed floor)", rows[0].Purchased)
	}
	// 16.40 * 12 * 50 purchased units
	if rows[0].AnnualCostCents != 984000 {
		t.Fatalf("AnnualCostCents = %d, want 984000", rows[0].AnnualCostCents)
	}
}

func TestSkuUsage_PurchasedUsesEnabledWhenHigher(t *testing.T) {
	t.Parallel()

	refs := testTables(t, true)
	rows := SkuUsage([]graph.SubscribedSku{
		{SkuID: skuE3, ConsumedUnits: 30, PrepaidUnits: graph.PrepaidUnits{Enabled: 40}},
	}, refs)
	if rows[0].Purchased != 40 {
		t.Fatalf("Purchased = %d, want 40", rows[0].Purchased)
	}
}

func TestSkuUsage_SkipsUnconsumedSkus(t *testing.T) {
	t.Parallel()

	refs := testTables(t, false)
	rows := SkuUsage([]graph.SubscribedSku{
		{SkuID: skuE3, ConsumedUnits: 0, PrepaidUnits: graph.PrepaidUnits{Enabled: 10}},
	}, refs)
	if len(rows) != 0 {
		t.Fatalf("len(rows) = %d, want 0", len(rows))
	}
}

func TestSkuUsage_SortByCostWithPricing(t *testing.T) {
	t.Parallel()

	refs := testTables(t, true)
	rows := SkuUsage([]graph.SubscribedSku{
		{SkuID: skuE5, SkuPartNumber: "ENTERPRISEPREMIUM", ConsumedUnits: 100, PrepaidUnits: graph.PrepaidUnits{Enabled: 100}},
		{SkuID: skuE3, SkuPartNumber: "SPE_E3", ConsumedUnits: 10, PrepaidUnits: graph.PrepaidUnits{Enabled: 10}},
	}, refs)
	// E5 has no price so it costs 0; the priced E3 sorts first.
	if rows[0].SkuID != skuE3 {
		t.Fatalf("rows[0].SkuID = %s, want %s", rows[0].SkuID, skuE3)
	}
	// unknown SKU keeps its part number as its display name
	if rows[1].DisplayName != "ENTERPRISEPREMIUM" {
		t.Fatalf("rows[1].DisplayName = %q, want ENTERPRISEPREMIUM", rows[1].DisplayName)
	}
}

func TestSkuUsage_SortByNameWithoutPricing(t *testing.T) {
	t.Parallel()

	refs := testTables(t, false)
	rows := SkuUsage([]graph.SubscribedSku{
		{SkuID: skuE3, ConsumedUnits: 10, PrepaidUnits: graph.PrepaidUnits{Enabled: 10}},
		{SkuID: skuE5, SkuPartNumber: "ZULU_SKU", ConsumedUnits: 5, PrepaidUnits: graph.PrepaidUnits{Enabled: 5}},
	}, refs)
	if rows[0].DisplayName != "ZULU_SKU" {
		t.Fatalf("rows[0].DisplayName = %q, want descending name order", rows[0].DisplayName)
	}
}

func TestRollup_Buckets(t *testing.T) {
	t.Parallel()

	records := []UserRecord{
		{Department: "Engineering", Country: "DE", AnnualCostCents: refdata.Cents(10000)},
		{Department: "Engineering", Country: "DE", AnnualCostCents: refdata.Cents(20000)},
		{Department: "", Country: "", AnnualCostCents: refdata.Cents(5000)},
	}

	depts := RollupByDepartment(records)
	if len(depts) != 2 {
		t.Fatalf("len(depts) = %d, want 2", len(depts))
	}
	if depts[0].Key != "Engineering" || depts[0].Accounts != 2 {
		t.Fatalf("depts[0] = %+v", depts[0])
	}
	if depts[0].TotalCents != 30000 || depts[0].AvgCents != 15000 {
		t.Fatalf("depts[0] totals = %d avg %d", depts[0].TotalCents, depts[0].AvgCents)
	}
	if depts[1].Key != "No department" || depts[1].Accounts != 1 {
		t.Fatalf("depts[1] = %+v", depts[1])
	}

	countries := RollupByCountry(records)
	if countries[1].Key != "No country" {
		t.Fatalf("countries[1].Key = %q", countries[1].Key)
	}
}

func TestRollup_ExactMatchGrouping(t *testing.T) {
	t.Parallel()

	// "Sales" must not absorb "Sales EMEA": grouping is exact, not substring.
	records := []UserRecord{
		{Department: "Sales"},
		{Department: "Sales EMEA"},
	}
	depts := RollupByDepartment(records)
	if len(depts) != 2 {
		t.Fatalf("len(depts) = %d, want 2 distinct buckets", len(depts))
	}
}

func TestRollup_EmptyInput(t *testing.T) {
	t.Parallel()

	if rows := RollupByDepartment(nil); len(rows) != 0 {
		t.Fatalf("rows = %v, want empty", rows)
	}
}

func TestComputeTotals(t *testing.T) {
	t.Parallel()

	records := []UserRecord{
		{stale: true, DuplicateSkus: 2, GroupErrors: 1, AnnualCostCents: 100},
		{unknownSeen: true, AnnualCostCents: 50},
		{DuplicateSkus: 1},
	}
	totals := computeTotals(records)
	if totals.Users != 3 {
		t.Fatalf("Users = %d, want 3", totals.Users)
	}
	if totals.StaleAccounts != 1 || totals.UnknownSignIn != 1 {
		t.Fatalf("stale/unknown = %d/%d", totals.StaleAccounts, totals.UnknownSignIn)
	}
	// two accounts with duplicates, three duplicated SKUs in total
	if totals.DuplicateAccounts != 2 || totals.DuplicateInstances != 3 {
		t.Fatalf("duplicates = %d accounts / %d instances", totals.DuplicateAccounts, totals.DuplicateInstances)
	}
	if totals.GroupAssignmentErrors != 1 {
		t.Fatalf("GroupAssignmentErrors = %d", totals.GroupAssignmentErrors)
	}
	if totals.AnnualCostCents != 150 {
		t.Fatalf("AnnualCostCents = %d, want 150", totals.AnnualCostCents)
	}
}
