package licensereport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tenantlens/tenantlens/internal/graph"
	"github.com/tenantlens/tenantlens/internal/refdata"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

const (
	skuE3    = "05e9a617-0261-4cee-bb44-138d3ef5d965"
	skuE5    = "c7df2760-2c81-4ef7-b578-5b5392b571df"
	planExch = "efb87545-963c-4e0d-99df-69c6916d9eb0"
	groupFin = "11111111-1111-1111-1111-111111111111"
)

type fakeDirectory struct {
	groups map[string]string
	err    error
	calls  int
}

func (f *fakeDirectory) GetGroup(_ context.Context, groupID string) (graph.Group, error) {
	f.calls++
	if f.err != nil {
		return graph.Group{}, f.err
	}
	name, ok := f.groups[groupID]
	if !ok {
		return graph.Group{}, errors.New("not found")
	}
	return graph.Group{ID: groupID, DisplayName: name}, nil
}

func testTables(t *testing.T, withPricing bool) refdata.Tables {
	t.Helper()
	priceHeader := ""
	priceE3 := ""
	if withPricing {
		priceHeader = ",Price,Currency"
		priceE3 = ",16.40,EUR"
	}
	skuPath := writeFile(t, "skus.csv", fmt.Sprintf("GUID,Product_Display_Name%s\n%s,Microsoft 365 E3%s\n", priceHeader, skuE3, priceE3))
	planPath := writeFile(t, "plans.csv", fmt.Sprintf("GUID,Service_Plan_Friendly_Name\n%s,Exchange Online (Plan 2)\n", planExch))
	tables, err := refdata.Load(skuPath, planPath, "USD")
	if err != nil {
		t.Fatalf("refdata.Load: %v", err)
	}
	return tables
}

func testEnricher(t *testing.T, withPricing bool) (*Enricher, *fakeDirectory) {
	t.Helper()
	dir := &fakeDirectory{groups: map[string]string{groupFin: "Finance Team"}}
	return &Enricher{
		Refs:           testTables(t, withPricing),
		Directory:      dir,
		Now:            time.Date(2026, time.August, 31, 12, 0, 0, 0, time.UTC),
		StaleAfterDays: 60,
	}, dir
}

func TestEnrich_AssignmentPartition(t *testing.T) {
	t.Parallel()

	e, dir := testEnricher(t, false)
	user := graph.User{
		DisplayName:       "Ada Lovelace",
		UserPrincipalName: "ada@contoso.com",
		LicenseAssignmentStates: []graph.LicenseAssignmentState{
			{SkuID: skuE3, State: "Active", LastUpdatedRaw: "2026-02-01T00:00:00Z"},
			{SkuID: skuE3, AssignedByGroup: groupFin, State: "Active", LastUpdatedRaw: "2026-03-01T00:00:00Z"},
			{SkuID: skuE5, AssignedByGroup: groupFin, State: "Error", Error: "CountViolation", LastUpdatedRaw: "2026-01-01T00:00:00Z"},
		},
	}
	rec := e.Enrich(context.Background(), user)

	if len(rec.DirectLicenses) != 1 || rec.DirectLicenses[0] != "Microsoft 365 E3" {
		t.Fatalf("DirectLicenses = %v", rec.DirectLicenses)
	}
	if len(rec.GroupLicenses) != 2 {
		t.Fatalf("GroupLicenses = %v", rec.GroupLicenses)
	}
	if rec.GroupLicenses[0] != "Microsoft 365 E3 assigned from Finance Team" {
		t.Fatalf("GroupLicenses[0] = %q", rec.GroupLicenses[0])
	}
	// unknown SKU falls back to the raw id
	if want := skuE5 + " assigned from Finance Team BUT ERROR CountViolation!"; rec.GroupLicenses[1] != want {
		t.Fatalf("GroupLicenses[1] = %q, want %q", rec.GroupLicenses[1], want)
	}
	if rec.GroupErrors != 1 {
		t.Fatalf("GroupErrors = %d, want 1", rec.GroupErrors)
	}
	if rec.LastChange != "2026-03-01 00:00:00" {
		t.Fatalf("LastChange = %q", rec.LastChange)
	}
	if dir.calls != 2 {
		t.Fatalf("directory calls = %d, want 2 (one per group entry, no caching)", dir.calls)
	}
}

func TestEnrich_DirectErrorColumn(t *testing.T) {
	t.Parallel()

	e, _ := testEnricher(t, false)
	rec := e.Enrich(context.Background(), graph.User{
		LicenseAssignmentStates: []graph.LicenseAssignmentState{
			{SkuID: skuE3, State: "Error", Error: "MutuallyExclusiveViolation"},
		},
	})
	if len(rec.DirectErrors) != 1 {
		t.Fatalf("DirectErrors = %v", rec.DirectErrors)
	}
	if want := "Microsoft 365 E3 in Error state: MutuallyExclusiveViolation"; rec.DirectErrors[0] != want {
		t.Fatalf("DirectErrors[0] = %q, want %q", rec.DirectErrors[0], want)
	}
	if len(rec.DirectLicenses) != 0 {
		t.Fatalf("DirectLicenses = %v, want empty", rec.DirectLicenses)
	}
}

func TestEnrich_GroupLookupFailureFallsBackToRawID(t *testing.T) {
	t.Parallel()

	e, dir := testEnricher(t, false)
	dir.err = errors.New("graph api failed: 503")

	rec := e.Enrich(context.Background(), graph.User{
		LicenseAssignmentStates: []graph.LicenseAssignmentState{
			{SkuID: skuE3, AssignedByGroup: groupFin, State: "Active"},
		},
	})
	if want := "Microsoft 365 E3 assigned from " + groupFin; rec.GroupLicenses[0] != want {
		t.Fatalf("GroupLicenses[0] = %q, want %q", rec.GroupLicenses[0], want)
	}
}

func TestEnrich_DisabledPlans(t *testing.T) {
	t.Parallel()

	e, _ := testEnricher(t, false)
	rec := e.Enrich(context.Background(), graph.User{
		AssignedLicenses: []graph.AssignedLicense{
			{SkuID: skuE3, DisabledPlans: []string{planExch, "deadbeef-0000-0000-0000-000000000000"}},
		},
	})
	if len(rec.DisabledPlans) != 2 {
		t.Fatalf("DisabledPlans = %v", rec.DisabledPlans)
	}
	if rec.DisabledPlans[0] != "Exchange Online (Plan 2)" {
		t.Fatalf("DisabledPlans[0] = %q", rec.DisabledPlans[0])
	}
	if rec.DisabledPlans[1] != "deadbeef-0000-0000-0000-000000000000" {
		t.Fatalf("DisabledPlans[1] = %q, want raw id fallback", rec.DisabledPlans[1])
	}
}

func TestEnrich_SignInRecency(t *testing.T) {
	t.Parallel()

	e, _ := testEnricher(t, false)

	cases := []struct {
		name       string
		activity   *graph.SignInActivity
		wantDays   string
		wantStatus string
	}{
		{
			name:       "both absent",
			activity:   nil,
			wantDays:   "Unknown",
			wantStatus: StatusUnknownSignIn,
		},
		{
			name:       "recent interactive",
			activity:   &graph.SignInActivity{LastSignInRaw: "2026-08-30T12:00:00Z"},
			wantDays:   "1",
			wantStatus: StatusOK,
		},
		{
			name: "later non-interactive wins",
			activity: &graph.SignInActivity{
				LastSignInRaw:               "2026-05-01T12:00:00Z",
				LastNonInteractiveSignInRaw: "2026-08-29T12:00:00Z",
			},
			wantDays:   "2",
			wantStatus: StatusOK,
		},
		{
			name:       "stale over threshold",
			activity:   &graph.SignInActivity{LastSignInRaw: "2026-05-01T12:00:00Z"},
			wantDays:   "122",
			wantStatus: "Account unused for 122 days - check!",
		},
		{
			name:       "exactly at threshold is OK",
			activity:   &graph.SignInActivity{LastSignInRaw: "2026-07-02T12:00:00Z"},
			wantDays:   "60",
			wantStatus: StatusOK,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := e.Enrich(context.Background(), graph.User{SignInActivity: tc.activity})
			if rec.DaysSinceSignIn != tc.wantDays {
				t.Fatalf("DaysSinceSignIn = %q, want %q", rec.DaysSinceSignIn, tc.wantDays)
			}
			if rec.Status != tc.wantStatus {
				t.Fatalf("Status = %q, want %q", rec.Status, tc.wantStatus)
			}
		})
	}
}

func TestEnrich_AnnualCost(t *testing.T) {
	t.Parallel()

	e, _ := testEnricher(t, true)
	rec := e.Enrich(context.Background(), graph.User{
		AssignedLicenses: []graph.AssignedLicense{{SkuID: skuE3}},
	})
	// 16.40/month in integer cents: 1640 * 12 = 19680
	if rec.AnnualCostCents != 19680 {
		t.Fatalf("AnnualCostCents = %d, want 19680", rec.AnnualCostCents)
	}
	if rec.AnnualCostCents.String() != "196.80" {
		t.Fatalf("cost = %q, want 196.80", rec.AnnualCostCents.String())
	}
}

func TestEnrich_UnpricedSkuCountsZero(t *testing.T) {
	t.Parallel()

	e, _ := testEnricher(t, true)
	rec := e.Enrich(context.Background(), graph.User{
		AssignedLicenses: []graph.AssignedLicense{{SkuID: skuE5}},
	})
	if rec.AnnualCostCents != 0 {
		t.Fatalf("AnnualCostCents = %d, want 0", rec.AnnualCostCents)
	}
	if len(rec.UnpricedSkus) != 1 {
		t.Fatalf("UnpricedSkus = %v, want one entry", rec.UnpricedSkus)
	}
}

func TestDetectDuplicates(t *testing.T) {
	t.Parallel()

	refs := testTables(t, false)

	warning, count := DetectDuplicates([]graph.LicenseAssignmentState{
		{SkuID: skuE3, State: "Active"},
		{SkuID: skuE3, AssignedByGroup: groupFin, State: "Active"},
	}, refs)
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
	if warning == NoDuplicates {
		t.Fatal("expected a duplicate warning")
	}
	if want := "Duplicate license assignment: Microsoft 365 E3"; warning != want {
		t.Fatalf("warning = %q, want %q", warning, want)
	}
}

func TestDetectDuplicates_ErrorEntriesDoNotCount(t *testing.T) {
	t.Parallel()

	refs := testTables(t, false)
	warning, count := DetectDuplicates([]graph.LicenseAssignmentState{
		{SkuID: skuE3, State: "Active"},
		{SkuID: skuE3, AssignedByGroup: groupFin, State: "Error", Error: "CountViolation"},
	}, refs)
	if warning != NoDuplicates || count != 0 {
		t.Fatalf("got %q, %d; want %q, 0", warning, count, NoDuplicates)
	}
}

func TestDetectDuplicates_SameSkuViaTwoGroups(t *testing.T) {
	t.Parallel()

	refs := testTables(t, false)
	_, count := DetectDuplicates([]graph.LicenseAssignmentState{
		{SkuID: skuE3, AssignedByGroup: groupFin, State: "Active"},
		{SkuID: skuE3, AssignedByGroup: "22222222-2222-2222-2222-222222222222", State: "Active"},
	}, refs)
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}
