// Package licensereport builds the per-user license and cost report: one
// enriched record per licensed member, plus tenant-wide SKU usage and cost
// rollups.
package licensereport

import (
	"time"

	"github.com/tenantlens/tenantlens/internal/refdata"
)

const (
	// StatusOK and friends are the free-text account statuses the report emits.
	StatusOK            = "OK"
	StatusUnknownSignIn = "Unknown last sign-in"

	// NoDuplicates is the duplicate-warning column value for clean accounts.
	NoDuplicates = "N/A"

	// UnknownDays is the literal emitted when no sign-in timestamp exists.
	UnknownDays = "Unknown"

	timeLayout = "2006-01-02 15:04:05"
)

// UserRecord is one row of the license report. Constructed once per fetched
// user and immutable afterwards; the aggregation passes only read it.
type UserRecord struct {
	DisplayName   string
	PrincipalName string
	Country       string
	Department    string
	Title         string

	DirectLicenses []string
	DisabledPlans  []string
	GroupLicenses  []string
	DirectErrors   []string

	AnnualCostCents refdata.Cents
	UnpricedSkus    []string

	LastSignIn      string
	DaysSinceSignIn string
	CreatedDate     string
	LastChange      string
	Status          string

	DuplicateWarning string
	DuplicateSkus    int

	GroupErrors int

	stale       bool
	unknownSeen bool
}

// SkuUsageRow is one row of the tenant-wide SKU summary.
type SkuUsageRow struct {
	SkuID           string
	DisplayName     string
	Consumed        int
	Purchased       int
	AnnualCostCents refdata.Cents
}

// RollupRow is one department or country cost bucket.
type RollupRow struct {
	Key        string
	Accounts   int
	TotalCents refdata.Cents
	AvgCents   refdata.Cents
}

// Totals are the process-wide accumulators, computed in an explicit pass
// over completed records rather than as enrichment side effects.
type Totals struct {
	Users                 int
	StaleAccounts         int
	UnknownSignIn         int
	DuplicateAccounts     int
	DuplicateInstances    int
	GroupAssignmentErrors int
	AnnualCostCents       refdata.Cents
}

// Report is the complete output of one license-report run.
type Report struct {
	RunID       string
	TenantName  string
	GeneratedAt time.Time
	Currency    string
	HasPricing  bool

	Records     []UserRecord
	SkuUsage    []SkuUsageRow
	Departments []RollupRow
	Countries   []RollupRow
	Totals      Totals
}

func computeTotals(records []UserRecord) Totals {
	var t Totals
	t.Users = len(records)
	for _, rec := range records {
		if rec.stale {
			t.StaleAccounts++
		}
		if rec.unknownSeen {
			t.UnknownSignIn++
		}
		if rec.DuplicateSkus > 0 {
			t.DuplicateAccounts++
			t.DuplicateInstances += rec.DuplicateSkus
		}
		t.GroupAssignmentErrors += rec.GroupErrors
		t.AnnualCostCents += rec.AnnualCostCents
	}
	return t
}
