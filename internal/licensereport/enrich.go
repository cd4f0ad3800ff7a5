package licensereport

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/tenantlens/tenantlens/internal/graph"
	"github.com/tenantlens/tenantlens/internal/metrics"
	"github.com/tenantlens/tenantlens/internal/refdata"
)

// DirectoryService resolves the source group of a group-based assignment.
type DirectoryService interface {
	GetGroup(ctx context.Context, groupID string) (graph.Group, error)
}

// Enricher joins one fetched user against the reference tables and derived
// signals to produce one UserRecord. Lookup failures never escape a record:
// they substitute the raw identifier or a zero cost and are logged.
type Enricher struct {
	Refs      refdata.Tables
	Directory DirectoryService

	// Now is captured once at process start so day counts are consistent
	// across every record of a run.
	Now            time.Time
	StaleAfterDays int

	Logger *slog.Logger
}

func (e *Enricher) Enrich(ctx context.Context, u graph.User) UserRecord {
	rec := UserRecord{
		DisplayName:   u.DisplayName,
		PrincipalName: u.UserPrincipalName,
		Country:       strings.TrimSpace(u.Country),
		Department:    strings.TrimSpace(u.Department),
		Title:         u.JobTitle,
	}

	if created, ok := graph.ParseTime(u.CreatedDateTimeRaw); ok {
		rec.CreatedDate = created.Format(timeLayout)
	}

	e.joinAssignments(ctx, u, &rec)
	e.joinDisabledPlans(u, &rec)
	e.signInRecency(u, &rec)
	e.annualCost(u, &rec)

	rec.DuplicateWarning, rec.DuplicateSkus = DetectDuplicates(u.LicenseAssignmentStates, e.Refs)

	return rec
}

// joinAssignments partitions the assignment-state list by (source group
// present?) x (state), resolving SKU and group names as it goes.
func (e *Enricher) joinAssignments(ctx context.Context, u graph.User, rec *UserRecord) {
	var lastChange time.Time

	for _, state := range u.LicenseAssignmentStates {
		if updated, ok := graph.ParseTime(state.LastUpdatedRaw); ok && updated.After(lastChange) {
			lastChange = updated
		}

		skuName := e.skuName(state.SkuID)
		fromGroup := strings.TrimSpace(state.AssignedByGroup) != ""
		active := strings.EqualFold(strings.TrimSpace(state.State), "Active")

		switch {
		case fromGroup && active:
			rec.GroupLicenses = append(rec.GroupLicenses,
				skuName+" assigned from "+e.groupName(ctx, state.AssignedByGroup))
		case fromGroup && !active:
			rec.GroupLicenses = append(rec.GroupLicenses,
				skuName+" assigned from "+e.groupName(ctx, state.AssignedByGroup)+" BUT ERROR "+state.Error+"!")
			rec.GroupErrors++
		case active:
			rec.DirectLicenses = append(rec.DirectLicenses, skuName)
		default:
			rec.DirectErrors = append(rec.DirectErrors, skuName+" in "+state.State+" state: "+state.Error)
		}
	}

	if !lastChange.IsZero() {
		rec.LastChange = lastChange.Format(timeLayout)
	}
}

func (e *Enricher) joinDisabledPlans(u graph.User, rec *UserRecord) {
	for _, lic := range u.AssignedLicenses {
		for _, planID := range lic.DisabledPlans {
			if name, ok := e.Refs.PlanName(planID); ok {
				rec.DisabledPlans = append(rec.DisabledPlans, name)
				continue
			}
			metrics.LookupFailures.WithLabelValues("plan_name").Inc()
			rec.DisabledPlans = append(rec.DisabledPlans, planID)
		}
	}
}

// signInRecency derives the sign-in columns from the later of the
// interactive and non-interactive timestamps.
func (e *Enricher) signInRecency(u graph.User, rec *UserRecord) {
	var last time.Time
	if u.SignInActivity != nil {
		if t, ok := graph.ParseTime(u.SignInActivity.LastSignInRaw); ok {
			last = t
		}
		if t, ok := graph.ParseTime(u.SignInActivity.LastNonInteractiveSignInRaw); ok && t.After(last) {
			last = t
		}
	}

	if last.IsZero() {
		rec.LastSignIn = "unknown"
		rec.DaysSinceSignIn = UnknownDays
		rec.Status = StatusUnknownSignIn
		rec.unknownSeen = true
		return
	}

	days := int(e.Now.Sub(last).Hours() / 24)
	if days < 0 {
		days = 0
	}
	rec.LastSignIn = last.Format(timeLayout)
	rec.DaysSinceSignIn = strconv.Itoa(days)
	if days > e.StaleAfterDays {
		rec.Status = "Account unused for " + strconv.Itoa(days) + " days - check!"
		rec.stale = true
		return
	}
	rec.Status = StatusOK
}

// annualCost sums twelve months of every assigned SKU's unit price in
// integer cents. SKUs absent from the pricing table contribute zero and are
// recorded so the run can warn without aborting.
func (e *Enricher) annualCost(u graph.User, rec *UserRecord) {
	if !e.Refs.HasPricing() {
		return
	}
	for _, lic := range u.AssignedLicenses {
		monthly, ok := e.Refs.Pricing.MonthlyPrice(lic.SkuID)
		if !ok {
			metrics.LookupFailures.WithLabelValues("sku_price").Inc()
			rec.UnpricedSkus = append(rec.UnpricedSkus, e.skuName(lic.SkuID))
			e.logger().Warn("no price for sku, counting 0",
				"sku", lic.SkuID, "user", u.UserPrincipalName)
			continue
		}
		rec.AnnualCostCents += monthly.Annual()
	}
}

func (e *Enricher) skuName(skuID string) string {
	if name, ok := e.Refs.SkuName(skuID); ok {
		return name
	}
	metrics.LookupFailures.WithLabelValues("sku_name").Inc()
	return skuID
}

func (e *Enricher) groupName(ctx context.Context, groupID string) string {
	g, err := e.Directory.GetGroup(ctx, groupID)
	if err != nil || strings.TrimSpace(g.DisplayName) == "" {
		metrics.LookupFailures.WithLabelValues("group_name").Inc()
		if err != nil {
			e.logger().Warn("group lookup failed, using raw id", "group", groupID, "error", err)
		}
		return groupID
	}
	return g.DisplayName
}

func (e *Enricher) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
