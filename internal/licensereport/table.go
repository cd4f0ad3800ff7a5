package licensereport

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tenantlens/tenantlens/internal/report"
)

// Document assembles the render-ready form of the report. The cost column
// only exists when pricing data was supplied.
func (r *Report) Document() report.Document {
	return report.Document{
		Title:       "License Report",
		Tenant:      r.TenantName,
		GeneratedAt: r.GeneratedAt,
		RunID:       r.RunID,
		Table:       r.table(),
		Summary:     r.summary(),
	}
}

func (r *Report) table() report.Table {
	columns := []string{
		"Display Name",
		"User Principal Name",
		"Country",
		"Department",
		"Title",
		"Direct Licenses",
		"Disabled Plans",
		"Group Licenses",
		"License Errors",
	}
	if r.HasPricing {
		columns = append(columns, "Annual Cost ("+r.Currency+")")
	}
	columns = append(columns,
		"Last Sign-In",
		"Days Since Last Sign-In",
		"Created",
		"Last License Change",
		"Status",
		"Duplicate Licenses",
	)

	rows := make([][]string, 0, len(r.Records))
	for _, rec := range r.Records {
		row := []string{
			rec.DisplayName,
			rec.PrincipalName,
			rec.Country,
			rec.Department,
			rec.Title,
			strings.Join(rec.DirectLicenses, ", "),
			strings.Join(rec.DisabledPlans, ", "),
			strings.Join(rec.GroupLicenses, ", "),
			strings.Join(rec.DirectErrors, ", "),
		}
		if r.HasPricing {
			row = append(row, rec.AnnualCostCents.String())
		}
		row = append(row,
			rec.LastSignIn,
			rec.DaysSinceSignIn,
			rec.CreatedDate,
			rec.LastChange,
			rec.Status,
			rec.DuplicateWarning,
		)
		rows = append(rows, row)
	}
	return report.Table{Columns: columns, Rows: rows}
}

func (r *Report) summary() []report.Section {
	t := r.Totals

	overview := report.Section{Title: "Summary"}
	overview.Lines = append(overview.Lines,
		fmt.Sprintf("%d licensed member accounts analyzed.", t.Users))
	overview.Lines = append(overview.Lines,
		fmt.Sprintf("%d accounts (%s) have not signed in recently and should be checked.",
			t.StaleAccounts, percent(t.StaleAccounts, t.Users)))
	overview.Lines = append(overview.Lines,
		fmt.Sprintf("%d accounts have no recorded sign-in.", t.UnknownSignIn))
	overview.Lines = append(overview.Lines,
		fmt.Sprintf("%d accounts hold duplicate license assignments (%d duplicated SKUs in total).",
			t.DuplicateAccounts, t.DuplicateInstances))
	overview.Lines = append(overview.Lines,
		fmt.Sprintf("%d group-based license assignments are in an error state.", t.GroupAssignmentErrors))
	if r.HasPricing {
		overview.Lines = append(overview.Lines,
			"Total annual license cost across all users: "+report.FormatAmount(t.AnnualCostCents, r.Currency)+".")
	}

	usage := report.Section{Title: "SKU Usage"}
	for _, row := range r.SkuUsage {
		line := fmt.Sprintf("%s: %d of %d purchased units in use", row.DisplayName, row.Consumed, row.Purchased)
		if r.HasPricing {
			line += ", annual cost " + report.FormatAmount(row.AnnualCostCents, r.Currency)
		}
		usage.Lines = append(usage.Lines, line+".")
	}

	sections := []report.Section{overview, usage}
	if r.HasPricing {
		sections = append(sections,
			rollupSection("Cost by Department", r.Departments, r.Currency),
			rollupSection("Cost by Country", r.Countries, r.Currency),
		)
	}
	return sections
}

func rollupSection(title string, rows []RollupRow, currency string) report.Section {
	section := report.Section{Title: title}
	for _, row := range rows {
		section.Lines = append(section.Lines, fmt.Sprintf("%s: %d accounts, total %s, average %s.",
			row.Key,
			row.Accounts,
			report.FormatAmount(row.TotalCents, currency),
			report.FormatAmount(row.AvgCents, currency)))
	}
	return section
}

func percent(part, whole int) string {
	if whole == 0 {
		return "0%"
	}
	return strconv.FormatFloat(float64(part)*100/float64(whole), 'f', 1, 64) + "%"
}
