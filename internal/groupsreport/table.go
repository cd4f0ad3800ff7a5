package groupsreport

import (
	"fmt"
	"strconv"

	"github.com/tenantlens/tenantlens/internal/report"
)

// Document assembles the render-ready form of the report.
func (r *Report) Document() report.Document {
	return report.Document{
		Title:       "Groups and Teams Activity Report",
		Tenant:      r.TenantName,
		GeneratedAt: r.GeneratedAt,
		RunID:       r.RunID,
		Table:       r.table(),
		Summary:     r.summary(),
	}
}

func (r *Report) table() report.Table {
	columns := []string{
		"Group Name",
		"Manager",
		"Members",
		"External Guests",
		"Description",
		"Mailbox Status",
		"Teams Enabled",
		"Last Teams Chat",
		"Teams Chat Count",
		"Last Conversation",
		"Conversation Count",
		"SPO Activity",
		"Storage Used (GB)",
		"SPO Status",
		"Created",
		"Age (Days)",
		"Warnings",
		"Status",
	}

	rows := make([][]string, 0, len(r.Records))
	for _, rec := range r.Records {
		rows = append(rows, []string{
			rec.Name,
			rec.Manager,
			strconv.Itoa(rec.Members),
			strconv.Itoa(rec.ExternalGuests),
			rec.Description,
			rec.MailboxStatus,
			yesNo(rec.TeamsEnabled),
			rec.LastTeamsChat,
			strconv.Itoa(rec.TeamsChatCount),
			rec.LastConversation,
			strconv.Itoa(rec.ConversationCount),
			rec.SPOActivity,
			strconv.FormatFloat(rec.StorageGB, 'f', 2, 64),
			rec.SPOStatus,
			rec.Created,
			strconv.Itoa(rec.AgeDays),
			strconv.Itoa(rec.Warnings),
			rec.Status,
		})
	}
	return report.Table{Columns: columns, Rows: rows}
}

func (r *Report) summary() []report.Section {
	t := r.Totals

	overview := report.Section{Title: "Summary"}
	overview.Lines = append(overview.Lines,
		fmt.Sprintf("%d Microsoft 365 groups analyzed, %d of them Teams-enabled.", t.Groups, t.TeamsEnabled))
	overview.Lines = append(overview.Lines,
		fmt.Sprintf("%d groups (%s) show normal activity.", t.Passing, percentOf(t.Passing, t.Groups)))
	overview.Lines = append(overview.Lines,
		fmt.Sprintf("%d groups (%s) raised one warning and should be reviewed.", t.Warning, percentOf(t.Warning, t.Groups)))
	overview.Lines = append(overview.Lines,
		fmt.Sprintf("%d groups (%s) raised multiple warnings and are deprovisioning candidates.", t.Failing, percentOf(t.Failing, t.Groups)))

	return []report.Section{overview}
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func percentOf(part, whole int) string {
	if whole == 0 {
		return "0%"
	}
	return strconv.FormatFloat(float64(part)*100/float64(whole), 'f', 1, 64) + "%"
}
