// Package groupsreport builds the Microsoft 365 groups/teams activity
// report: one record per unified group with mailbox, Teams, and document
// library activity signals, classified to flag deprovisioning candidates.
package groupsreport

import (
	"time"
)

const (
	StatusPass    = "Pass"
	StatusWarning = "Warning"
	StatusFail    = "Fail"

	MailboxNormal           = "Normal"
	MailboxInboxStale       = "Group Inbox Not Recently Used"
	MailboxLowConversations = "Low number of conversations"
	MailboxUnknown          = "Unknown"

	SPONormal       = "Normal"
	SPONoActivity   = "No SPO activity detected in the last 90 days"
	SPONeverCreated = "Document library never created"
	SPOUnknown      = "Unknown"

	ActivityActive    = "Active in last 90 days"
	ActivityNone      = "No activity in last 90 days"
	ActivityNoLibrary = "No document library"
	ActivityUnknown   = "Unknown"

	NoOwners = "No owners"

	timeLayout = "2006-01-02 15:04:05"
)

// GroupRecord is one row of the groups activity report.
type GroupRecord struct {
	Name           string
	Manager        string
	Members        int
	ExternalGuests int
	Description    string

	MailboxStatus     string
	LastConversation  string
	ConversationCount int

	TeamsEnabled   bool
	LastTeamsChat  string
	TeamsChatCount int

	SPOActivity string
	StorageGB   float64
	SPOStatus   string

	Created string
	AgeDays int

	Warnings int
	Status   string
}

// Totals summarizes one groups-report run.
type Totals struct {
	Groups       int
	Passing      int
	Warning      int
	Failing      int
	TeamsEnabled int
}

// Report is the complete output of one groups-report run.
type Report struct {
	RunID       string
	TenantName  string
	GeneratedAt time.Time

	Records []GroupRecord
	Totals  Totals
}

func computeTotals(records []GroupRecord) Totals {
	var t Totals
	t.Groups = len(records)
	for _, rec := range records {
		switch rec.Status {
		case StatusPass:
			t.Passing++
		case StatusWarning:
			t.Warning++
		case StatusFail:
			t.Failing++
		}
		if rec.TeamsEnabled {
			t.TeamsEnabled++
		}
	}
	return t
}
