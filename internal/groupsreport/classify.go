package groupsreport

import (
	"time"
)

// Classifier holds the thresholds the activity classifications are judged
// against. Now is captured once per run.
type Classifier struct {
	Now              time.Time
	InboxStaleDays   int
	MinConversations int
}

// InboxStats is the mailbox signal: item count and newest received item in
// the group Inbox. A zero Newest means no item was ever received.
type InboxStats struct {
	Items  int
	Newest time.Time
}

// MailboxStatus classifies the group inbox. No items ever, or a newest item
// older than the stale window, marks the inbox unused; a used inbox with
// few conversations is flagged separately.
func (c *Classifier) MailboxStatus(stats InboxStats) string {
	if stats.Items == 0 || stats.Newest.IsZero() {
		return MailboxInboxStale
	}
	if c.Now.Sub(stats.Newest) > time.Duration(c.InboxStaleDays)*24*time.Hour {
		return MailboxInboxStale
	}
	if stats.Items < c.MinConversations {
		return MailboxLowConversations
	}
	return MailboxNormal
}

// DriveState is what we learned about the group's document library.
type DriveState int

const (
	DrivePresent DriveState = iota
	DriveMissing
	DriveUnknown
)

// SPOStatus classifies document library activity from the library's
// existence and the count of file-operation audit records in the trailing
// window.
func (c *Classifier) SPOStatus(drive DriveState, auditRecords int) (activity, status string) {
	switch drive {
	case DriveMissing:
		return ActivityNoLibrary, SPONeverCreated
	case DriveUnknown:
		return ActivityUnknown, SPOUnknown
	}
	if auditRecords == 0 {
		return ActivityNone, SPONoActivity
	}
	return ActivityActive, SPONormal
}

// Warnings counts the stale-group conditions. A missing document library
// also implies zero audit activity, so it counts twice.
func (c *Classifier) Warnings(mailboxStatus string, drive DriveState, auditRecords int) int {
	warnings := 0
	if mailboxStatus == MailboxInboxStale {
		warnings++
	}
	if drive != DriveUnknown && auditRecords == 0 {
		warnings++
	}
	if drive == DriveMissing {
		warnings++
	}
	return warnings
}

// OverallStatus maps the warning count to the report's three-level status.
func OverallStatus(warnings int) string {
	switch {
	case warnings == 0:
		return StatusPass
	case warnings == 1:
		return StatusWarning
	default:
		return StatusFail
	}
}
