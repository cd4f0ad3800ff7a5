package groupsreport

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tenantlens/tenantlens/internal/batch"
	"github.com/tenantlens/tenantlens/internal/exo"
	"github.com/tenantlens/tenantlens/internal/graph"
	"github.com/tenantlens/tenantlens/internal/metrics"
)

const spoAuditRecordType = "SharePointFileOperation"

// GraphService is the directory capability the groups report consumes.
type GraphService interface {
	ListUnifiedGroups(ctx context.Context) ([]graph.Group, error)
	ListGroupOwners(ctx context.Context, groupID string) ([]graph.GroupOwner, error)
	ListGroupMembers(ctx context.Context, groupID string) ([]graph.GroupMember, error)
	GetGroupDrive(ctx context.Context, groupID string) (graph.Drive, error)
	GetOrganization(ctx context.Context) (graph.Organization, error)
}

// ExchangeService is the collaboration-suite capability: mailbox folder
// statistics and the unified audit log.
type ExchangeService interface {
	GetUnifiedGroup(ctx context.Context, identity string) (exo.UnifiedGroup, error)
	MailboxFolderStatistics(ctx context.Context, identity, folderScope string) ([]exo.FolderStatistics, error)
	SearchUnifiedAuditLog(ctx context.Context, start, end time.Time, recordType string, objectIDs []string) ([]exo.AuditRecord, error)
}

type BuildOptions struct {
	Workers               int
	InboxStaleDays        int
	MinConversations      int
	SPOActivityWindowDays int
	Now                   time.Time
	Logger                *slog.Logger
}

// Build runs the groups pipeline: list unified groups, classify each one,
// aggregate. Per-group lookup failures substitute defaults and never abort
// the batch.
func Build(ctx context.Context, dir GraphService, exch ExchangeService, opts BuildOptions) (*Report, error) {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		groups []graph.Group
		org    graph.Organization
	)
	g, fetchCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		groups, err = dir.ListUnifiedGroups(fetchCtx)
		return err
	})
	g.Go(func() error {
		var err error
		org, err = dir.GetOrganization(fetchCtx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(groups) == 0 {
		return nil, errors.New("no Microsoft 365 groups found in tenant")
	}
	logger.Info("fetched groups", "groups", len(groups), "tenant", org.DisplayName)

	e := &enricher{
		dir:  dir,
		exch: exch,
		classifier: Classifier{
			Now:              opts.Now,
			InboxStaleDays:   opts.InboxStaleDays,
			MinConversations: opts.MinConversations,
		},
		auditWindow: time.Duration(opts.SPOActivityWindowDays) * 24 * time.Hour,
		logger:      logger,
	}
	records, err := batch.Map(ctx, groups, opts.Workers, func(ctx context.Context, grp graph.Group) (GroupRecord, error) {
		return e.enrich(ctx, grp), nil
	})
	if err != nil {
		return nil, err
	}

	return &Report{
		RunID:       uuid.NewString(),
		TenantName:  org.DisplayName,
		GeneratedAt: opts.Now,
		Records:     records,
		Totals:      computeTotals(records),
	}, nil
}

type enricher struct {
	dir         GraphService
	exch        ExchangeService
	classifier  Classifier
	auditWindow time.Duration
	logger      *slog.Logger
}

func (e *enricher) enrich(ctx context.Context, grp graph.Group) GroupRecord {
	rec := GroupRecord{
		Name:         grp.DisplayName,
		Description:  grp.Description,
		TeamsEnabled: isTeamsEnabled(grp),
	}

	if created, ok := graph.ParseTime(grp.CreatedDateTimeRaw); ok {
		rec.Created = created.Format(timeLayout)
		rec.AgeDays = int(e.classifier.Now.Sub(created).Hours() / 24)
		if rec.AgeDays < 0 {
			rec.AgeDays = 0
		}
	}

	rec.Manager = e.manager(ctx, grp)
	rec.Members, rec.ExternalGuests = e.memberCounts(ctx, grp)

	mailbox := e.mailboxIdentity(ctx, grp)
	rec.MailboxStatus, rec.LastConversation, rec.ConversationCount = e.inboxSignal(ctx, grp, mailbox)
	if rec.TeamsEnabled {
		rec.LastTeamsChat, rec.TeamsChatCount = e.teamsChatSignal(ctx, grp, mailbox)
	}

	driveState, drive := e.driveSignal(ctx, grp)
	auditRecords := 0
	if driveState == DrivePresent {
		auditRecords = e.auditActivity(ctx, grp, drive.WebURL)
		rec.StorageGB = float64(drive.Quota.Used) / (1 << 30)
	}
	rec.SPOActivity, rec.SPOStatus = e.classifier.SPOStatus(driveState, auditRecords)

	rec.Warnings = e.classifier.Warnings(rec.MailboxStatus, driveState, auditRecords)
	rec.Status = OverallStatus(rec.Warnings)
	return rec
}

func (e *enricher) manager(ctx context.Context, grp graph.Group) string {
	owners, err := e.dir.ListGroupOwners(ctx, grp.ID)
	if err != nil {
		metrics.LookupFailures.WithLabelValues("group_owners").Inc()
		e.logger.Warn("owner lookup failed", "group", grp.DisplayName, "error", err)
		return MailboxUnknown
	}
	if len(owners) == 0 {
		return NoOwners
	}
	return owners[0].DisplayName
}

func (e *enricher) memberCounts(ctx context.Context, grp graph.Group) (members, guests int) {
	all, err := e.dir.ListGroupMembers(ctx, grp.ID)
	if err != nil {
		metrics.LookupFailures.WithLabelValues("group_members").Inc()
		e.logger.Warn("member lookup failed", "group", grp.DisplayName, "error", err)
		return 0, 0
	}
	for _, m := range all {
		if strings.EqualFold(m.UserType, "Guest") {
			guests++
		}
	}
	return len(all), guests
}

// mailboxIdentity prefers the primary SMTP address Exchange reports; the
// Graph mail attribute is the fallback when the admin API lookup fails.
func (e *enricher) mailboxIdentity(ctx context.Context, grp graph.Group) string {
	ug, err := e.exch.GetUnifiedGroup(ctx, grp.ID)
	if err != nil {
		metrics.LookupFailures.WithLabelValues("unified_group").Inc()
		e.logger.Warn("unified group lookup failed", "group", grp.DisplayName, "error", err)
		return grp.Mail
	}
	if addr := strings.TrimSpace(ug.PrimarySmtpAddress); addr != "" {
		return addr
	}
	return grp.Mail
}

func (e *enricher) inboxSignal(ctx context.Context, grp graph.Group, mailbox string) (status, newest string, items int) {
	stats, err := e.exch.MailboxFolderStatistics(ctx, mailbox, "Inbox")
	if err != nil {
		metrics.LookupFailures.WithLabelValues("folder_stats").Inc()
		e.logger.Warn("inbox statistics lookup failed", "group", grp.DisplayName, "error", err)
		return MailboxUnknown, "", 0
	}

	inbox, ok := findFolder(stats, "Inbox")
	if !ok {
		return MailboxUnknown, "", 0
	}

	signal := InboxStats{Items: inbox.ItemsInFolder}
	if t, ok := exo.ParseTime(inbox.NewestItemReceivedDateRaw); ok {
		signal.Newest = t
		newest = t.Format(timeLayout)
	}
	return e.classifier.MailboxStatus(signal), newest, inbox.ItemsInFolder
}

// teamsChatSignal reads the Team Chat subfolder of Conversation History,
// where compliance copies of Teams channel messages land. Reported
// independently of the warning count.
func (e *enricher) teamsChatSignal(ctx context.Context, grp graph.Group, mailbox string) (newest string, items int) {
	stats, err := e.exch.MailboxFolderStatistics(ctx, mailbox, "ConversationHistory")
	if err != nil {
		metrics.LookupFailures.WithLabelValues("folder_stats").Inc()
		e.logger.Warn("conversation history lookup failed", "group", grp.DisplayName, "error", err)
		return "", 0
	}

	for _, folder := range stats {
		if strings.EqualFold(folder.FolderType, "TeamChat") || strings.EqualFold(folder.Name, "Team Chat") {
			if t, ok := exo.ParseTime(folder.NewestItemReceivedDateRaw); ok {
				newest = t.Format(timeLayout)
			}
			return newest, folder.ItemsInFolder
		}
	}
	return "", 0
}

func (e *enricher) driveSignal(ctx context.Context, grp graph.Group) (DriveState, graph.Drive) {
	drive, err := e.dir.GetGroupDrive(ctx, grp.ID)
	if err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			return DriveMissing, graph.Drive{}
		}
		metrics.LookupFailures.WithLabelValues("group_drive").Inc()
		e.logger.Warn("drive lookup failed", "group", grp.DisplayName, "error", err)
		return DriveUnknown, graph.Drive{}
	}
	return DrivePresent, drive
}

func (e *enricher) auditActivity(ctx context.Context, grp graph.Group, siteURL string) int {
	var objectIDs []string
	if siteURL != "" {
		objectIDs = []string{siteURL}
	}
	records, err := e.exch.SearchUnifiedAuditLog(ctx, e.classifier.Now.Add(-e.auditWindow), e.classifier.Now, spoAuditRecordType, objectIDs)
	if err != nil {
		metrics.LookupFailures.WithLabelValues("audit_log").Inc()
		e.logger.Warn("audit log search failed", "group", grp.DisplayName, "error", err)
		return 0
	}
	return len(records)
}

func isTeamsEnabled(grp graph.Group) bool {
	for _, opt := range grp.ResourceProvisioningOptions {
		if strings.EqualFold(opt, "Team") {
			return true
		}
	}
	return false
}

func findFolder(stats []exo.FolderStatistics, name string) (exo.FolderStatistics, bool) {
	for _, folder := range stats {
		if strings.EqualFold(folder.Name, name) || strings.EqualFold(folder.FolderType, name) {
			return folder, true
		}
	}
	return exo.FolderStatistics{}, false
}
