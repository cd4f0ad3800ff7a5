package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tenantlens/tenantlens/internal/config"
	"github.com/tenantlens/tenantlens/internal/exo"
	"github.com/tenantlens/tenantlens/internal/graph"
	"github.com/tenantlens/tenantlens/internal/groupsreport"
	"github.com/tenantlens/tenantlens/internal/logging"
	"github.com/tenantlens/tenantlens/internal/metrics"
	"github.com/tenantlens/tenantlens/internal/report"
	"github.com/tenantlens/tenantlens/internal/secrets"
)

var groupsReportCmd = &cobra.Command{
	Use:   "groups-report",
	Short: "Generate the Microsoft 365 groups and Teams activity report.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGroupsReport()
	},
}

func runGroupsReport() error {
	cfg, err := config.LoadNoRefTables()
	if err != nil {
		return err
	}
	logger, err := logging.BootstrapFromEnv(logging.BootstrapOptions{Command: "tenantlens groups-report"})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	secret, err := secrets.Resolve(ctx, &cfg)
	if err != nil {
		return err
	}
	graphClient, err := graph.New(cfg.TenantID, cfg.ClientID, secret)
	if err != nil {
		return err
	}
	exoClient, err := exo.New(cfg.TenantID, cfg.ClientID, secret)
	if err != nil {
		return err
	}

	metricsSrv, metricsErrCh := metrics.StartServer(ctx, cfg.MetricsAddr)
	if metricsSrv != nil {
		defer metricsSrv.Close()
		go func() {
			if err := <-metricsErrCh; err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	started := time.Now()
	rep, err := groupsreport.Build(ctx, graphClient, exoClient, groupsreport.BuildOptions{
		Workers:               cfg.LookupWorkers,
		InboxStaleDays:        cfg.GroupInboxStaleDays,
		MinConversations:      cfg.GroupMinConversations,
		SPOActivityWindowDays: cfg.SPOActivityWindowDays,
		Logger:                logger,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return &exitError{code: 130, err: err, silent: true}
		}
		return &exitError{code: 1, err: err}
	}
	metrics.ReportDuration.WithLabelValues("groups").Observe(time.Since(started).Seconds())
	metrics.ReportRecords.WithLabelValues("groups").Set(float64(len(rep.Records)))

	if err := report.WriteFiles(cfg.ReportHTML, cfg.ReportCSV, rep.Document()); err != nil {
		return &exitError{code: 1, err: err}
	}

	logger.Info("groups report written",
		"run_id", rep.RunID,
		"tenant", rep.TenantName,
		"groups", rep.Totals.Groups,
		"failing", rep.Totals.Failing,
		"html", cfg.ReportHTML,
		"csv", cfg.ReportCSV,
	)
	return nil
}
