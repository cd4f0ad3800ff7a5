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
	"github.com/tenantlens/tenantlens/internal/graph"
	"github.com/tenantlens/tenantlens/internal/licensereport"
	"github.com/tenantlens/tenantlens/internal/logging"
	"github.com/tenantlens/tenantlens/internal/metrics"
	"github.com/tenantlens/tenantlens/internal/refdata"
	"github.com/tenantlens/tenantlens/internal/report"
	"github.com/tenantlens/tenantlens/internal/secrets"
)

var licenseReportCmd = &cobra.Command{
	Use:   "license-report",
	Short: "Generate the per-user license assignment and cost report.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLicenseReport()
	},
}

func runLicenseReport() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.BootstrapFromEnv(logging.BootstrapOptions{Command: "tenantlens license-report"})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	refs, err := refdata.Load(cfg.SkuNamesCSV, cfg.PlanNamesCSV, cfg.Currency)
	if err != nil {
		return err
	}

	secret, err := secrets.Resolve(ctx, &cfg)
	if err != nil {
		return err
	}
	client, err := graph.New(cfg.TenantID, cfg.ClientID, secret)
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
	rep, err := licensereport.Build(ctx, client, licensereport.BuildOptions{
		Refs:           refs,
		Workers:        cfg.LookupWorkers,
		StaleAfterDays: cfg.StaleSignInDays,
		Currency:       cfg.Currency,
		Logger:         logger,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return &exitError{code: 130, err: err, silent: true}
		}
		return &exitError{code: 1, err: err}
	}
	metrics.ReportDuration.WithLabelValues("license").Observe(time.Since(started).Seconds())
	metrics.ReportRecords.WithLabelValues("license").Set(float64(len(rep.Records)))

	if err := report.WriteFiles(cfg.ReportHTML, cfg.ReportCSV, rep.Document()); err != nil {
		return &exitError{code: 1, err: err}
	}

	logger.Info("license report written",
		"run_id", rep.RunID,
		"tenant", rep.TenantName,
		"users", rep.Totals.Users,
		"stale_accounts", rep.Totals.StaleAccounts,
		"duplicate_accounts", rep.Totals.DuplicateAccounts,
		"html", cfg.ReportHTML,
		"csv", cfg.ReportCSV,
	)
	return nil
}
