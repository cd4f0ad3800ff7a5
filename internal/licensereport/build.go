package licensereport

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tenantlens/tenantlens/internal/batch"
	"github.com/tenantlens/tenantlens/internal/graph"
	"github.com/tenantlens/tenantlens/internal/refdata"
)

// Service is the directory capability the report consumes.
type Service interface {
	DirectoryService
	ListLicensedUsers(ctx context.Context) ([]graph.User, error)
	ListSubscribedSkus(ctx context.Context) ([]graph.SubscribedSku, error)
	GetOrganization(ctx context.Context) (graph.Organization, error)
}

type BuildOptions struct {
	Refs           refdata.Tables
	Workers        int
	StaleAfterDays int
	Currency       string
	Now            time.Time
	Logger         *slog.Logger
}

// Build runs the whole license pipeline: fetch, per-user enrichment,
// aggregation. The three independent inputs are fetched concurrently; the
// per-user pass fans out over Workers goroutines with results merged in
// fetch order.
func Build(ctx context.Context, svc Service, opts BuildOptions) (*Report, error) {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		users []graph.User
		skus  []graph.SubscribedSku
		org   graph.Organization
	)
	g, fetchCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		users, err = svc.ListLicensedUsers(fetchCtx)
		return err
	})
	g.Go(func() error {
		var err error
		skus, err = svc.ListSubscribedSkus(fetchCtx)
		return err
	})
	g.Go(func() error {
		var err error
		org, err = svc.GetOrganization(fetchCtx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(users) == 0 {
		return nil, errors.New("no licensed member users found in tenant")
	}
	logger.Info("fetched directory objects", "users", len(users), "skus", len(skus), "tenant", org.DisplayName)

	enricher := &Enricher{
		Refs:           opts.Refs,
		Directory:      svc,
		Now:            opts.Now,
		StaleAfterDays: opts.StaleAfterDays,
		Logger:         logger,
	}
	records, err := batch.Map(ctx, users, opts.Workers, func(ctx context.Context, u graph.User) (UserRecord, error) {
		return enricher.Enrich(ctx, u), nil
	})
	if err != nil {
		return nil, err
	}

	currency := opts.Currency
	if opts.Refs.HasPricing() && opts.Refs.Pricing.Currency != "" {
		currency = opts.Refs.Pricing.Currency
	}

	return &Report{
		RunID:       uuid.NewString(),
		TenantName:  org.DisplayName,
		GeneratedAt: opts.Now,
		Currency:    currency,
		HasPricing:  opts.Refs.HasPricing(),
		Records:     records,
		SkuUsage:    SkuUsage(skus, opts.Refs),
		Departments: RollupByDepartment(records),
		Countries:   RollupByCountry(records),
		Totals:      computeTotals(records),
	}, nil
}
