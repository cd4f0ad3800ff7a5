package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	defaultCurrency = "USD"

	defaultStaleSignInDays       = 60
	defaultGroupInboxStaleDays   = 365
	defaultGroupMinConversations = 20
	defaultSPOActivityWindowDays = 90
	defaultLookupWorkers         = 1
)

// Config carries everything both report commands need: tenant credentials,
// reference table paths, output paths, and the classification thresholds.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	SkuNamesCSV  string
	PlanNamesCSV string

	ReportHTML string
	ReportCSV  string

	Currency string

	StaleSignInDays       int
	GroupInboxStaleDays   int
	GroupMinConversations int
	SPOActivityWindowDays int

	LookupWorkers int
	MetricsAddr   string

	VaultAddr       string
	VaultToken      string
	VaultSecretPath string
}

type LoadOptions struct {
	RequireReferenceTables bool
}

func Load() (Config, error) {
	return LoadWithOptions(LoadOptions{RequireReferenceTables: true})
}

// LoadNoRefTables is used by the groups report, which joins no reference data.
func LoadNoRefTables() (Config, error) {
	return LoadWithOptions(LoadOptions{RequireReferenceTables: false})
}

func LoadWithOptions(opts LoadOptions) (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, err
		}
	}

	cfg := Config{
		TenantID:     os.Getenv("GRAPH_TENANT_ID"),
		ClientID:     os.Getenv("GRAPH_CLIENT_ID"),
		ClientSecret: os.Getenv("GRAPH_CLIENT_SECRET"),

		SkuNamesCSV:  os.Getenv("SKU_NAMES_CSV"),
		PlanNamesCSV: os.Getenv("PLAN_NAMES_CSV"),

		ReportHTML: getenvDefault("REPORT_HTML", "report.html"),
		ReportCSV:  getenvDefault("REPORT_CSV", "report.csv"),

		Currency: strings.ToUpper(strings.TrimSpace(getenvDefault("CURRENCY", defaultCurrency))),

		StaleSignInDays:       getenvIntDefault("STALE_SIGNIN_DAYS", defaultStaleSignInDays),
		GroupInboxStaleDays:   getenvIntDefault("GROUP_INBOX_STALE_DAYS", defaultGroupInboxStaleDays),
		GroupMinConversations: getenvIntDefault("GROUP_MIN_CONVERSATIONS", defaultGroupMinConversations),
		SPOActivityWindowDays: getenvIntDefault("SPO_ACTIVITY_WINDOW_DAYS", defaultSPOActivityWindowDays),

		LookupWorkers: getenvIntDefault("LOOKUP_WORKERS", defaultLookupWorkers),
		MetricsAddr:   os.Getenv("METRICS_ADDR"),

		VaultAddr:       os.Getenv("VAULT_ADDR"),
		VaultToken:      os.Getenv("VAULT_TOKEN"),
		VaultSecretPath: os.Getenv("VAULT_SECRET_PATH"),
	}

	if cfg.TenantID == "" {
		return cfg, errors.New("GRAPH_TENANT_ID is required")
	}
	if cfg.ClientID == "" {
		return cfg, errors.New("GRAPH_CLIENT_ID is required")
	}

	if opts.RequireReferenceTables {
		if cfg.SkuNamesCSV == "" {
			return cfg, errors.New("SKU_NAMES_CSV is required")
		}
		if cfg.PlanNamesCSV == "" {
			return cfg, errors.New("PLAN_NAMES_CSV is required")
		}
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}
