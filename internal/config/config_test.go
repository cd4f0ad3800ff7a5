package config

import "testing"

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GRAPH_TENANT_ID", "tenant")
	t.Setenv("GRAPH_CLIENT_ID", "client")
	t.Setenv("SKU_NAMES_CSV", "skus.csv")
	t.Setenv("PLAN_NAMES_CSV", "plans.csv")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CURRENCY", "")
	t.Setenv("STALE_SIGNIN_DAYS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Currency != "USD" {
		t.Fatalf("Currency = %q, want %q", cfg.Currency, "USD")
	}
	if cfg.StaleSignInDays != defaultStaleSignInDays {
		t.Fatalf("StaleSignInDays = %d, want %d", cfg.StaleSignInDays, defaultStaleSignInDays)
	}
	if cfg.GroupInboxStaleDays != defaultGroupInboxStaleDays {
		t.Fatalf("GroupInboxStaleDays = %d, want %d", cfg.GroupInboxStaleDays, defaultGroupInboxStaleDays)
	}
}

func TestLoad_ParsesThresholds(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("STALE_SIGNIN_DAYS", "90")
	t.Setenv("CURRENCY", "eur")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StaleSignInDays != 90 {
		t.Fatalf("StaleSignInDays = %d, want 90", cfg.StaleSignInDays)
	}
	if cfg.Currency != "EUR" {
		t.Fatalf("Currency = %q, want %q", cfg.Currency, "EUR")
	}
}

func TestLoad_RequiresTenant(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GRAPH_TENANT_ID", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected missing GRAPH_TENANT_ID error")
	}
}

func TestLoad_RequiresReferenceTables(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SKU_NAMES_CSV", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected missing SKU_NAMES_CSV error")
	}
}

func TestLoadNoRefTables_SkipsReferenceTables(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SKU_NAMES_CSV", "")
	t.Setenv("PLAN_NAMES_CSV", "")

	if _, err := LoadNoRefTables(); err != nil {
		t.Fatalf("LoadNoRefTables() error = %v", err)
	}
}
