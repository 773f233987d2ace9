package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	balance, err := cfg.StartingBalance()
	if err != nil {
		t.Fatalf("starting balance: %v", err)
	}
	if balance.String() != "10000.00" {
		t.Errorf("expected 10000.00, got %s", balance)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  port: "9090"
engine:
  starting_balance: "500.00"
  price_window: 50
  alpha: 0.5
risk:
  max_per_market: "1000"
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Engine.PriceWindow != 50 || cfg.Engine.Alpha != 0.5 {
		t.Errorf("engine overrides not applied: %+v", cfg.Engine)
	}
	perMarket, perCategory := cfg.RiskCaps()
	if perMarket.String() != "1000.00" || !perCategory.IsZero() {
		t.Errorf("expected 1000.00 and disabled category cap, got %s/%s", perMarket, perCategory)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("STARTING_BALANCE", "42.00")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("expected env port 7070, got %s", cfg.Server.Port)
	}
	balance, _ := cfg.StartingBalance()
	if balance.String() != "42.00" {
		t.Errorf("expected env balance 42.00, got %s", balance)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults, got %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port, got %s", cfg.Server.Port)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
engine:
  starting_balance: "not-a-number"
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed starting balance")
	}
}
