package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("explicit missing file should fail, got cfg %+v", cfg)
	}

	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Port != 8081 {
		t.Errorf("port = %d, want 8081", cfg.HTTP.Port)
	}
	if cfg.Ledger.RequiredHours != 50 {
		t.Errorf("required hours = %v, want 50", cfg.Ledger.RequiredHours)
	}
	if cfg.Auth.AccessTTL != 15*time.Minute {
		t.Errorf("access ttl = %v", cfg.Auth.AccessTTL)
	}
	if len(cfg.Catalog.Classes) != 2 {
		t.Errorf("classes = %v", cfg.Catalog.Classes)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte("http:\n  port: 9000\nledger:\n  required_hours: 40\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HOURS_LEDGER_REQUIRED_HOURS", "60")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Port != 9000 {
		t.Errorf("port = %d, want 9000 from file", cfg.HTTP.Port)
	}
	if cfg.Ledger.RequiredHours != 60 {
		t.Errorf("required hours = %v, want env override 60", cfg.Ledger.RequiredHours)
	}
}

func TestValidate(t *testing.T) {
	base := App{
		HTTP:     HTTPConfig{Port: 8081},
		Auth:     AuthConfig{JWTSigningKey: "0123456789abcdef"},
		Ledger:   LedgerConfig{RequiredHours: 50},
		Identity: IdentityConfig{AllowedDomain: "sxc.edu.np"},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := map[string]func(*App){
		"short key":      func(a *App) { a.Auth.JWTSigningKey = "short" },
		"bad port":       func(a *App) { a.HTTP.Port = 70000 },
		"zero required":  func(a *App) { a.Ledger.RequiredHours = 0 },
		"missing domain": func(a *App) { a.Identity.AllowedDomain = " " },
		"dev key in production": func(a *App) {
			a.Env = "production"
			a.Auth.JWTSigningKey = devSigningKey
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	dev := base
	dev.Env = "development"
	dev.Auth.JWTSigningKey = devSigningKey
	if err := dev.Validate(); err != nil {
		t.Errorf("dev key outside production rejected: %v", err)
	}
}
