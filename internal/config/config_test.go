package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("Store.Driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.Cache.Driver != "none" {
		t.Errorf("Cache.Driver = %q, want none", cfg.Cache.Driver)
	}
	if cfg.Idempotency.DefaultTTL != 24*time.Hour {
		t.Errorf("Idempotency.DefaultTTL = %v, want 24h", cfg.Idempotency.DefaultTTL)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
server:
  port: 9090
identity:
  issuer: https://id.example.com
  audience: docflow
  jwks_url: https://id.example.com/jwks
store:
  driver: postgres
  dsn_env: DOCFLOW_DSN
directory:
  documents:
    base_url: http://documents:8080
  users:
    base_url: http://users:8080
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Store.Driver != "postgres" {
		t.Errorf("Store.Driver = %q, want postgres", cfg.Store.Driver)
	}
	// Defaults survive partial files.
	if cfg.Server.HandlerTimeout != 25*time.Second {
		t.Errorf("Server.HandlerTimeout = %v, want 25s", cfg.Server.HandlerTimeout)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
identity:
  issuer: https://id.example.com
  audience: docflow
  jwks_url: https://id.example.com/jwks
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DOCFLOW_SERVER_PORT", "7000")
	t.Setenv("DOCFLOW_OBSERVABILITY_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want 7000", cfg.Server.Port)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.Observability.LogLevel)
	}
}

func TestValidateErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Identity.Issuer = "i"
	cfg.Identity.Audience = "a"
	cfg.Identity.JWKSURL = "j"

	cfg.Store.Driver = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() = nil, want error for postgres without dsn_env")
	}

	cfg.Store.Driver = "sqlite"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() = nil, want error for unsupported store driver")
	}

	cfg = Defaults()
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() = nil, want error for missing identity settings")
	}
}
