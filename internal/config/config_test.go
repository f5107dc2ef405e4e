package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

var configKeys = []string{
	"CONFIG_FILE", "API_PORT", "LOG_LEVEL", "LIBRARY_PATH", "MAX_UPLOAD_BYTES",
	"METADATA_BACKEND", "MONGODB_URI", "MONGODB_DATABASE", "POSTGRES_DSN",
	"NATS_URL", "NATS_SUBJECT", "EXTRACT_ON_UPLOAD", "EXTRACT_TIMEOUT_SECONDS",
	"EXTRACT_CONCURRENCY", "API_RATE_LIMIT_RPS", "API_RATE_LIMIT_BURST",
	"API_MAX_IN_FLIGHT", "API_BACKPRESSURE_WAIT_MS", "CORS_ALLOWED_ORIGINS",
	"WORKER_METRICS_PORT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MetadataBackend != BackendMongo {
		t.Fatalf("expected default backend mongo, got %q", cfg.MetadataBackend)
	}
	if cfg.NATSSubject != "ebook.uploaded" {
		t.Fatalf("expected default subject ebook.uploaded, got %q", cfg.NATSSubject)
	}
	if cfg.ExtractConcurrency != 8 || cfg.ExtractTimeoutSeconds != 120 {
		t.Fatalf("unexpected extraction defaults: %+v", cfg)
	}
	if !cfg.ExtractOnUpload {
		t.Fatalf("expected extraction on upload by default")
	}
	if !reflect.DeepEqual(cfg.CORSAllowedOrigins, []string{"*"}) {
		t.Fatalf("expected wildcard CORS default, got %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("METADATA_BACKEND", "Postgres")
	t.Setenv("API_RATE_LIMIT_RPS", "2.5")
	t.Setenv("EXTRACT_ON_UPLOAD", "false")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test,,")
	t.Setenv("MAX_UPLOAD_BYTES", "1024")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MetadataBackend != BackendPostgres {
		t.Fatalf("expected postgres backend, got %q", cfg.MetadataBackend)
	}
	if cfg.APIRateLimitRPS != 2.5 {
		t.Fatalf("expected rps 2.5, got %v", cfg.APIRateLimitRPS)
	}
	if cfg.ExtractOnUpload {
		t.Fatalf("expected extraction on upload disabled")
	}
	if !reflect.DeepEqual(cfg.CORSAllowedOrigins, []string{"http://a.test", "http://b.test"}) {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.MaxUploadBytes != 1024 {
		t.Fatalf("expected max upload 1024, got %d", cfg.MaxUploadBytes)
	}
}

func TestLoadFallsBackOnMalformedNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("EXTRACT_CONCURRENCY", "many")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ExtractConcurrency != 8 {
		t.Fatalf("expected fallback concurrency 8, got %d", cfg.ExtractConcurrency)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("METADATA_BACKEND", "sqlite")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestLoadReadsConfigFileBelowEnvironment(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "library.yaml")
	content := `
library_path: /srv/books
api_port: 9000
extract_concurrency: 4
cors_allowed_origins:
  - http://reader.test
  - http://admin.test
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("API_PORT", "7000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LibraryPath != "/srv/books" {
		t.Fatalf("expected library path from file, got %q", cfg.LibraryPath)
	}
	if cfg.ExtractConcurrency != 4 {
		t.Fatalf("expected concurrency from file, got %d", cfg.ExtractConcurrency)
	}
	if cfg.APIPort != "7000" {
		t.Fatalf("expected environment to win over file, got %q", cfg.APIPort)
	}
	if !reflect.DeepEqual(cfg.CORSAllowedOrigins, []string{"http://reader.test", "http://admin.test"}) {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadFailsForMissingConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
