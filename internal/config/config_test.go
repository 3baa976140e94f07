package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/austarch/austarch-db/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Ingest.Workers != 1 || !cfg.Ingest.SkipExisting || cfg.Ingest.FuzzyThreshold != 0.8 {
		t.Errorf("unexpected ingest defaults %+v", cfg.Ingest)
	}
	if cfg.Server.Addr != ":5050" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Retry.InitialDelay != 200*time.Millisecond {
		t.Errorf("InitialDelay = %v", cfg.Retry.InitialDelay)
	}
	if dsn := cfg.Database.DSN(); dsn != "postgres://postgres@localhost:5432/austarch?sslmode=disable" {
		t.Errorf("DSN = %q", dsn)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AUSTARCH_WORKERS", "4")
	t.Setenv("AUSTARCH_STRICT", "true")
	t.Setenv("AUSTARCH_DB_PASSWORD", "s3cret")
	t.Setenv("AUSTARCH_ALLOWED_ORIGINS", "http://a.test, http://b.test,")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Ingest.Workers != 4 || !cfg.Ingest.Strict {
		t.Errorf("env not applied: %+v", cfg.Ingest)
	}
	if !strings.Contains(cfg.Database.DSN(), "postgres:s3cret@") {
		t.Errorf("password missing from DSN %q", cfg.Database.DSN())
	}
	if got := cfg.Server.Origins(); len(got) != 2 || got[1] != "http://b.test" {
		t.Errorf("Origins = %q", got)
	}

	t.Setenv("DATABASE_URL", "postgres://u@db:6543/x")
	cfg, err = config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.DSN() != "postgres://u@db:6543/x" {
		t.Errorf("DATABASE_URL not used verbatim: %q", cfg.Database.DSN())
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "data_dir: s3://bucket/austarch\ningest:\n  workers: 3\n  fuzzy_threshold: 0.7\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AUSTARCH_WORKERS", "6")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "s3://bucket/austarch" || cfg.Ingest.FuzzyThreshold != 0.7 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Ingest.Workers != 6 {
		t.Errorf("environment should win over the file, got %d workers", cfg.Ingest.Workers)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err != nil {
		t.Errorf("a missing file should fall back to the environment: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"no workers", map[string]string{"AUSTARCH_WORKERS": "0"}},
		{"threshold above one", map[string]string{"AUSTARCH_FUZZY_THRESHOLD": "1.5"}},
		{"negative distance", map[string]string{"AUSTARCH_MAX_MATCH_DISTANCE_KM": "-1"}},
		{"no attempts", map[string]string{"AUSTARCH_RETRY_ATTEMPTS": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := config.Load(""); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}
