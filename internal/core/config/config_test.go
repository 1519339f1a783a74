package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "provenance.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
[catalog]
layout = "flat"
root = "resources"
base_dir = "/org/openmrs/liquibase/"
extension = "YAML"

[ledger]
driver = "sqlite"
dsn = "data/ledger.db"
busy_timeout = "3s"
dbms = " MySQL "

[resolution]
scope = "prod"

[watch]
enabled = true
debounce = "1s"
max_per_minute = 4
exclude = [".git", "*.bak"]

[log]
level = "DEBUG"
format = "json"

[observability]
metrics_address = "127.0.0.1:9464"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	dir := filepath.Dir(path)

	if cfg.Version != 1 {
		t.Errorf("expected default version 1, got %d", cfg.Version)
	}
	if cfg.Catalog.Layout != LayoutFlat {
		t.Errorf("layout = %q", cfg.Catalog.Layout)
	}
	if cfg.Catalog.Root != filepath.Join(dir, "resources") {
		t.Errorf("catalog root not resolved against config dir: %q", cfg.Catalog.Root)
	}
	if cfg.Catalog.BaseDir != "org/openmrs/liquibase" {
		t.Errorf("base dir = %q", cfg.Catalog.BaseDir)
	}
	if cfg.Catalog.Extension != ".yaml" {
		t.Errorf("extension = %q", cfg.Catalog.Extension)
	}
	if cfg.Ledger.DSN != filepath.Join(dir, "data", "ledger.db") {
		t.Errorf("sqlite dsn not resolved: %q", cfg.Ledger.DSN)
	}
	if cfg.Ledger.BusyTimeout != 3*time.Second {
		t.Errorf("busy timeout = %v", cfg.Ledger.BusyTimeout)
	}
	if cfg.Ledger.DBMS != "mysql" {
		t.Errorf("dbms = %q", cfg.Ledger.DBMS)
	}
	if cfg.Ledger.ChangeLogTable != "DATABASECHANGELOG" || cfg.Ledger.LockTable != "DATABASECHANGELOGLOCK" {
		t.Errorf("unexpected table defaults %+v", cfg.Ledger)
	}
	if cfg.Resolution.Scope != "prod" {
		t.Errorf("scope = %q", cfg.Resolution.Scope)
	}
	if !cfg.Watch.Enabled || cfg.Watch.Debounce != time.Second || cfg.Watch.MaxPerMinute != 4 {
		t.Errorf("unexpected watch config %+v", cfg.Watch)
	}
	if len(cfg.Watch.Exclude) != 2 {
		t.Errorf("exclude = %v", cfg.Watch.Exclude)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != LogFormatJSON {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}
	if cfg.Observability.ServiceName != "provenance" {
		t.Errorf("service name = %q", cfg.Observability.ServiceName)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
[ledger]
dsn = "postgres://localhost/openmrs"
driver = "pgx"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Catalog.Layout != LayoutSubfolder {
		t.Errorf("layout = %q", cfg.Catalog.Layout)
	}
	if cfg.Catalog.Root != filepath.Dir(path) {
		t.Errorf("root = %q", cfg.Catalog.Root)
	}
	if cfg.Catalog.Extension != ".xml" {
		t.Errorf("extension = %q", cfg.Catalog.Extension)
	}
	if cfg.Ledger.DSN != "postgres://localhost/openmrs" {
		t.Errorf("pgx dsn must not be rewritten, got %q", cfg.Ledger.DSN)
	}
	if cfg.Watch.Debounce != 500*time.Millisecond || cfg.Watch.MaxPerMinute != 12 {
		t.Errorf("unexpected watch defaults %+v", cfg.Watch)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != LogFormatText {
		t.Errorf("unexpected log defaults %+v", cfg.Log)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"version", "version = 3", "unsupported config version"},
		{"layout", "[catalog]\nlayout = \"nested\"", "catalog.layout"},
		{"extension", "[catalog]\nextension = \"json\"", "catalog.extension"},
		{"base dir", "[catalog]\nbase_dir = \"../outside\"", "catalog.base_dir"},
		{"driver", "[ledger]\ndriver = \"oracle\"", "ledger.driver"},
		{"max per minute", "[watch]\nmax_per_minute = -1", "watch.max_per_minute"},
		{"exclude", "[watch]\nexclude = [\"[oops\"]", "watch.exclude[0]"},
		{"log level", "[log]\nlevel = \"trace\"", "log.level"},
		{"log format", "[log]\nformat = \"xml\"", "log.format"},
		{"syntax", "[catalog\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("PROVENANCE_LEDGER_DSN", "file:override.db")
	t.Setenv("PROVENANCE_RESOLUTION_SCOPE", "test")
	t.Setenv("PROVENANCE_WATCH_MAX_PER_MINUTE", "30")
	t.Setenv("PROVENANCE_WATCH_ENABLED", "TRUE")
	t.Setenv("PROVENANCE_LEDGER_BUSY_TIMEOUT", "not-a-duration")

	path := writeConfig(t, "[ledger]\ndsn = \"ledger.db\"\nbusy_timeout = \"4s\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Ledger.DSN != "file:override.db" {
		t.Errorf("dsn = %q", cfg.Ledger.DSN)
	}
	if cfg.Resolution.Scope != "test" {
		t.Errorf("scope = %q", cfg.Resolution.Scope)
	}
	if cfg.Watch.MaxPerMinute != 30 || !cfg.Watch.Enabled {
		t.Errorf("unexpected watch %+v", cfg.Watch)
	}
	if cfg.Ledger.BusyTimeout != 4*time.Second {
		t.Errorf("invalid env duration must be ignored, got %v", cfg.Ledger.BusyTimeout)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Catalog.Root = filepath.Join(t.TempDir(), "missing")
	errs := Validate(cfg)
	if len(errs) != 2 {
		t.Fatalf("expected dsn and root errors, got %v", errs)
	}

	cfg.Catalog.Root = t.TempDir()
	cfg.Ledger.DSN = "ledger.db"
	if errs := Validate(cfg); len(errs) != 0 {
		t.Fatalf("expected valid config, got %v", errs)
	}
}

func TestResolveRelative(t *testing.T) {
	base := filepath.FromSlash("/etc/provenance")
	if got := ResolveRelative(base, ""); got != filepath.Clean(base) {
		t.Errorf("empty = %q", got)
	}
	if got := ResolveRelative(base, "catalog"); got != filepath.Join(base, "catalog") {
		t.Errorf("relative = %q", got)
	}
	abs := filepath.FromSlash("/srv/catalog")
	if got := ResolveRelative(base, abs); got != abs {
		t.Errorf("absolute = %q", got)
	}
}
