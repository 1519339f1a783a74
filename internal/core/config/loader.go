package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Load decodes the TOML file at path, applies defaults and PROVENANCE_*
// environment overrides, resolves relative paths against the file's
// directory and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	ApplyEnvOverrides(&cfg)
	normalize(&cfg)
	resolvePaths(&cfg, filepath.Dir(path))

	if err := validateVersion(&cfg); err != nil {
		return nil, err
	}
	if err := validateCatalog(&cfg); err != nil {
		return nil, err
	}
	if err := validateLedger(&cfg); err != nil {
		return nil, err
	}
	if err := validateWatch(&cfg); err != nil {
		return nil, err
	}
	if err := validateLog(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}

	if strings.TrimSpace(cfg.Catalog.Layout) == "" {
		cfg.Catalog.Layout = LayoutSubfolder
	}
	if strings.TrimSpace(cfg.Catalog.Root) == "" {
		cfg.Catalog.Root = "."
	}
	if strings.TrimSpace(cfg.Catalog.Extension) == "" {
		cfg.Catalog.Extension = ".xml"
	}

	if strings.TrimSpace(cfg.Ledger.Driver) == "" {
		cfg.Ledger.Driver = DriverSQLite
	}
	if cfg.Ledger.BusyTimeout <= 0 {
		cfg.Ledger.BusyTimeout = 2 * time.Second
	}
	if strings.TrimSpace(cfg.Ledger.ChangeLogTable) == "" {
		cfg.Ledger.ChangeLogTable = "DATABASECHANGELOG"
	}
	if strings.TrimSpace(cfg.Ledger.LockTable) == "" {
		cfg.Ledger.LockTable = "DATABASECHANGELOGLOCK"
	}

	// Default debounce if not set.
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}
	if cfg.Watch.MaxPerMinute == 0 {
		cfg.Watch.MaxPerMinute = 12
	}
	if cfg.Watch.Exclude == nil {
		cfg.Watch.Exclude = []string{".git", "target", "node_modules"}
	}

	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}
	if strings.TrimSpace(cfg.Log.Format) == "" {
		cfg.Log.Format = LogFormatText
	}

	if strings.TrimSpace(cfg.Observability.ServiceName) == "" {
		cfg.Observability.ServiceName = "provenance"
	}
}

func normalize(cfg *Config) {
	cfg.Catalog.Layout = strings.ToLower(strings.TrimSpace(cfg.Catalog.Layout))
	cfg.Catalog.Root = strings.TrimSpace(cfg.Catalog.Root)
	cfg.Catalog.BaseDir = strings.Trim(strings.TrimSpace(cfg.Catalog.BaseDir), "/")
	ext := strings.ToLower(strings.TrimSpace(cfg.Catalog.Extension))
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	cfg.Catalog.Extension = ext

	cfg.Ledger.Driver = strings.ToLower(strings.TrimSpace(cfg.Ledger.Driver))
	cfg.Ledger.DSN = strings.TrimSpace(cfg.Ledger.DSN)
	cfg.Ledger.DBMS = strings.ToLower(strings.TrimSpace(cfg.Ledger.DBMS))
	cfg.Resolution.Scope = strings.TrimSpace(cfg.Resolution.Scope)

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
}

// resolvePaths anchors the catalog root and a file-based sqlite dsn to base.
func resolvePaths(cfg *Config, base string) {
	cfg.Catalog.Root = ResolveRelative(base, cfg.Catalog.Root)
	if cfg.Ledger.Driver == DriverSQLite && cfg.Ledger.DSN != "" &&
		!strings.HasPrefix(cfg.Ledger.DSN, "file:") && cfg.Ledger.DSN != ":memory:" {
		cfg.Ledger.DSN = ResolveRelative(base, cfg.Ledger.DSN)
	}
}

func ResolveRelative(base, value string) string {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return filepath.Clean(base)
	}
	if filepath.IsAbs(raw) {
		return filepath.Clean(raw)
	}
	return filepath.Clean(filepath.Join(base, raw))
}
