package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/gobwas/glob"
)

func validateVersion(cfg *Config) error {
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported config version %d; supported version is 1", cfg.Version)
	}
	return nil
}

func validateCatalog(cfg *Config) error {
	switch cfg.Catalog.Layout {
	case LayoutSubfolder, LayoutFlat:
	default:
		return fmt.Errorf("catalog.layout must be one of: subfolder, flat, got %q", cfg.Catalog.Layout)
	}
	switch cfg.Catalog.Extension {
	case ".xml", ".yaml", ".yml":
	default:
		return fmt.Errorf("catalog.extension must be one of: .xml, .yaml, .yml, got %q", cfg.Catalog.Extension)
	}
	if strings.Contains(cfg.Catalog.BaseDir, "..") {
		return fmt.Errorf("catalog.base_dir must stay inside catalog.root, got %q", cfg.Catalog.BaseDir)
	}
	return nil
}

func validateLedger(cfg *Config) error {
	switch cfg.Ledger.Driver {
	case DriverSQLite, DriverPgx:
	default:
		return fmt.Errorf("ledger.driver must be one of: sqlite, pgx, got %q", cfg.Ledger.Driver)
	}
	return nil
}

func validateWatch(cfg *Config) error {
	if cfg.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	if cfg.Watch.MaxPerMinute < 0 {
		return fmt.Errorf("watch.max_per_minute must not be negative")
	}
	for i, pattern := range cfg.Watch.Exclude {
		if _, err := glob.Compile(pattern); err != nil {
			return fmt.Errorf("watch.exclude[%d] %q is not a valid glob: %w", i, pattern, err)
		}
	}
	return nil
}

func validateLog(cfg *Config) error {
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error, got %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("log.format must be one of: text, json, got %q", cfg.Log.Format)
	}
	return nil
}

// Validate reports every problem at once, including requirements that only
// hold at run time such as an existing catalog root and a ledger dsn.
func Validate(cfg *Config) []error {
	var errs []error

	if err := validateVersion(cfg); err != nil {
		errs = append(errs, err)
	}
	if err := validateCatalog(cfg); err != nil {
		errs = append(errs, err)
	}
	if err := validateLedger(cfg); err != nil {
		errs = append(errs, err)
	}
	if err := validateWatch(cfg); err != nil {
		errs = append(errs, err)
	}
	if err := validateLog(cfg); err != nil {
		errs = append(errs, err)
	}

	if cfg.Ledger.DSN == "" {
		errs = append(errs, fmt.Errorf("ledger.dsn is required"))
	}
	if stat, err := os.Stat(cfg.Catalog.Root); os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("catalog.root %q does not exist", cfg.Catalog.Root))
	} else if err == nil && !stat.IsDir() {
		errs = append(errs, fmt.Errorf("catalog.root %q is not a directory", cfg.Catalog.Root))
	}

	return errs
}
