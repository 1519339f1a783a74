package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Pattern: PROVENANCE_[SECTION]_[KEY] (e.g., PROVENANCE_LEDGER_DSN).
func ApplyEnvOverrides(cfg *Config) {
	// Catalog
	setEnvString(&cfg.Catalog.Layout, "PROVENANCE_CATALOG_LAYOUT")
	setEnvString(&cfg.Catalog.Root, "PROVENANCE_CATALOG_ROOT")
	setEnvString(&cfg.Catalog.BaseDir, "PROVENANCE_CATALOG_BASE_DIR")

	// Ledger
	setEnvString(&cfg.Ledger.Driver, "PROVENANCE_LEDGER_DRIVER")
	setSecretString(&cfg.Ledger.DSN, "PROVENANCE_LEDGER_DSN")
	setEnvDuration(&cfg.Ledger.BusyTimeout, "PROVENANCE_LEDGER_BUSY_TIMEOUT")
	setEnvString(&cfg.Ledger.DBMS, "PROVENANCE_LEDGER_DBMS")

	// Resolution
	setEnvString(&cfg.Resolution.Scope, "PROVENANCE_RESOLUTION_SCOPE")

	// Watch
	setEnvBool(&cfg.Watch.Enabled, "PROVENANCE_WATCH_ENABLED")
	setEnvDuration(&cfg.Watch.Debounce, "PROVENANCE_WATCH_DEBOUNCE")
	setEnvInt(&cfg.Watch.MaxPerMinute, "PROVENANCE_WATCH_MAX_PER_MINUTE")

	// Log
	setEnvString(&cfg.Log.Level, "PROVENANCE_LOG_LEVEL")
	setEnvString(&cfg.Log.Format, "PROVENANCE_LOG_FORMAT")

	// Observability
	setEnvString(&cfg.Observability.MetricsAddress, "PROVENANCE_OBSERVABILITY_METRICS_ADDRESS")
	setEnvString(&cfg.Observability.OTLPEndpoint, "PROVENANCE_OBSERVABILITY_OTLP_ENDPOINT")
	setEnvBool(&cfg.Observability.OTLPInsecure, "PROVENANCE_OBSERVABILITY_OTLP_INSECURE")
}

func setEnvString(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		slog.Debug("applying env override", "key", key, "value", val)
		*target = val
	}
}

// setSecretString is setEnvString without logging the value.
func setSecretString(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		slog.Debug("applying env override", "key", key)
		*target = val
	}
}

func setEnvInt(target *int, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = i
		}
	}
}

func setEnvBool(target *bool, key string) {
	if val, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(strings.ToLower(val))
		if err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = b
		}
	}
}

func setEnvDuration(target *time.Duration, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = d
		}
	}
}
