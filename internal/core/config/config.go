package config

import (
	"time"
)

const (
	LayoutSubfolder = "subfolder"
	LayoutFlat      = "flat"

	DriverSQLite = "sqlite"
	DriverPgx    = "pgx"

	LogFormatText = "text"
	LogFormatJSON = "json"
)

type Config struct {
	Version       int           `toml:"version"`
	Catalog       Catalog       `toml:"catalog"`
	Ledger        Ledger        `toml:"ledger"`
	Resolution    Resolution    `toml:"resolution"`
	Watch         Watch         `toml:"watch"`
	Log           Log           `toml:"log"`
	Observability Observability `toml:"observability"`
}

// Catalog locates the snapshot and update changelogs. Root is resolved
// against the directory of the config file.
type Catalog struct {
	Layout       string `toml:"layout"`
	Root         string `toml:"root"`
	BaseDir      string `toml:"base_dir"`
	SnapshotsDir string `toml:"snapshots_dir"`
	UpdatesDir   string `toml:"updates_dir"`
	Extension    string `toml:"extension"`
}

type Ledger struct {
	Driver         string        `toml:"driver"`
	DSN            string        `toml:"dsn"`
	BusyTimeout    time.Duration `toml:"busy_timeout"`
	ChangeLogTable string        `toml:"changelog_table"`
	LockTable      string        `toml:"lock_table"`
	DBMS           string        `toml:"dbms"`
}

type Resolution struct {
	Scope string `toml:"scope"`
}

type Watch struct {
	Enabled      bool          `toml:"enabled"`
	Debounce     time.Duration `toml:"debounce"`
	MaxPerMinute int           `toml:"max_per_minute"`
	Exclude      []string      `toml:"exclude"`
}

type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type Observability struct {
	MetricsAddress string `toml:"metrics_address"`
	OTLPEndpoint   string `toml:"otlp_endpoint"`
	OTLPInsecure   bool   `toml:"otlp_insecure"`
	ServiceName    string `toml:"service_name"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}
