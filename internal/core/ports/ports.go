package ports

import (
	"context"
	"time"

	"provenance/internal/engine/changelog"
)

// MigrationProvider opens migration sessions for a single changelog file
// against the live database.
type MigrationProvider interface {
	Open(ctx context.Context, file string) (Session, error)
}

// Session is a scoped, read-only view of one changelog file and the ledger.
// Callers must Close every session they open.
type Session interface {
	// UnrunChangeSets returns changesets declared in the file that are not
	// recorded as run, in declaration order.
	UnrunChangeSets(ctx context.Context, scope string) ([]changelog.ChangeSet, error)
	Close() error
}

// LedgerStatus is an optional provider extension reporting whether the
// ledger lock is currently held.
type LedgerStatus interface {
	Locked(ctx context.Context) (bool, error)
}

// UpdateStatus is the outcome of one status evaluation.
type UpdateStatus struct {
	RunID             string    `json:"run_id"`
	Baseline          string    `json:"baseline"`
	PendingFiles      []string  `json:"pending_files"`
	PendingChangeSets int       `json:"pending_changesets"`
	UpdateRequired    bool      `json:"update_required"`
	LedgerLocked      bool      `json:"ledger_locked"`
	CheckedAt         time.Time `json:"checked_at"`
}

// CatalogSummary describes the snapshot and update changelogs on disk.
type CatalogSummary struct {
	Layout           string               `json:"layout"`
	SnapshotVersions []string             `json:"snapshot_versions"`
	UpdateVersions   []string             `json:"update_versions"`
	LatestSnapshot   string               `json:"latest_snapshot,omitempty"`
	Combinations     []VersionCombination `json:"combinations"`
}

// VersionCombination is a snapshot version with the files needed to bring a
// database initialized from it up to date.
type VersionCombination struct {
	Version string   `json:"version"`
	Files   []string `json:"files"`
}

// DetectionService is the driving port used by the CLI and watch loop.
type DetectionService interface {
	ResolveBaseline(ctx context.Context, scope string) (string, error)
	PendingUpdateFiles(ctx context.Context, baseline, scope string) ([]string, error)
	Status(ctx context.Context, scope string) (UpdateStatus, error)
	Catalog(ctx context.Context) (CatalogSummary, error)
}
