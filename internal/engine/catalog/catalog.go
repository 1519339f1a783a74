// Package catalog enumerates the snapshot and update changelogs shipped with
// an installation. Two historical storage layouts are supported behind one
// Catalog interface; both read through an fs.FS.
package catalog

import (
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"provenance/internal/core/errors"
	"provenance/internal/engine/changelog"
	"provenance/internal/engine/version"
)

// Layout names a storage convention.
type Layout string

const (
	// LayoutSubfolder keeps one folder per version holding fixed file names.
	LayoutSubfolder Layout = "subfolder"
	// LayoutFlat keeps all files of a role in one folder, version in the file name.
	LayoutFlat Layout = "flat"
)

const (
	SchemaOnlyBaseName = "liquibase-schema-only"
	CoreDataBaseName   = "liquibase-core-data"
	UpdateBaseName     = "liquibase-update-to-latest"
	DefaultExtension   = ".xml"
)

// Catalog is the logical query surface shared by both layouts.
type Catalog interface {
	Layout() Layout
	// SnapshotVersions lists snapshot versions, ascending.
	SnapshotVersions() []string
	// UpdateVersions lists update versions, ascending.
	UpdateVersions() []string
	// SnapshotFiles returns the schema-only and core-data files of version.
	SnapshotFiles(version string) (schema, coreData changelog.File, err error)
	// UpdateFile returns the update file of version.
	UpdateFile(version string) (changelog.File, error)
}

// Options tunes folder names. Zero values select the layout defaults.
type Options struct {
	BaseDir      string
	SnapshotsDir string
	UpdatesDir   string
	Extension    string
	Logger       *slog.Logger
}

// New returns the catalog implementation for layout.
func New(layout Layout, fsys fs.FS, opts Options) (Catalog, error) {
	if fsys == nil {
		return nil, errors.New(errors.CodeValidationError, "catalog file system is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if strings.TrimSpace(opts.Extension) == "" {
		opts.Extension = DefaultExtension
	}
	if !strings.HasPrefix(opts.Extension, ".") {
		opts.Extension = "." + opts.Extension
	}
	opts.BaseDir = changelog.NormalizePath(opts.BaseDir)

	switch layout {
	case LayoutSubfolder:
		return newSubfolder(fsys, opts), nil
	case LayoutFlat:
		return newFlat(fsys, opts)
	default:
		return nil, errors.AddContext(errors.New(errors.CodeNotSupported, "unknown catalog layout"), "layout", string(layout))
	}
}

// SubfolderNames lists the directory names directly below dir. A missing or
// unreadable dir yields an empty result.
func SubfolderNames(fsys fs.FS, dir string) []string {
	entries, err := fs.ReadDir(fsys, fsPath(dir))
	if err != nil {
		return []string{}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}

// fileNames lists regular files directly below dir, empty on error.
func fileNames(fsys fs.FS, dir string) []string {
	entries, err := fs.ReadDir(fsys, fsPath(dir))
	if err != nil {
		return []string{}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}

func fsPath(dir string) string {
	if dir == "" {
		return "."
	}
	return dir
}

// sortedVersions drops names that are not versions and returns the rest
// ascending without duplicates.
func sortedVersions(logger *slog.Logger, names []string) []string {
	seen := make(map[string]bool, len(names))
	valid := make([]string, 0, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		if _, err := version.Parse(n); err != nil {
			logger.Debug("skipping catalog entry that is not a version", "name", n)
			continue
		}
		valid = append(valid, n)
	}
	out, err := version.SortAscending(valid)
	if err != nil {
		// every entry parsed above
		sort.Strings(valid)
		return valid
	}
	return out
}
