// Package finder answers questions about available snapshot and update
// changelogs. Every call is a pure function of the current catalog listing.
package finder

import (
	"strings"

	"provenance/internal/core/errors"
	"provenance/internal/engine/catalog"
	"provenance/internal/engine/changelog"
	"provenance/internal/engine/version"
)

type Finder struct {
	catalog catalog.Catalog
}

func New(c catalog.Catalog) *Finder {
	return &Finder{catalog: c}
}

func (f *Finder) SnapshotVersions() []string { return f.catalog.SnapshotVersions() }

func (f *Finder) UpdateVersions() []string { return f.catalog.UpdateVersions() }

// ChangeLogCombinations maps every snapshot version to its snapshot pair
// followed by all newer update files, ascending.
func (f *Finder) ChangeLogCombinations() (map[string][]string, error) {
	combinations := make(map[string][]string)
	for _, v := range f.SnapshotVersions() {
		names, err := f.SnapshotFileNames(v)
		if err != nil {
			return nil, err
		}
		updates, err := f.UpdateVersionsGreaterThan(v)
		if err != nil {
			return nil, err
		}
		updateNames, err := f.UpdateFileNames(updates)
		if err != nil {
			return nil, err
		}
		combinations[v] = append(names, updateNames...)
	}
	return combinations, nil
}

// SnapshotCombinations maps every snapshot version to its snapshot pair only.
func (f *Finder) SnapshotCombinations() (map[string][]string, error) {
	combinations := make(map[string][]string)
	for _, v := range f.SnapshotVersions() {
		names, err := f.SnapshotFileNames(v)
		if err != nil {
			return nil, err
		}
		combinations[v] = names
	}
	return combinations, nil
}

// SnapshotFileNames returns the schema-only file first and the core-data file
// second. Core data only loads onto an existing schema.
func (f *Finder) SnapshotFileNames(v string) ([]string, error) {
	schema, core, err := f.catalog.SnapshotFiles(v)
	if err != nil {
		return nil, err
	}
	return []string{schema.Path, core.Path}, nil
}

// SnapshotFiles is SnapshotFileNames with roles attached.
func (f *Finder) SnapshotFiles(v string) ([]changelog.File, error) {
	schema, core, err := f.catalog.SnapshotFiles(v)
	if err != nil {
		return nil, err
	}
	return []changelog.File{schema, core}, nil
}

// LatestSnapshotVersion returns the greatest snapshot version, or false if
// the catalog holds none.
func (f *Finder) LatestSnapshotVersion() (string, bool) {
	latest, ok, err := version.Max(f.SnapshotVersions())
	if err != nil {
		return "", false
	}
	return latest, ok
}

// LatestSnapshotFilename returns the file of role for the latest snapshot.
func (f *Finder) LatestSnapshotFilename(role changelog.Role) (string, bool) {
	latest, ok := f.LatestSnapshotVersion()
	if !ok {
		return "", false
	}
	schema, core, err := f.catalog.SnapshotFiles(latest)
	if err != nil {
		return "", false
	}
	switch role {
	case changelog.RoleSnapshotSchema:
		return schema.Path, true
	case changelog.RoleSnapshotCoreData:
		return core.Path, true
	}
	return "", false
}

// UpdateVersionsEqualOrGreaterThan includes v itself, which must be a known
// update version.
func (f *Finder) UpdateVersionsEqualOrGreaterThan(v string) ([]string, error) {
	dotX, err := version.AsDotX(v)
	if err != nil {
		return nil, err
	}
	known := false
	for _, u := range f.UpdateVersions() {
		if u == dotX {
			known = true
			break
		}
	}
	if !known {
		return nil, errors.AddContext(
			errors.Newf(errors.CodeValidationError, "update version '%s' does not exist", dotX),
			errors.CtxVersion, dotX)
	}
	greater, err := f.UpdateVersionsGreaterThan(dotX)
	if err != nil {
		return nil, err
	}
	return append([]string{dotX}, greater...), nil
}

// UpdateVersionsGreaterThan returns update versions strictly newer than the
// minor line of v, ascending.
func (f *Finder) UpdateVersionsGreaterThan(v string) ([]string, error) {
	if strings.TrimSpace(v) == "" {
		return nil, errors.New(errors.CodeValidationError, "current version must not be empty")
	}
	dotX, err := version.AsDotX(v)
	if err != nil {
		return nil, err
	}
	base, err := version.Parse(dotX)
	if err != nil {
		return nil, err
	}

	var greater []string
	for _, u := range f.UpdateVersions() {
		uv, err := version.Parse(u)
		if err != nil {
			return nil, err
		}
		if uv.Compare(base) > 0 {
			greater = append(greater, u)
		}
	}
	sorted, err := version.SortAscending(greater)
	if err != nil {
		return nil, err
	}
	return sorted, nil
}

// UpdateFileNames maps versions to update file paths, preserving order.
func (f *Finder) UpdateFileNames(versions []string) ([]string, error) {
	names := make([]string, 0, len(versions))
	for _, v := range versions {
		file, err := f.catalog.UpdateFile(v)
		if err != nil {
			return nil, err
		}
		names = append(names, file.Path)
	}
	return names, nil
}
