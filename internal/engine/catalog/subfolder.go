package catalog

import (
	"io/fs"
	"log/slog"
	"path"
	"strings"

	"provenance/internal/core/errors"
	"provenance/internal/engine/changelog"
)

const (
	DefaultSubfolderSnapshotsDir = "liquibase-snapshots"
	DefaultSubfolderUpdatesDir   = "liquibase-updates"
)

// Subfolder implements the layout
//
//	<snapshots>/<version>/liquibase-schema-only.xml
//	<snapshots>/<version>/liquibase-core-data.xml
//	<updates>/<version>/liquibase-update-to-latest.xml
type Subfolder struct {
	fsys         fs.FS
	snapshotsDir string
	updatesDir   string
	ext          string
	logger       *slog.Logger
}

var _ Catalog = (*Subfolder)(nil)

func newSubfolder(fsys fs.FS, opts Options) *Subfolder {
	snapshots := opts.SnapshotsDir
	if strings.TrimSpace(snapshots) == "" {
		snapshots = DefaultSubfolderSnapshotsDir
	}
	updates := opts.UpdatesDir
	if strings.TrimSpace(updates) == "" {
		updates = DefaultSubfolderUpdatesDir
	}
	return &Subfolder{
		fsys:         fsys,
		snapshotsDir: changelog.NormalizePath(path.Join(opts.BaseDir, snapshots)),
		updatesDir:   changelog.NormalizePath(path.Join(opts.BaseDir, updates)),
		ext:          opts.Extension,
		logger:       opts.Logger,
	}
}

func (c *Subfolder) Layout() Layout { return LayoutSubfolder }

func (c *Subfolder) SnapshotVersions() []string {
	return sortedVersions(c.logger, SubfolderNames(c.fsys, c.snapshotsDir))
}

func (c *Subfolder) UpdateVersions() []string {
	return sortedVersions(c.logger, SubfolderNames(c.fsys, c.updatesDir))
}

func (c *Subfolder) SnapshotFiles(v string) (changelog.File, changelog.File, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return changelog.File{}, changelog.File{}, errors.New(errors.CodeValidationError, "snapshot version must not be empty")
	}
	schema := changelog.File{
		Path:    path.Join(c.snapshotsDir, v, SchemaOnlyBaseName+c.ext),
		Version: v,
		Role:    changelog.RoleSnapshotSchema,
	}
	coreData := changelog.File{
		Path:    path.Join(c.snapshotsDir, v, CoreDataBaseName+c.ext),
		Version: v,
		Role:    changelog.RoleSnapshotCoreData,
	}
	return schema, coreData, nil
}

func (c *Subfolder) UpdateFile(v string) (changelog.File, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return changelog.File{}, errors.New(errors.CodeValidationError, "update version must not be empty")
	}
	return changelog.File{
		Path:    path.Join(c.updatesDir, v, UpdateBaseName+c.ext),
		Version: v,
		Role:    changelog.RoleUpdate,
	}, nil
}
