package catalog

import (
	"io/fs"
	"log/slog"
	"path"
	"strings"

	"provenance/internal/core/errors"
	"provenance/internal/engine/changelog"
	"provenance/internal/engine/version"

	"github.com/gobwas/glob"
)

const (
	DefaultFlatSnapshotsDir = "snapshots"
	DefaultFlatUpdatesDir   = "updates"
	schemaOnlyFolder        = "schema-only"
	coreDataFolder          = "core-data"
)

// Flat implements the layout
//
//	<base>/snapshots/schema-only/liquibase-schema-only-<version>.xml
//	<base>/snapshots/core-data/liquibase-core-data-<version>.xml
//	<base>/updates/liquibase-update-to-latest-<version>.xml
//
// Versions embedded in file names are reduced to their major.minor.x line.
type Flat struct {
	fsys      fs.FS
	schemaDir string
	coreDir   string
	updateDir string
	ext       string
	logger    *slog.Logger

	schemaGlob glob.Glob
	coreGlob   glob.Glob
	updateGlob glob.Glob
}

var _ Catalog = (*Flat)(nil)

func newFlat(fsys fs.FS, opts Options) (*Flat, error) {
	snapshots := opts.SnapshotsDir
	if strings.TrimSpace(snapshots) == "" {
		snapshots = DefaultFlatSnapshotsDir
	}
	updates := opts.UpdatesDir
	if strings.TrimSpace(updates) == "" {
		updates = DefaultFlatUpdatesDir
	}

	c := &Flat{
		fsys:      fsys,
		schemaDir: changelog.NormalizePath(path.Join(opts.BaseDir, snapshots, schemaOnlyFolder)),
		coreDir:   changelog.NormalizePath(path.Join(opts.BaseDir, snapshots, coreDataFolder)),
		updateDir: changelog.NormalizePath(path.Join(opts.BaseDir, updates)),
		ext:       opts.Extension,
		logger:    opts.Logger,
	}

	var err error
	if c.schemaGlob, err = compileNameGlob(SchemaOnlyBaseName, c.ext); err != nil {
		return nil, err
	}
	if c.coreGlob, err = compileNameGlob(CoreDataBaseName, c.ext); err != nil {
		return nil, err
	}
	if c.updateGlob, err = compileNameGlob(UpdateBaseName, c.ext); err != nil {
		return nil, err
	}
	return c, nil
}

func compileNameGlob(base, ext string) (glob.Glob, error) {
	pattern := glob.QuoteMeta(base+"-") + "*" + glob.QuoteMeta(ext)
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeValidationError, "compile catalog file pattern")
	}
	return g, nil
}

func (c *Flat) Layout() Layout { return LayoutFlat }

func (c *Flat) SnapshotVersions() []string {
	schema := c.versionsIn(c.schemaDir, SchemaOnlyBaseName, c.schemaGlob)
	core := make(map[string]bool)
	for _, v := range c.versionsIn(c.coreDir, CoreDataBaseName, c.coreGlob) {
		core[v] = true
	}

	paired := make([]string, 0, len(schema))
	for _, v := range schema {
		if !core[v] {
			c.logger.Warn("snapshot has no core-data changelog, ignoring", "version", v)
			continue
		}
		paired = append(paired, v)
	}
	return sortedVersions(c.logger, paired)
}

func (c *Flat) UpdateVersions() []string {
	return sortedVersions(c.logger, c.versionsIn(c.updateDir, UpdateBaseName, c.updateGlob))
}

func (c *Flat) SnapshotFiles(v string) (changelog.File, changelog.File, error) {
	dotX, err := version.AsDotX(v)
	if err != nil {
		return changelog.File{}, changelog.File{}, err
	}
	schema := changelog.File{
		Path:    c.locate(c.schemaDir, SchemaOnlyBaseName, c.schemaGlob, dotX),
		Version: dotX,
		Role:    changelog.RoleSnapshotSchema,
	}
	coreData := changelog.File{
		Path:    c.locate(c.coreDir, CoreDataBaseName, c.coreGlob, dotX),
		Version: dotX,
		Role:    changelog.RoleSnapshotCoreData,
	}
	return schema, coreData, nil
}

func (c *Flat) UpdateFile(v string) (changelog.File, error) {
	dotX, err := version.AsDotX(v)
	if err != nil {
		return changelog.File{}, err
	}
	return changelog.File{
		Path:    c.locate(c.updateDir, UpdateBaseName, c.updateGlob, dotX),
		Version: dotX,
		Role:    changelog.RoleUpdate,
	}, nil
}

// versionsIn returns the major.minor.x tokens of matching files in dir.
func (c *Flat) versionsIn(dir, base string, g glob.Glob) []string {
	var out []string
	for _, name := range fileNames(c.fsys, dir) {
		token, ok := c.token(name, base, g)
		if !ok {
			continue
		}
		dotX, err := version.AsDotX(token)
		if err != nil {
			c.logger.Debug("skipping changelog without version token", "file", name)
			continue
		}
		out = append(out, dotX)
	}
	return out
}

func (c *Flat) token(name, base string, g glob.Glob) (string, bool) {
	if !g.Match(name) {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(name, base+"-"), c.ext), true
}

// locate finds the on-disk file of a minor line. Files named with a full
// patch version ("-2.1.0.xml") resolve to the same line as "-2.1.x.xml";
// without a match the conventional name is returned.
func (c *Flat) locate(dir, base string, g glob.Glob, dotX string) string {
	conventional := path.Join(dir, base+"-"+dotX+c.ext)
	for _, name := range fileNames(c.fsys, dir) {
		token, ok := c.token(name, base, g)
		if !ok {
			continue
		}
		if token == dotX {
			return conventional
		}
		if line, err := version.AsDotX(token); err == nil && line == dotX {
			return path.Join(dir, name)
		}
	}
	return conventional
}
