// Package detective identifies the snapshot a live database was initialized
// from and the update changelogs it still owes.
package detective

import (
	"context"
	"log/slog"
	"time"

	"provenance/internal/core/errors"
	"provenance/internal/core/ports"
	"provenance/internal/engine/changelog"
	"provenance/internal/engine/finder"
	"provenance/internal/engine/version"
	"provenance/internal/shared/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// VintageAuthor is the author of the housekeeping changesets that wrap every
// snapshot and never count as pending work.
const VintageAuthor = "ben"

var vintageIDs = map[string]bool{
	"disable-foreign-key-checks": true,
	"enable-foreign-key-checks":  true,
}

// Detective runs the baseline resolution protocol. It holds no per-call
// state; the migration provider is passed to every call.
type Detective struct {
	finder *finder.Finder
	logger *slog.Logger
}

// PendingFile is an update changelog with its unrun changeset count.
type PendingFile struct {
	Path    string
	Version string
	Unrun   int
}

func New(f *finder.Finder, logger *slog.Logger) *Detective {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detective{finder: f, logger: logger}
}

// ResolveBaseline returns the newest snapshot version whose schema and core
// data changesets are all recorded as run, ignoring vintage changesets.
func (d *Detective) ResolveBaseline(ctx context.Context, scope string, provider ports.MigrationProvider) (_ string, err error) {
	ctx, span := observability.Tracer.Start(ctx, "detective.ResolveBaseline",
		trace.WithAttributes(attribute.String("scope", scope)))
	defer func() { endSpan(span, err) }()
	defer observeDuration("resolve_baseline", time.Now())

	if provider == nil {
		return "", errors.New(errors.CodeValidationError, "migration provider is required")
	}

	combinations, err := d.finder.SnapshotCombinations()
	if err != nil {
		return "", err
	}
	if len(combinations) == 0 {
		return "", errors.New(errors.CodeNoCandidates, "no snapshot versions found in changelog catalog")
	}

	candidates, err := SnapshotVersionsDescending(combinations)
	if err != nil {
		return "", err
	}

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		observability.CandidatesChecked.Inc()

		files, err := d.finder.SnapshotFiles(candidate)
		if err != nil {
			return "", err
		}

		total := 0
		for _, file := range files {
			unrun, err := d.unrunChangeSets(ctx, provider, file, scope)
			if err != nil {
				return "", errors.AddContext(err, errors.CtxVersion, candidate)
			}
			count := len(ExcludeVintage(unrun))
			observability.UnrunChangeSets.WithLabelValues(string(file.Role)).Set(float64(count))
			d.logger.Info("checked snapshot changelog",
				"version", candidate,
				"file", file.Path,
				"unrun_changesets", count)
			total += count
		}

		if total == 0 {
			d.logger.Info("resolved initialization snapshot", "version", candidate)
			span.SetAttributes(attribute.String("baseline", candidate))
			return candidate, nil
		}
	}

	return "", errors.AddContext(
		errors.New(errors.CodeUnidentifiable, "could not identify the snapshot version used to initialize this database"),
		errors.CtxScope, scope)
}

// PendingUpdateFiles returns update changelog paths newer than baseline that
// still have unrun changesets, ascending.
func (d *Detective) PendingUpdateFiles(ctx context.Context, baseline, scope string, provider ports.MigrationProvider) ([]string, error) {
	pending, err := d.PendingUpdates(ctx, baseline, scope, provider)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(pending))
	for _, p := range pending {
		paths = append(paths, p.Path)
	}
	return paths, nil
}

// PendingUpdates is PendingUpdateFiles with versions and unrun counts.
// Vintage changesets are counted here.
func (d *Detective) PendingUpdates(ctx context.Context, baseline, scope string, provider ports.MigrationProvider) (_ []PendingFile, err error) {
	ctx, span := observability.Tracer.Start(ctx, "detective.PendingUpdates",
		trace.WithAttributes(attribute.String("baseline", baseline), attribute.String("scope", scope)))
	defer func() { endSpan(span, err) }()
	defer observeDuration("pending_updates", time.Now())

	if provider == nil {
		return nil, errors.New(errors.CodeValidationError, "migration provider is required")
	}

	versions, err := d.finder.UpdateVersionsGreaterThan(baseline)
	if err != nil {
		return nil, errors.AddContext(err, errors.CtxVersion, baseline)
	}

	pending := make([]PendingFile, 0, len(versions))
	for _, v := range versions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		names, err := d.finder.UpdateFileNames([]string{v})
		if err != nil {
			return nil, err
		}
		file := changelog.File{Path: names[0], Version: v, Role: changelog.RoleUpdate}

		unrun, err := d.unrunChangeSets(ctx, provider, file, scope)
		if err != nil {
			return nil, errors.AddContext(err, errors.CtxVersion, v)
		}
		observability.UnrunChangeSets.WithLabelValues(string(file.Role)).Set(float64(len(unrun)))
		d.logger.Info("checked update changelog",
			"version", v,
			"file", file.Path,
			"unrun_changesets", len(unrun))

		if len(unrun) > 0 {
			pending = append(pending, PendingFile{Path: file.Path, Version: v, Unrun: len(unrun)})
		}
	}

	observability.PendingUpdateFiles.Set(float64(len(pending)))
	return pending, nil
}

// unrunChangeSets opens one session for file and always closes it.
func (d *Detective) unrunChangeSets(ctx context.Context, provider ports.MigrationProvider, file changelog.File, scope string) (_ []changelog.ChangeSet, err error) {
	session, err := provider.Open(ctx, file.Path)
	if err != nil {
		return nil, providerError(err, "open migration session", file.Path)
	}
	observability.SessionsOpened.WithLabelValues(string(file.Role)).Inc()

	defer func() {
		if cerr := session.Close(); cerr != nil && err == nil {
			err = providerError(cerr, "close migration session", file.Path)
		}
	}()

	unrun, err := session.UnrunChangeSets(ctx, scope)
	if err != nil {
		return nil, providerError(err, "list unrun changesets", file.Path)
	}
	return unrun, nil
}

// SnapshotVersionsDescending orders combination keys newest first.
func SnapshotVersionsDescending(combinations map[string][]string) ([]string, error) {
	versions := make([]string, 0, len(combinations))
	for v := range combinations {
		versions = append(versions, v)
	}
	return version.SortDescending(versions)
}

// IsVintage reports whether cs is one of the fixed housekeeping changesets.
func IsVintage(cs changelog.ChangeSet) bool {
	return cs.Author == VintageAuthor && vintageIDs[cs.ID]
}

// ExcludeVintage returns changeSets without vintage entries, order kept.
func ExcludeVintage(changeSets []changelog.ChangeSet) []changelog.ChangeSet {
	out := make([]changelog.ChangeSet, 0, len(changeSets))
	for _, cs := range changeSets {
		if IsVintage(cs) {
			continue
		}
		out = append(out, cs)
	}
	return out
}

func providerError(err error, msg, path string) error {
	return errors.AddContext(errors.Wrap(err, errors.CodeProvider, msg), errors.CtxPath, path)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func observeDuration(operation string, started time.Time) {
	observability.ResolutionDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}
