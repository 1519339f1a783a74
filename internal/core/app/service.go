package app

import (
	"context"
	"log/slog"
	"time"

	"provenance/internal/core/errors"
	"provenance/internal/core/ports"
	"provenance/internal/engine/detective"
	"provenance/internal/engine/version"
	"provenance/internal/shared/observability"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type detectionService struct {
	app *App
}

var _ ports.DetectionService = (*detectionService)(nil)

func NewDetectionService(app *App) ports.DetectionService {
	return &detectionService{app: app}
}

func (a *App) DetectionService() ports.DetectionService {
	return NewDetectionService(a)
}

func (s *detectionService) ResolveBaseline(ctx context.Context, scope string) (_ string, err error) {
	scope = s.scope(scope)
	ctx, span := observability.Tracer.Start(ctx, "detectionService.ResolveBaseline",
		trace.WithAttributes(attribute.String("scope", scope)))
	defer func() { finish(span, err) }()

	return s.detective(s.app.logger).ResolveBaseline(ctx, scope, s.app.Provider)
}

func (s *detectionService) PendingUpdateFiles(ctx context.Context, baseline, scope string) (_ []string, err error) {
	scope = s.scope(scope)
	ctx, span := observability.Tracer.Start(ctx, "detectionService.PendingUpdateFiles",
		trace.WithAttributes(attribute.String("baseline", baseline), attribute.String("scope", scope)))
	defer func() { finish(span, err) }()

	return s.detective(s.app.logger).PendingUpdateFiles(ctx, baseline, scope, s.app.Provider)
}

// Status resolves the baseline and the owed update files in one run. Any
// failure returns no status: the caller cannot tell whether an update is
// needed.
func (s *detectionService) Status(ctx context.Context, scope string) (_ ports.UpdateStatus, err error) {
	scope = s.scope(scope)
	runID := uuid.NewString()
	ctx, span := observability.Tracer.Start(ctx, "detectionService.Status",
		trace.WithAttributes(attribute.String("run_id", runID), attribute.String("scope", scope)))
	defer func() { finish(span, err) }()
	defer observeDuration("status", time.Now())

	logger := s.app.logger.With("run_id", runID)
	logger.Info("evaluating migration state", "scope", scope)

	locked := false
	if ls, ok := s.app.Provider.(ports.LedgerStatus); ok {
		locked, err = ls.Locked(ctx)
		if err != nil {
			return ports.UpdateStatus{}, err
		}
		if locked {
			logger.Warn("migration ledger is locked by another runner; results may change")
		}
	}

	d := s.detective(logger)
	baseline, err := d.ResolveBaseline(ctx, scope, s.app.Provider)
	if err != nil {
		logger.Error("cannot determine migration state", "error", err)
		return ports.UpdateStatus{}, err
	}
	pending, err := d.PendingUpdates(ctx, baseline, scope, s.app.Provider)
	if err != nil {
		logger.Error("cannot determine migration state", "baseline", baseline, "error", err)
		return ports.UpdateStatus{}, err
	}

	status := ports.UpdateStatus{
		RunID:        runID,
		Baseline:     baseline,
		PendingFiles: make([]string, 0, len(pending)),
		LedgerLocked: locked,
		CheckedAt:    time.Now().UTC(),
	}
	for _, p := range pending {
		status.PendingFiles = append(status.PendingFiles, p.Path)
		status.PendingChangeSets += p.Unrun
	}
	status.UpdateRequired = len(status.PendingFiles) > 0

	logger.Info("migration state evaluated",
		"baseline", status.Baseline,
		"pending_files", len(status.PendingFiles),
		"pending_changesets", status.PendingChangeSets,
		"update_required", status.UpdateRequired)
	span.SetAttributes(
		attribute.String("baseline", status.Baseline),
		attribute.Bool("update_required", status.UpdateRequired))
	return status, nil
}

func (s *detectionService) Catalog(ctx context.Context) (_ ports.CatalogSummary, err error) {
	_, span := observability.Tracer.Start(ctx, "detectionService.Catalog")
	defer func() { finish(span, err) }()

	f := s.app.Finder
	summary := ports.CatalogSummary{
		Layout:           string(s.app.Catalog.Layout()),
		SnapshotVersions: f.SnapshotVersions(),
		UpdateVersions:   f.UpdateVersions(),
		Combinations:     make([]ports.VersionCombination, 0),
	}
	if latest, ok := f.LatestSnapshotVersion(); ok {
		summary.LatestSnapshot = latest
	}

	combinations, err := f.ChangeLogCombinations()
	if err != nil {
		return ports.CatalogSummary{}, err
	}
	versions := make([]string, 0, len(combinations))
	for v := range combinations {
		versions = append(versions, v)
	}
	versions, err = version.SortAscending(versions)
	if err != nil {
		return ports.CatalogSummary{}, err
	}
	for _, v := range versions {
		summary.Combinations = append(summary.Combinations, ports.VersionCombination{Version: v, Files: combinations[v]})
	}
	return summary, nil
}

func (s *detectionService) detective(logger *slog.Logger) *detective.Detective {
	return detective.New(s.app.Finder, logger)
}

func (s *detectionService) scope(scope string) string {
	if scope != "" {
		return scope
	}
	return s.app.Config.Resolution.Scope
}

func finish(span trace.Span, err error) {
	if err != nil {
		observability.ResolutionFailuresTotal.WithLabelValues(string(errors.CodeOf(err))).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func observeDuration(operation string, started time.Time) {
	observability.ResolutionDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}
