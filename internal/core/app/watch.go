package app

import (
	"context"
	"path/filepath"

	"provenance/internal/core/errors"
	"provenance/internal/core/ports"
	"provenance/internal/core/watcher"
	"provenance/internal/shared/observability"
	"provenance/internal/shared/util"
)

// Watch evaluates Status once, then again after every debounced batch of
// changelog edits under the catalog root, until ctx is done. Evaluations
// are throttled to watch.max_per_minute; bursts beyond it are delayed and
// coalesced, never dropped.
func (a *App) Watch(ctx context.Context, scope string, report func(ports.UpdateStatus, error)) error {
	if report == nil {
		return errors.New(errors.CodeValidationError, "watch requires a report callback")
	}
	svc := a.DetectionService()
	limiter := util.NewPerMinuteLimiter(a.Config.Watch.MaxPerMinute)

	trigger := make(chan struct{}, 1)
	w, err := watcher.NewWatcher(a.Config.Watch.Debounce, a.Config.Watch.Exclude, func(paths []string) {
		a.logger.Debug("changelog files changed", "files", paths)
		select {
		case trigger <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "create changelog watcher")
	}
	w.SetLogger(a.logger)
	if ext := a.Config.Catalog.Extension; ext != "" {
		w.SetExtensions([]string{ext})
	}

	a.watchMu.Lock()
	if a.activeWatcher != nil {
		a.watchMu.Unlock()
		_ = w.Close()
		return errors.New(errors.CodeInternal, "a watch is already running")
	}
	a.activeWatcher = w
	a.watchMu.Unlock()
	defer a.stopWatcher(w)

	root := a.Config.Catalog.Root
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	if err := w.Watch([]string{root}); err != nil {
		return errors.AddContext(errors.Wrap(err, errors.CodeInternal, "watch catalog root"), errors.CtxPath, root)
	}
	a.logger.Info("watching changelog catalog", "root", root, "debounce", a.Config.Watch.Debounce)

	evaluate := func() {
		report(svc.Status(ctx, scope))
	}
	limiter.Allow(1)
	evaluate()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("watch stopped")
			return nil
		case <-trigger:
			if !limiter.Allow(1) {
				observability.WatchEvaluationsThrottled.Inc()
				a.logger.Debug("evaluation throttled", "max_per_minute", a.Config.Watch.MaxPerMinute)
				if err := limiter.Wait(ctx, 1); err != nil {
					return nil
				}
			}
			evaluate()
		}
	}
}

func (a *App) stopWatcher(w *watcher.Watcher) {
	a.watchMu.Lock()
	defer a.watchMu.Unlock()
	if a.activeWatcher == w {
		_ = w.Close()
		a.activeWatcher = nil
	}
}
