package cliapp

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	coreapp "provenance/internal/core/app"
	"provenance/internal/core/config"
	"provenance/internal/core/errors"
	"provenance/internal/core/ports"
	"provenance/internal/shared/observability"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, args, os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseOptions(args, stderr)
	if err != nil {
		return exitUsage
	}

	if opts.version {
		fmt.Fprintf(stdout, "provenance v%s\n", versionString)
		return exitOK
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		configureLogging(stderr, config.Log{Level: "info", Format: config.LogFormatText}, opts.verbose)
		slog.Error("failed to load config", "path", opts.configPath, "error", err)
		return exitUsage
	}
	configureLogging(stderr, cfg.Log, opts.verbose)

	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, err := range errs {
			slog.Error("invalid config", "path", opts.configPath, "error", err)
		}
		return exitUsage
	}
	if err := validateCommand(opts); err != nil {
		fmt.Fprintln(stderr, err.Error())
		return exitUsage
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Endpoint:    cfg.Observability.OTLPEndpoint,
		ServiceName: cfg.Observability.ServiceName,
		Insecure:    cfg.Observability.OTLPInsecure,
	})
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		return exitUsage
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}()

	stopMetrics := startMetricsServer(cfg.Observability.MetricsAddress)
	defer stopMetrics()

	app, err := coreapp.New(cfg)
	if err != nil {
		slog.Error("failed to initialize app", "error", err)
		return exitUsage
	}
	defer func() {
		if err := app.Close(context.Background()); err != nil {
			slog.Warn("failed to close app", "error", err)
		}
	}()

	return runCommand(ctx, app, cfg, opts, stdout, stderr)
}

func runCommand(ctx context.Context, app *coreapp.App, cfg *config.Config, opts cliOptions, stdout, stderr io.Writer) int {
	svc := app.DetectionService()
	out := &printer{w: stdout, json: opts.json}

	switch opts.command {
	case commandStatus:
		if opts.watch || cfg.Watch.Enabled {
			return runWatch(ctx, app, opts.scope, out, stderr)
		}
		status, err := svc.Status(ctx, opts.scope)
		if err != nil {
			return undetermined(stderr, err)
		}
		return out.status(status)

	case commandBaseline:
		baseline, err := svc.ResolveBaseline(ctx, opts.scope)
		if err != nil {
			return undetermined(stderr, err)
		}
		return out.baseline(baseline)

	case commandPending:
		files, err := svc.PendingUpdateFiles(ctx, opts.args[0], opts.scope)
		if err != nil {
			if errors.IsCode(err, errors.CodeValidationError) {
				fmt.Fprintln(stderr, err.Error())
				return exitUsage
			}
			return undetermined(stderr, err)
		}
		return out.pending(opts.args[0], files)

	case commandCatalog:
		summary, err := svc.Catalog(ctx)
		if err != nil {
			fmt.Fprintln(stderr, err.Error())
			return exitUsage
		}
		return out.catalog(summary)

	case commandSeed:
		added, err := app.Seed(ctx, opts.args)
		if err != nil {
			fmt.Fprintln(stderr, err.Error())
			return exitUsage
		}
		return out.seeded(added)
	}
	return exitUsage
}

// runWatch prints every evaluation until ctx is cancelled. Failed
// evaluations are reported but do not stop the loop.
func runWatch(ctx context.Context, app *coreapp.App, scope string, out *printer, stderr io.Writer) int {
	err := app.Watch(ctx, scope, func(status ports.UpdateStatus, err error) {
		if err != nil {
			fmt.Fprintf(stderr, "cannot determine migration state: %v\n", err)
			return
		}
		out.status(status)
	})
	if err != nil {
		slog.Error("watch failed", "error", err)
		return exitUsage
	}
	return exitOK
}

func undetermined(stderr io.Writer, err error) int {
	slog.Error("cannot determine migration state", "code", errors.CodeOf(err), "error", err)
	fmt.Fprintf(stderr, "cannot determine migration state: %v\n", err)
	return exitUndetermined
}

func validateCommand(opts cliOptions) error {
	switch opts.command {
	case commandStatus, commandBaseline, commandCatalog:
		if len(opts.args) > 0 {
			return fmt.Errorf("%s takes no arguments", opts.command)
		}
	case commandPending:
		if len(opts.args) != 1 {
			return fmt.Errorf("pending requires one baseline argument: provenance pending <baseline>")
		}
	case commandSeed:
		if len(opts.args) == 0 {
			return fmt.Errorf("seed requires at least one changelog file: provenance seed <file>...")
		}
	default:
		return fmt.Errorf("unknown command %q", opts.command)
	}
	if opts.watch && opts.command != commandStatus {
		return fmt.Errorf("-watch only applies to the status command")
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if path != defaultConfigPath || !stderrors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	cfg, fallbackErr := config.Load(exampleConfigPath)
	if fallbackErr != nil {
		return nil, err
	}
	return cfg, nil
}

func configureLogging(w io.Writer, cfg config.Log, verbose bool) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(w, handlerOpts)
	if cfg.Format == config.LogFormatJSON {
		handler = slog.NewJSONHandler(w, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
}

func startMetricsServer(addr string) func() {
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "address", addr, "error", err)
		}
	}()
	slog.Info("serving metrics", "address", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
