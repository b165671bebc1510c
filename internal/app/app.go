// Package app provides the top-level application lifecycle. It wires together
// all dependencies (API client, stream, caches, audit store), checks the
// remote feature gate, and runs the configured operating mode until the
// context is cancelled or the feed host is torn down.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Lesnak1/Opinion-Lens/internal/config"
	"github.com/Lesnak1/Opinion-Lens/internal/domain"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// base is the untagged logger handed to subsystems, which apply their
	// own component tags.
	base    *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
		base:   logger,
	}
}

// Run is the main entry point. It wires all dependencies, checks the remote
// feature gate, starts the configured mode, and blocks until the context is
// cancelled or the feed session ends.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)
	a.logger.DebugContext(ctx, "active configuration",
		slog.Any("config", config.RedactedConfig(a.cfg)),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if err := a.checkFeatureGate(ctx, deps); err != nil {
		return err
	}

	mode := strings.ToLower(a.cfg.Mode)
	switch mode {
	case "replay":
		return a.ReplayMode(ctx, deps)
	case "watch":
		return a.WatchMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// checkFeatureGate consults the remote engine settings once at startup. A
// disabled gate aborts the run; an unreachable settings endpoint does not,
// since the gate is a kill switch rather than a dependency.
func (a *App) checkFeatureGate(ctx context.Context, deps *Dependencies) error {
	settings, err := deps.Client.GetEngineSettings(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "engine settings unavailable, continuing",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if !settings.Enabled {
		a.logger.InfoContext(ctx, "remote kill switch is on",
			slog.String("message", settings.Message),
		)
		return fmt.Errorf("app: %w", domain.ErrEngineDisabled)
	}
	return nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
