package app

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/vk/deprender/internal/notify"
	"github.com/vk/deprender/internal/worker"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW       io.Writer
	logger     *slog.Logger
	config     *Config
	launcher   worker.Launcher
	tracker    *notify.Tracker
	httpServer *http.Server
}

// Option customizes an App.
type Option func(*App)

// WithLauncher replaces the renderer launcher, mainly for tests.
func WithLauncher(l worker.Launcher) Option {
	return func(a *App) { a.launcher = l }
}

// NewApp builds an App. Command output goes to outW and log lines to logW.
func NewApp(outW, logW io.Writer, cfg *Config, opts ...Option) *App {
	logger := newLogger(cfg.Settings.LogLevel, cfg.Settings.LogFormat, logW)
	a := &App{
		outW:    outW,
		logger:  logger,
		config:  cfg,
		tracker: &notify.Tracker{},
		launcher: worker.ExecLauncher{
			Executable: cfg.Settings.RendererExecutable,
			Args:       cfg.Settings.RendererArgs,
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	logger.Debug("Logger configured successfully.")
	return a
}

// Tracker returns the progress tracker behind the status endpoint.
func (a *App) Tracker() *notify.Tracker {
	return a.tracker
}
