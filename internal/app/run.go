package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vk/deprender/internal/ctxlog"
	"github.com/vk/deprender/internal/graph"
	"github.com/vk/deprender/internal/handoff"
	"github.com/vk/deprender/internal/notify"
	"github.com/vk/deprender/internal/resolver"
	"github.com/vk/deprender/internal/scheduler"
	"github.com/vk/deprender/internal/task"
	"github.com/vk/deprender/internal/worker"
)

// ErrRenderFailed is returned when a run finished with failed renders.
var ErrRenderFailed = errors.New("render failed")

// Run executes the configured command.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.", "command", string(a.config.Command), "projectRoot", a.config.ProjectRoot)

	if port := a.config.Settings.HealthcheckPort; port > 0 {
		a.startHealthcheckServer(ctx, port)
		defer a.closeHealthcheckServer(ctx)
	}

	var err error
	switch a.config.Command {
	case CommandRender:
		notifier, closeNotifier := a.notifier(ctx)
		defer closeNotifier()
		err = a.render(ctx, a.config.Spec, notifier)
	case CommandPlan:
		err = a.plan(ctx)
	case CommandSubmit:
		err = a.submit(ctx)
	case CommandWatch:
		notifier, closeNotifier := a.notifier(ctx)
		defer closeNotifier()
		err = a.watch(ctx, notifier)
	case CommandTargets:
		err = a.targets(ctx)
	default:
		err = fmt.Errorf("unknown command %q", a.config.Command)
	}

	a.logger.Debug("App.Run method finished.", "error", err)
	return err
}

// notifier assembles the progress observers. An unreachable socket.io
// server is logged and skipped; progress reporting never blocks a render.
func (a *App) notifier(ctx context.Context) (notify.Notifier, func()) {
	s := a.config.Settings
	observers := notify.Multi{notify.Log{}, a.tracker}
	if s.NotifyURL == "" {
		return observers, func() {}
	}

	sio, err := notify.DialSocketIO(ctx, notify.SocketIOConfig{
		URL:                s.NotifyURL,
		Namespace:          s.NotifyNamespace,
		Event:              s.NotifyEvent,
		InsecureSkipVerify: s.NotifyInsecureSkipVerify,
	})
	if err != nil {
		ctxlog.FromContext(ctx).Warn("Progress server unavailable, continuing without it.", "url", s.NotifyURL, "error", err)
		return observers, func() {}
	}
	return append(observers, sio), func() { _ = sio.Close() }
}

// render resolves spec and runs it to completion on a fresh worker pool.
func (a *App) render(ctx context.Context, spec task.Spec, notifier notify.Notifier) error {
	s := a.config.Settings
	logger := ctxlog.FromContext(ctx)

	sched, err := scheduler.New(ctx, a.config.ProjectRoot, spec,
		worker.NewPool(s.Workers, a.config.ProjectRoot, a.launcher),
		scheduler.WithPollInterval(s.PollInterval),
		scheduler.WithNotifier(notifier),
		scheduler.WithStrict(s.StrictManifests),
	)
	if err != nil {
		return err
	}
	if sched.IsDone() {
		logger.Info("Everything is up to date, nothing to render.", "task", spec.Describe())
		return nil
	}

	logger.Info("🚀 Starting render run.", "runID", sched.RunID(), "tasks", sched.Queued(), "workers", s.Workers)
	if err := sched.RunToCompletion(ctx); err != nil {
		return err
	}

	results := sched.Results()
	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
			logger.Error("Render failed.", "task", r.Task.Describe(), "exitCode", r.ExitCode, "outputDirectory", r.Task.OutputDirectory)
		}
	}
	logger.Info("🏁 Render run finished.", "runID", sched.RunID(), "renders", len(results), "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d renders", ErrRenderFailed, failed, len(results))
	}
	return nil
}

// plan prints the resolved tasks as JSON lines without rendering.
func (a *App) plan(ctx context.Context) error {
	p, err := resolver.Resolve(ctx, a.config.ProjectRoot, a.config.Spec, resolver.WithStrict(a.config.Settings.StrictManifests))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(a.outW)
	for _, t := range p.Tasks {
		if err := enc.Encode(t); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) submit(ctx context.Context) error {
	path, err := handoff.Submit(ctx, handoff.Dir(a.config.ProjectRoot, a.config.Settings.HandoffDir), a.config.Spec)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.outW, path)
	return nil
}

// watch renders hand-off tasks as they appear. A failed task is logged and
// the next one is picked up.
func (a *App) watch(ctx context.Context, notifier notify.Notifier) error {
	logger := ctxlog.FromContext(ctx)
	poller := handoff.NewPoller(handoff.Dir(a.config.ProjectRoot, a.config.Settings.HandoffDir))
	logger.Info("Watching hand-off directory.", "dir", poller.Dir(), "once", a.config.Once)

	ticker := time.NewTicker(a.config.Settings.HandoffPollInterval)
	defer ticker.Stop()

	for {
		spec, ok, err := poller.Next(ctx)
		switch {
		case errors.Is(err, task.ErrInvalidSpec):
			continue
		case err != nil:
			return err
		case ok:
			if err := a.render(ctx, spec, notifier); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Error("Hand-off task failed.", "task", spec.Describe(), "error", err)
			}
			continue
		}

		if a.config.Once {
			return nil
		}
		select {
		case <-ctx.Done():
			logger.Info("Stopped watching hand-off directory.")
			return nil
		case <-ticker.C:
		}
	}
}

// targets lists every target declared under the project root.
func (a *App) targets(ctx context.Context) error {
	g := graph.New(graph.WithStrict(a.config.Settings.StrictManifests))
	if err := g.LoadProject(ctx, a.config.ProjectRoot); err != nil {
		return err
	}
	for _, t := range g.Targets() {
		deps := make([]string, len(t.Deps))
		for i, d := range t.Deps {
			deps[i] = d.String()
		}
		fmt.Fprintf(a.outW, "%s\t%s\t%s\n", t.ID, t.Source, strings.Join(deps, ","))
	}
	return nil
}
