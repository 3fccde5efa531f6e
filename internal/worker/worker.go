package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vk/deprender/internal/ctxlog"
	"github.com/vk/deprender/internal/marker"
	"github.com/vk/deprender/internal/targetid"
	"github.com/vk/deprender/internal/task"
)

var (
	// ErrUnsupportedTaskKind is returned when a target task reaches a worker.
	ErrUnsupportedTaskKind = errors.New("workers only accept blend-file tasks")
	// ErrMissingOutputDirectory is returned for tasks without an output directory.
	ErrMissingOutputDirectory = errors.New("task has no output directory")
	// ErrNotDone is returned by Finalize before the render has exited.
	ErrNotDone = errors.New("render has not finished")
)

// Status describes the render a worker is running.
type Status struct {
	WorkerID   int
	Task       task.Spec
	Invocation Invocation
	StartTime  time.Time
	// Archive is where the previous output went, empty if nothing was moved.
	Archive string
}

// Worker owns at most one renderer process.
type Worker struct {
	id          int
	projectRoot string
	launcher    Launcher

	// Now is the clock used for markers and archive names.
	Now func() time.Time

	status   *Status
	proc     Process
	exitCode int
	exited   bool

	// last is the render finalized most recently, kept so that repeated
	// Finalize calls stay no-ops.
	last *finalized
}

type finalized struct {
	outputDir string
	exitCode  int
	segment   bool
	state     marker.State
}

// New creates an idle worker.
func New(id int, projectRoot string, launcher Launcher) *Worker {
	return &Worker{id: id, projectRoot: projectRoot, launcher: launcher, Now: time.Now}
}

// ID returns the worker number.
func (w *Worker) ID() int {
	return w.id
}

// Status returns the current render, or nil when idle.
func (w *Worker) Status() *Status {
	return w.status
}

// IsAvailable reports whether the worker can take a task.
func (w *Worker) IsAvailable() bool {
	return w.status == nil
}

// Process starts rendering spec and returns without waiting for the renderer.
func (w *Worker) Process(ctx context.Context, spec task.Spec) (*Status, error) {
	switch spec.Kind() {
	case task.KindBlendFile:
	case task.KindTarget:
		return nil, fmt.Errorf("%w: got target %s", ErrUnsupportedTaskKind, spec.Target)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedTaskKind, spec.Validate())
	}
	if spec.OutputDirectory == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingOutputDirectory, spec.BlendFile)
	}

	blendFile, err := w.resolvePath(spec.BlendFile)
	if err != nil {
		return nil, err
	}
	outDir, err := w.resolvePath(spec.OutputDirectory)
	if err != nil {
		return nil, err
	}

	ctx, logger := ctxlog.With(ctx, "workerID", w.id, "task", spec.Describe())
	now := w.Now()
	first := spec.Segment == nil || spec.Segment.Index == 0

	var archive string
	if first {
		if archive, err = rotateOutput(ctx, outDir, now); err != nil {
			return nil, fmt.Errorf("rotate %s: %w", outDir, err)
		}
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}

	inv := Invocation{
		BlendFile:     blendFile,
		Script:        filepath.Join(outDir, settingsFile),
		OutputPattern: filepath.Join(outDir, framePattern),
		OutputDir:     outDir,
		LogPath:       filepath.Join(outDir, renderLogFile),
		StartFrame:    spec.StartFrame,
		EndFrame:      spec.EndFrame,
	}
	if spec.Segment != nil {
		inv.LogPath = filepath.Join(outDir, "render-"+strconv.Itoa(spec.Segment.Index)+".log")
	}

	if err := os.WriteFile(inv.Script, []byte(settingsScript(spec.Params)), 0o644); err != nil {
		return nil, fmt.Errorf("write override script: %w", err)
	}
	if first {
		if err := marker.WriteInProgress(outDir, now, spec); err != nil {
			return nil, fmt.Errorf("write in-progress marker: %w", err)
		}
	}

	proc, err := w.launcher.Launch(ctx, inv)
	if err != nil {
		return nil, err
	}

	w.proc = proc
	w.exited, w.exitCode = false, 0
	w.last = nil
	w.status = &Status{WorkerID: w.id, Task: spec.Clone(), Invocation: inv, StartTime: now, Archive: archive}
	logger.Info("Render started.", "outputDirectory", outDir)
	return w.status, nil
}

// IsDone polls the renderer without blocking. Once an exit code has been
// observed it is kept and IsDone keeps returning true. An idle worker is
// never done.
func (w *Worker) IsDone() bool {
	if w.exited {
		return true
	}
	if w.proc == nil {
		return false
	}
	code, done := w.proc.Poll()
	if done {
		w.exited, w.exitCode = true, code
	}
	return done
}

// ExitCode returns the renderer's exit code once IsDone reported true.
func (w *Worker) ExitCode() (int, bool) {
	return w.exitCode, w.exited
}

// Finalize writes the completion marker for the finished render and makes
// the worker available again. Calling it again on the now idle worker
// returns the terminal state without writing anything. A worker that never
// finished a render returns ErrNotDone.
func (w *Worker) Finalize(ctx context.Context) (marker.State, error) {
	if w.status == nil && w.last != nil {
		return w.refinalize(ctx)
	}
	if w.status == nil || !w.IsDone() {
		return marker.StateNone, ErrNotDone
	}
	st := w.status
	ctx, logger := ctxlog.With(ctx, "workerID", w.id, "task", st.Task.Describe())
	defer w.reset()

	now := w.Now()
	var (
		state marker.State
		err   error
	)
	if st.Task.Segment != nil {
		state, err = finalizeSegment(ctx, st.Invocation.OutputDir, st.Task, st.StartTime, w.exitCode, now)
	} else {
		state, err = marker.Finalize(ctx, st.Invocation.OutputDir, w.exitCode, now)
	}
	if err != nil {
		return state, fmt.Errorf("finalize %s: %w", st.Invocation.OutputDir, err)
	}
	w.last = &finalized{
		outputDir: st.Invocation.OutputDir,
		exitCode:  w.exitCode,
		segment:   st.Task.Segment != nil,
		state:     state,
	}

	if w.exitCode != 0 {
		logger.Warn("Render failed.", "exitCode", w.exitCode, "log", st.Invocation.LogPath)
	} else {
		logger.Info("Render finished.", "state", state.String(), "duration", now.Sub(st.StartTime).String())
	}
	return state, nil
}

// refinalize repeats the last Finalize. A whole task goes through
// marker.Finalize, which leaves a terminal directory untouched; a segment
// reports its recorded state, since the directory may still wait for the
// other segments.
func (w *Worker) refinalize(ctx context.Context) (marker.State, error) {
	if w.last.segment {
		return w.last.state, nil
	}
	state, err := marker.Finalize(ctx, w.last.outputDir, w.last.exitCode, w.Now())
	if err != nil {
		return state, fmt.Errorf("finalize %s: %w", w.last.outputDir, err)
	}
	return state, nil
}

// Cancel asks the renderer to stop. The worker stays busy until the process
// is observed to exit.
func (w *Worker) Cancel() error {
	if w.proc == nil {
		return nil
	}
	return w.proc.Kill()
}

// Abandon frees the worker without writing a completion marker. The output
// directory is left IN_PROGRESS.
func (w *Worker) Abandon() *Status {
	st := w.status
	w.reset()
	return st
}

func (w *Worker) reset() {
	w.status, w.proc = nil, nil
	w.exited, w.exitCode = false, 0
}

// resolvePath accepts project-relative "//..." paths and filesystem paths.
func (w *Worker) resolvePath(p string) (string, error) {
	if strings.HasPrefix(p, targetid.Prefix) {
		return targetid.FromProjectPath(w.projectRoot, p)
	}
	return filepath.Abs(p)
}

// NewPool creates n idle workers numbered from 1 that share launcher.
func NewPool(n int, projectRoot string, launcher Launcher) []*Worker {
	pool := make([]*Worker, n)
	for i := range pool {
		pool[i] = New(i+1, projectRoot, launcher)
	}
	return pool
}
