package scheduler_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/deprender/internal/marker"
	"github.com/vk/deprender/internal/notify"
	"github.com/vk/deprender/internal/scheduler"
	"github.com/vk/deprender/internal/task"
	"github.com/vk/deprender/internal/testutil"
	"github.com/vk/deprender/internal/worker"
)

var t0 = time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)

var mtimePolicy = task.Policy{task.FileModificationTime}

func newScheduler(t *testing.T, ctx context.Context, p *testutil.Project, spec task.Spec, l worker.Launcher, workers int, opts ...scheduler.Option) *scheduler.Scheduler {
	t.Helper()
	s, err := scheduler.New(ctx, p.Root, spec, worker.NewPool(workers, p.Root, l), opts...)
	require.NoError(t, err)
	return s
}

// blendFiles returns the scene files of the launched processes, in launch order.
func blendFiles(l *testutil.FakeLauncher) []string {
	var out []string
	for _, proc := range l.Processes() {
		out = append(out, filepath.Base(proc.Invocation.BlendFile))
	}
	return out
}

func TestScheduler_EmptyPlanIsDoneImmediately(t *testing.T) {
	t.Parallel()

	ctx, _ := testutil.NewContext(t)
	p := testutil.NewProject(t)
	id := p.AddTarget("a", "a", t0)
	p.MarkDone(id, t0.Add(time.Hour), task.Params{})

	s := newScheduler(t, ctx, p, task.Spec{Target: id.String(), DependencyInvalidationTypes: mtimePolicy}, &testutil.FakeLauncher{}, 2)

	assert.True(t, s.IsDone())
	require.NoError(t, s.Step(ctx))
	assert.True(t, s.IsDone())
	assert.NoError(t, s.RunToCompletion(ctx))
}

func TestScheduler_PoolBoundAndDependencyBarrier(t *testing.T) {
	t.Parallel()

	// --- Arrange: three independent inputs feeding one composite ---
	ctx, _ := testutil.NewContext(t)
	p := testutil.NewProject(t)
	p.AddTarget("in1", "in1", t0)
	p.AddTarget("in2", "in2", t0)
	p.AddTarget("in3", "in3", t0)
	p.AddTarget("comp", "comp", t0, "//in1:in1", "//in2:in2", "//in3:in3")

	launcher := &testutil.FakeLauncher{}
	tracker := &notify.Tracker{}
	s := newScheduler(t, ctx, p, task.Spec{Target: "//comp:comp", DependencyInvalidationTypes: mtimePolicy}, launcher, 2,
		scheduler.WithNotifier(tracker))
	require.Equal(t, 4, s.Queued())
	assert.False(t, s.IsDone())

	// --- Act & Assert: two workers take the first two tasks ---
	require.NoError(t, s.Step(ctx))
	assert.Equal(t, []string{"in1.blend", "in2.blend"}, blendFiles(launcher))
	assert.Equal(t, 2, s.Busy())

	require.NoError(t, s.Step(ctx))
	assert.Len(t, launcher.Processes(), 2, "no third render while both workers are busy")

	// --- one finishes, the third input starts ---
	launcher.Processes()[0].Finish(0)
	require.NoError(t, s.Step(ctx))
	assert.Equal(t, []string{"in1.blend", "in2.blend", "in3.blend"}, blendFiles(launcher))

	// --- in2 finishes; comp still waits for in3 ---
	launcher.Processes()[1].Finish(0)
	require.NoError(t, s.Step(ctx))
	assert.Len(t, launcher.Processes(), 3, "composite must wait for in3")
	assert.Equal(t, 1, s.Queued())
	assert.Equal(t, 1, s.Busy())

	// --- in3 finishes; comp runs ---
	launcher.Processes()[2].Finish(0)
	require.NoError(t, s.Step(ctx))
	assert.Equal(t, []string{"in1.blend", "in2.blend", "in3.blend", "comp.blend"}, blendFiles(launcher))
	assert.False(t, s.IsDone())

	launcher.Processes()[3].Finish(0)
	require.NoError(t, s.Step(ctx))
	assert.True(t, s.IsDone())

	results := s.Results()
	require.Len(t, results, 4)
	for _, r := range results {
		assert.Equal(t, marker.StateDone, r.State)
		assert.False(t, r.Failed())
	}
	snap := tracker.Snapshot()
	assert.Equal(t, 4, snap.Planned)
	assert.Equal(t, 4, snap.Dispatched)
	assert.Equal(t, 4, snap.Succeeded)
}

func TestScheduler_SplitsLastTaskAcrossIdleWorkers(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	ctx, _ := testutil.NewContext(t)
	p := testutil.NewProject(t)
	spec := task.Spec{
		BlendFile:       "//a/blend_files/a.blend",
		OutputDirectory: "//a/renders/a/image_sequences/latest",
		Params:          task.Params{StartFrame: task.Int(1), EndFrame: task.Int(10)},
	}
	launcher := &testutil.FakeLauncher{}
	s := newScheduler(t, ctx, p, spec, launcher, 3)

	// --- Act ---
	require.NoError(t, s.Step(ctx))

	// --- Assert ---
	procs := launcher.Processes()
	require.Len(t, procs, 3)
	var ranges [][2]int
	for _, proc := range procs {
		ranges = append(ranges, [2]int{*proc.Invocation.StartFrame, *proc.Invocation.EndFrame})
	}
	assert.Equal(t, [][2]int{{1, 3}, {4, 6}, {7, 10}}, ranges)

	for _, proc := range procs {
		proc.Finish(0)
	}
	require.NoError(t, s.Step(ctx))
	assert.True(t, s.IsDone())

	state, rec, err := marker.Read(p.Path("a/renders/a/image_sequences/latest"))
	require.NoError(t, err)
	assert.Equal(t, marker.StateDone, state)
	assert.Equal(t, 1, *rec.TaskSpec.StartFrame)
	assert.Equal(t, 10, *rec.TaskSpec.EndFrame)
}

func TestScheduler_NoSplitWithoutFrameRange(t *testing.T) {
	t.Parallel()

	ctx, _ := testutil.NewContext(t)
	p := testutil.NewProject(t)
	p.AddTarget("a", "a", t0)
	launcher := &testutil.FakeLauncher{}
	s := newScheduler(t, ctx, p, task.Spec{Target: "//a:a"}, launcher, 3)

	require.NoError(t, s.Step(ctx))
	assert.Len(t, launcher.Processes(), 1)
	assert.Equal(t, 1, s.Busy())
}

func TestScheduler_FailedRenderIsData(t *testing.T) {
	t.Parallel()

	ctx, _ := testutil.NewContext(t)
	p := testutil.NewProject(t)
	id := p.AddTarget("a", "a", t0)
	launcher := &testutil.FakeLauncher{AutoExit: func(worker.Invocation) int { return 2 }}
	s := newScheduler(t, ctx, p, task.Spec{Target: id.String()}, launcher, 1, scheduler.WithPollInterval(time.Millisecond))

	require.NoError(t, s.RunToCompletion(ctx))

	results := s.Results()
	require.Len(t, results, 1)
	assert.True(t, results[0].Failed())
	assert.Equal(t, marker.StateError, results[0].State)

	state, _, err := marker.Read(id.LatestDir(p.Root))
	require.NoError(t, err)
	assert.Equal(t, marker.StateError, state)
}

func TestScheduler_Cancel(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	ctx, _ := testutil.NewContext(t)
	p := testutil.NewProject(t)
	p.AddTarget("base", "base", t0)
	id := p.AddTarget("top", "top", t0, "//base:base")
	launcher := &testutil.FakeLauncher{}
	s := newScheduler(t, ctx, p, task.Spec{Target: id.String(), DependencyInvalidationTypes: mtimePolicy}, launcher, 1)
	require.NoError(t, s.Step(ctx))
	require.Len(t, launcher.Processes(), 1)

	// --- Act ---
	s.Cancel(ctx)
	require.NoError(t, s.Step(ctx))

	// --- Assert ---
	assert.True(t, launcher.Processes()[0].Killed())
	assert.True(t, s.IsDone())
	assert.Len(t, launcher.Processes(), 1, "queued work is dropped")

	results := s.Results()
	require.Len(t, results, 1)
	assert.True(t, results[0].Abandoned)

	state, _, err := marker.Read(p.Path("base/renders/base/image_sequences/latest"))
	require.NoError(t, err)
	assert.Equal(t, marker.StateInProgress, state)
}

func TestScheduler_RunToCompletion(t *testing.T) {
	t.Parallel()

	ctx, _ := testutil.NewContext(t)
	p := testutil.NewProject(t)
	p.AddTarget("a", "a", t0)
	p.AddTarget("b", "b", t0)
	id := p.AddTarget("c", "c", t0, "//a:a", "//b:b")
	launcher := &testutil.FakeLauncher{AutoExit: func(worker.Invocation) int { return 0 }}
	s := newScheduler(t, ctx, p, task.Spec{Target: id.String(), DependencyInvalidationTypes: mtimePolicy}, launcher, 2,
		scheduler.WithPollInterval(time.Millisecond))

	require.NoError(t, s.RunToCompletion(ctx))
	assert.True(t, s.IsDone())
	assert.Equal(t, []string{"a.blend", "b.blend", "c.blend"}, blendFiles(launcher))

	done, err := marker.ReadDone(id.LatestDir(p.Root))
	require.NoError(t, err)
	assert.NotNil(t, done)
}

func TestScheduler_RunToCompletionStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	base, _ := testutil.NewContext(t)
	ctx, cancel := context.WithCancel(base)
	p := testutil.NewProject(t)
	id := p.AddTarget("a", "a", t0)
	launcher := &testutil.FakeLauncher{}
	s := newScheduler(t, ctx, p, task.Spec{Target: id.String()}, launcher, 1, scheduler.WithPollInterval(time.Millisecond))

	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for len(launcher.Processes()) == 0 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	err := s.RunToCompletion(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, launcher.Processes(), 1)
	assert.True(t, launcher.Processes()[0].Killed())
	assert.True(t, s.IsDone())
}

func TestScheduler_LaunchFailureAbortsRun(t *testing.T) {
	t.Parallel()

	ctx, _ := testutil.NewContext(t)
	p := testutil.NewProject(t)
	id := p.AddTarget("a", "a", t0)
	boom := errors.New("renderer missing")
	s := newScheduler(t, ctx, p, task.Spec{Target: id.String()}, &testutil.FakeLauncher{LaunchErr: boom}, 1,
		scheduler.WithPollInterval(time.Millisecond))

	assert.ErrorIs(t, s.RunToCompletion(ctx), boom)
	assert.True(t, s.IsDone())
}

func TestNew_ResolveErrors(t *testing.T) {
	t.Parallel()

	ctx, _ := testutil.NewContext(t)
	p := testutil.NewProject(t)

	_, err := scheduler.New(ctx, p.Root, task.Spec{Target: "//missing:x"}, worker.NewPool(1, p.Root, &testutil.FakeLauncher{}))
	assert.Error(t, err)

	_, err = scheduler.New(ctx, p.Root, task.Spec{}, worker.NewPool(1, p.Root, &testutil.FakeLauncher{}))
	assert.ErrorIs(t, err, task.ErrInvalidSpec)
}
