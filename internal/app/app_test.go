package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/deprender/internal/config"
	"github.com/vk/deprender/internal/handoff"
	"github.com/vk/deprender/internal/marker"
	"github.com/vk/deprender/internal/notify"
	"github.com/vk/deprender/internal/targetid"
	"github.com/vk/deprender/internal/task"
	"github.com/vk/deprender/internal/testutil"
	"github.com/vk/deprender/internal/worker"
)

var t0 = time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)

func testSettings() config.Settings {
	s := config.Defaults()
	s.Workers = 2
	s.PollInterval = time.Millisecond
	s.HandoffPollInterval = time.Millisecond
	s.LogLevel = "debug"
	return s
}

// setupAppTest creates an app over a fake renderer that exits with code.
func setupAppTest(t *testing.T, cfg Config, code int) (*App, *bytes.Buffer, *testutil.FakeLauncher) {
	t.Helper()

	c, err := NewConfig(cfg)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	logs := &testutil.SafeBuffer{}
	launcher := &testutil.FakeLauncher{AutoExit: func(worker.Invocation) int { return code }}
	t.Cleanup(func() {
		if os.Getenv("DEPRENDER_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logs.String())
		}
	})
	return NewApp(out, logs, c, WithLauncher(launcher)), out, launcher
}

func TestNewConfig(t *testing.T) {
	t.Parallel()

	p := testutil.NewProject(t)
	p.WriteFile("shots/a/blend_files/a.blend", "BLENDER")

	t.Run("blend file gets a derived output directory", func(t *testing.T) {
		t.Parallel()
		c, err := NewConfig(Config{
			Command:     CommandRender,
			ProjectRoot: p.Root,
			Spec:        task.Spec{BlendFile: p.Path("shots/a/blend_files/a.blend")},
			Settings:    testSettings(),
		})
		require.NoError(t, err)
		assert.Equal(t, "//shots/a/blend_files/a.blend", c.Spec.BlendFile)
		assert.Equal(t, "//shots/a/renders/a/image_sequences/latest", c.Spec.OutputDirectory)
	})

	testCases := []struct {
		name string
		cfg  Config
	}{
		{name: "unknown command", cfg: Config{Command: "paint", ProjectRoot: p.Root, Settings: testSettings()}},
		{name: "missing root", cfg: Config{Command: CommandTargets, Settings: testSettings()}},
		{name: "root is a file", cfg: Config{Command: CommandTargets, ProjectRoot: p.Path("shots/a/blend_files/a.blend"), Settings: testSettings()}},
		{name: "no task", cfg: Config{Command: CommandRender, ProjectRoot: p.Root, Settings: testSettings()}},
		{name: "malformed target", cfg: Config{Command: CommandPlan, ProjectRoot: p.Root, Spec: task.Spec{Target: "shots:a:b"}, Settings: testSettings()}},
		{name: "blend file outside target layout", cfg: Config{Command: CommandRender, ProjectRoot: p.Root, Spec: task.Spec{BlendFile: p.Path("loose.blend")}, Settings: testSettings()}},
		{name: "bad settings", cfg: Config{Command: CommandTargets, ProjectRoot: p.Root, Settings: config.Settings{}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewConfig(tc.cfg)
			assert.Error(t, err)
		})
	}
}

func TestRun_Render(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		exitCode int
		wantErr  error
		want     marker.State
	}{
		{name: "success", exitCode: 0, want: marker.StateDone},
		{name: "renderer failure", exitCode: 1, wantErr: ErrRenderFailed, want: marker.StateError},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// --- Arrange ---
			p := testutil.NewProject(t)
			p.AddTarget("tex", "wall", t0)
			shot := p.AddTarget("shots/a", "a", t0, "//tex:wall")
			a, _, launcher := setupAppTest(t, Config{
				Command:     CommandRender,
				ProjectRoot: p.Root,
				Spec:        task.Spec{Target: shot.String(), DependencyInvalidationTypes: task.Policy{task.FileModificationTime}},
				Settings:    testSettings(),
			}, tc.exitCode)

			// --- Act ---
			err := a.Run(context.Background())

			// --- Assert ---
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Len(t, launcher.Processes(), 2)
			state, _, err := marker.Read(shot.LatestDir(p.Root))
			require.NoError(t, err)
			assert.Equal(t, tc.want, state)

			snap := a.Tracker().Snapshot()
			assert.True(t, snap.Done)
			assert.Equal(t, 2, snap.Dispatched)
		})
	}
}

func TestRun_RenderUpToDate(t *testing.T) {
	t.Parallel()

	p := testutil.NewProject(t)
	id := p.AddTarget("a", "a", t0)
	p.MarkDone(id, t0.Add(time.Hour), task.Params{})
	a, _, launcher := setupAppTest(t, Config{
		Command:     CommandRender,
		ProjectRoot: p.Root,
		Spec:        task.Spec{Target: id.String(), DependencyInvalidationTypes: task.Policy{task.FileModificationTime}},
		Settings:    testSettings(),
	}, 0)

	require.NoError(t, a.Run(context.Background()))
	assert.Empty(t, launcher.Processes())
}

func TestRun_Plan(t *testing.T) {
	t.Parallel()

	p := testutil.NewProject(t)
	p.AddTarget("tex", "wall", t0)
	p.AddTarget("shots/a", "a", t0, "//tex:wall")
	a, out, launcher := setupAppTest(t, Config{
		Command:     CommandPlan,
		ProjectRoot: p.Root,
		Spec: task.Spec{
			Target:                      "//shots/a:a",
			DependencyInvalidationTypes: task.Policy{task.FileModificationTime},
			Params:                      task.Params{ResolutionX: task.Int(800)},
		},
		Settings: testSettings(),
	}, 0)

	require.NoError(t, a.Run(context.Background()))
	assert.Empty(t, launcher.Processes(), "plan never renders")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	var first task.Spec
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "//tex/blend_files/wall.blend", first.BlendFile)
	assert.Equal(t, 800, *first.ResolutionX)
}

func TestRun_SubmitThenWatchOnce(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	p := testutil.NewProject(t)
	id := p.AddTarget("a", "a", t0)
	spec := task.Spec{Target: id.String()}

	submitter, out, _ := setupAppTest(t, Config{Command: CommandSubmit, ProjectRoot: p.Root, Spec: spec, Settings: testSettings()}, 0)
	require.NoError(t, submitter.Run(context.Background()))
	dropped := strings.TrimSpace(out.String())
	assert.FileExists(t, dropped)

	// --- Act ---
	watcher, _, launcher := setupAppTest(t, Config{Command: CommandWatch, ProjectRoot: p.Root, Once: true, Settings: testSettings()}, 0)
	require.NoError(t, watcher.Run(context.Background()))

	// --- Assert ---
	assert.NoFileExists(t, dropped)
	assert.Len(t, launcher.Processes(), 1)
	done, err := marker.ReadDone(id.LatestDir(p.Root))
	require.NoError(t, err)
	assert.NotNil(t, done)

	entries, err := os.ReadDir(handoff.Dir(p.Root, ""))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_WatchSkipsRejectedTask(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	p := testutil.NewProject(t)
	id := p.AddTarget("a", "a", t0)
	dir := handoff.Dir(p.Root, "")
	p.WriteFile("Render Tasks/new/0-bad.json", `{"target": "//a:a", "dependency_invalidation_types": ["BOGUS"]}`)

	submitter, _, _ := setupAppTest(t, Config{Command: CommandSubmit, ProjectRoot: p.Root, Spec: task.Spec{Target: id.String()}, Settings: testSettings()}, 0)
	require.NoError(t, submitter.Run(context.Background()))

	// --- Act ---
	watcher, _, launcher := setupAppTest(t, Config{Command: CommandWatch, ProjectRoot: p.Root, Once: true, Settings: testSettings()}, 0)
	err := watcher.Run(context.Background())

	// --- Assert ---
	require.NoError(t, err)
	assert.Len(t, launcher.Processes(), 1)
	done, err := marker.ReadDone(id.LatestDir(p.Root))
	require.NoError(t, err)
	assert.NotNil(t, done, "the valid task behind the rejected one is rendered")
	assert.FileExists(t, filepath.Join(filepath.Dir(dir), "rejected", "0-bad.json"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_WatchStopsOnCancel(t *testing.T) {
	t.Parallel()

	p := testutil.NewProject(t)
	a, _, _ := setupAppTest(t, Config{Command: CommandWatch, ProjectRoot: p.Root, Settings: testSettings()}, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, a.Run(ctx))
}

func TestRun_Targets(t *testing.T) {
	t.Parallel()

	p := testutil.NewProject(t)
	p.AddTarget("tex", "wall", t0)
	p.AddTarget("shots/a", "a", t0, "//tex:wall")
	a, out, _ := setupAppTest(t, Config{Command: CommandTargets, ProjectRoot: p.Root, Settings: testSettings()}, 0)

	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t,
		"//shots/a:a\ta.blend\t//tex:wall\n"+
			"//tex:wall\twall.blend\t\n",
		out.String())
}

func TestHandler(t *testing.T) {
	t.Parallel()

	p := testutil.NewProject(t)
	a, _, _ := setupAppTest(t, Config{Command: CommandTargets, ProjectRoot: p.Root, Settings: testSettings()}, 0)
	a.Tracker().Notify(context.Background(), notify.Event{Type: notify.EventPlanned, RunID: "run-1", Queued: 3})

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var snap notify.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "run-1", snap.RunID)
	assert.Equal(t, 3, snap.Planned)
}

func TestNewConfig_TargetFromBlendFileMatchesLayout(t *testing.T) {
	t.Parallel()

	p := testutil.NewProject(t)
	id := p.AddTarget("x/y", "shot", t0)
	c, err := NewConfig(Config{
		Command:     CommandSubmit,
		ProjectRoot: p.Root,
		Spec:        task.Spec{BlendFile: "//x/y/blend_files/shot.blend"},
		Settings:    testSettings(),
	})
	require.NoError(t, err)
	want, err := targetid.ToProjectPath(p.Root, id.LatestDir(p.Root))
	require.NoError(t, err)
	assert.Equal(t, want, c.Spec.OutputDirectory)
}
