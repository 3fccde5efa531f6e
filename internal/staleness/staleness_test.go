package staleness_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/deprender/internal/graph"
	"github.com/vk/deprender/internal/staleness"
	"github.com/vk/deprender/internal/targetid"
	"github.com/vk/deprender/internal/task"
	"github.com/vk/deprender/internal/testutil"
)

var (
	t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
	t2 = t0.Add(2 * time.Hour)
)

func newOracle(t *testing.T, p *testutil.Project, ids ...targetid.ID) *staleness.Oracle {
	t.Helper()
	ctx, _ := testutil.NewContext(t)
	g := graph.New()
	for _, id := range ids {
		require.NoError(t, g.LoadTargetDir(ctx, p.Root, id))
	}
	return staleness.New(p.Root, g)
}

func TestCheck(t *testing.T) {
	t.Parallel()

	mtime := task.Policy{task.FileModificationTime}
	resolution := task.Policy{task.ResolutionChange}
	both := task.Policy{task.FileModificationTime, task.ResolutionChange}
	hd := task.Params{ResolutionX: task.Int(1920), ResolutionY: task.Int(1080)}
	uhd := task.Params{ResolutionX: task.Int(3840), ResolutionY: task.Int(2160)}

	testCases := []struct {
		name       string
		srcMtime   time.Time
		doneStart  *time.Time
		doneParams task.Params
		policy     task.Policy
		params     task.Params
		stale      bool
		reason     staleness.Reason
	}{
		{name: "never rendered, mtime policy", srcMtime: t0, policy: mtime, stale: true, reason: staleness.ReasonNeverRendered},
		{name: "never rendered, resolution policy", srcMtime: t0, policy: resolution, params: hd, stale: true, reason: staleness.ReasonNeverRendered},
		{name: "source older than render", srcMtime: t0, doneStart: &t1, policy: mtime, stale: false, reason: staleness.ReasonFresh},
		{name: "source newer than render", srcMtime: t2, doneStart: &t1, policy: mtime, stale: true, reason: staleness.ReasonInputsModified},
		{name: "resolution changed", srcMtime: t0, doneStart: &t1, doneParams: hd, policy: resolution, params: uhd, stale: true, reason: staleness.ReasonResolutionChange},
		{name: "resolution same", srcMtime: t0, doneStart: &t1, doneParams: hd, policy: resolution, params: hd, stale: false, reason: staleness.ReasonFresh},
		{name: "resolution changed but not requested", srcMtime: t0, doneStart: &t1, doneParams: hd, policy: mtime, params: uhd, stale: false, reason: staleness.ReasonFresh},
		{name: "newer source ignored without mtime policy", srcMtime: t2, doneStart: &t1, doneParams: hd, policy: resolution, params: hd, stale: false, reason: staleness.ReasonFresh},
		{name: "resolution checked before mtime", srcMtime: t2, doneStart: &t1, doneParams: hd, policy: both, params: uhd, stale: true, reason: staleness.ReasonResolutionChange},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, _ := testutil.NewContext(t)
			p := testutil.NewProject(t)
			id := p.AddTarget("shots/a", "a", tc.srcMtime)
			if tc.doneStart != nil {
				p.MarkDone(id, *tc.doneStart, tc.doneParams)
			}

			verdict, err := newOracle(t, p, id).Check(ctx, id, tc.policy, tc.params)
			require.NoError(t, err)
			assert.Equal(t, tc.stale, verdict.Stale)
			assert.Equal(t, tc.reason, verdict.Reason)
		})
	}
}

func TestCandidateMtime_IncludesAssets(t *testing.T) {
	t.Parallel()

	ctx, logs := testutil.NewContext(t)
	p := testutil.NewProject(t)
	p.WriteManifest("shots/a", testutil.ManifestTarget{
		Name:   "a",
		Src:    "a.blend",
		Assets: []string{"//textures/brick.png", "local/ref.png"},
	})
	id := targetid.New("shots/a", "a")
	p.Touch(id.SourcePath(p.Root, "a.blend"), t0)
	p.Touch(p.Path("textures/brick.png"), t2)
	p.Touch(p.Path("shots/a/local/ref.png"), t1)
	p.MarkDone(id, t1, task.Params{})

	oracle := newOracle(t, p, id)
	got, err := oracle.CandidateMtime(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Equal(t2), "expected newest asset mtime, got %s", got)

	stale, err := oracle.IsStale(ctx, id, task.Policy{task.FileModificationTime}, task.Params{})
	require.NoError(t, err)
	assert.True(t, stale, "an asset modified after the last render makes the target stale")
	assert.NotContains(t, logs.String(), "Asset missing")
}

func TestCandidateMtime_MissingAssetForcesRender(t *testing.T) {
	t.Parallel()

	ctx, logs := testutil.NewContext(t)
	p := testutil.NewProject(t)
	p.WriteManifest("a", testutil.ManifestTarget{Name: "a", Src: "a.blend", Assets: []string{"//gone.png"}})
	id := targetid.New("a", "a")
	p.Touch(id.SourcePath(p.Root, "a.blend"), t0)
	p.MarkDone(id, t1, task.Params{})

	stale, err := newOracle(t, p, id).IsStale(ctx, id, task.Policy{task.FileModificationTime}, task.Params{})
	require.NoError(t, err)
	assert.True(t, stale)
	assert.Contains(t, logs.String(), "Asset missing")
}

func TestCheck_Errors(t *testing.T) {
	t.Parallel()

	ctx, _ := testutil.NewContext(t)
	p := testutil.NewProject(t)
	p.WriteManifest("a", testutil.ManifestTarget{Name: "a", Src: "missing.blend"})
	id := targetid.New("a", "a")
	oracle := newOracle(t, p, id)

	_, err := oracle.Check(ctx, id, task.Policy{task.FileModificationTime}, task.Params{})
	assert.Error(t, err, "a missing source file cannot be rendered")

	_, err = oracle.Check(ctx, targetid.New("x", "y"), task.Policy{task.FileModificationTime}, task.Params{})
	assert.ErrorIs(t, err, graph.ErrUnknownTarget)
}
