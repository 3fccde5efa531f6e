// Package staleness decides whether a target needs a fresh render.
//
// A target is stale when its output directory holds no DONE marker, when a
// requested RESOLUTION_CHANGE check finds different resolution parameters in
// that marker, or when a requested FILE_MODIFICATION_TIME check finds the
// newest input (source file or asset) younger than the recorded start time.
// An empty policy means "force" and is handled by the caller; the oracle is
// never consulted for it.
package staleness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vk/deprender/internal/ctxlog"
	"github.com/vk/deprender/internal/graph"
	"github.com/vk/deprender/internal/marker"
	"github.com/vk/deprender/internal/targetid"
	"github.com/vk/deprender/internal/task"
)

// Reason explains a staleness verdict.
type Reason string

const (
	ReasonFresh            Reason = "fresh"
	ReasonNeverRendered    Reason = "never rendered"
	ReasonResolutionChange Reason = "resolution changed"
	ReasonInputsModified   Reason = "inputs modified"
)

// Verdict is the outcome of a staleness check.
type Verdict struct {
	Stale  bool
	Reason Reason
	// CandidateMtime is the newest modification time among the inputs.
	CandidateMtime time.Time
}

// Oracle evaluates targets of one graph.
type Oracle struct {
	projectRoot string
	graph       *graph.Graph
}

// New creates an oracle over the targets of g.
func New(projectRoot string, g *graph.Graph) *Oracle {
	return &Oracle{projectRoot: projectRoot, graph: g}
}

// Check evaluates id against the requested policy and parameters.
func (o *Oracle) Check(ctx context.Context, id targetid.ID, policy task.Policy, params task.Params) (Verdict, error) {
	logger := ctxlog.FromContext(ctx).With("target", id.String())

	candidate, err := o.CandidateMtime(ctx, id)
	if err != nil {
		return Verdict{}, err
	}
	verdict := Verdict{CandidateMtime: candidate}

	done, err := marker.ReadDone(id.LatestDir(o.projectRoot))
	if err != nil {
		return Verdict{}, err
	}

	switch {
	case done == nil:
		verdict.Stale, verdict.Reason = true, ReasonNeverRendered
	case policy.Has(task.ResolutionChange) && resolutionDiffers(params, done.TaskSpec):
		verdict.Stale, verdict.Reason = true, ReasonResolutionChange
	case policy.Has(task.FileModificationTime) && (done.StartTime == nil || candidate.After(done.StartTime.Time)):
		verdict.Stale, verdict.Reason = true, ReasonInputsModified
	default:
		verdict.Reason = ReasonFresh
	}

	logger.Debug("Staleness evaluated.", "stale", verdict.Stale, "reason", string(verdict.Reason), "candidateMtime", candidate)
	return verdict, nil
}

// IsStale is Check reduced to its boolean outcome.
func (o *Oracle) IsStale(ctx context.Context, id targetid.ID, policy task.Policy, params task.Params) (bool, error) {
	v, err := o.Check(ctx, id, policy, params)
	return v.Stale, err
}

// CandidateMtime returns max(source mtime, asset mtimes) for id. A missing
// source file is an error. A missing asset is logged and counts as modified
// now, so the target re-renders rather than silently using a stale input.
func (o *Oracle) CandidateMtime(ctx context.Context, id targetid.ID) (time.Time, error) {
	logger := ctxlog.FromContext(ctx)

	t, err := o.graph.Target(id)
	if err != nil {
		return time.Time{}, err
	}

	src := id.SourcePath(o.projectRoot, t.Source)
	info, err := os.Stat(src)
	if err != nil {
		return time.Time{}, fmt.Errorf("source of %s: %w", id, err)
	}
	newest := info.ModTime()

	for _, asset := range t.Assets {
		mtime, err := o.assetMtime(id, asset)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return time.Time{}, fmt.Errorf("asset %q of %s: %w", asset, id, err)
			}
			logger.Warn("Asset missing, treating it as modified.", "target", id.String(), "asset", asset)
			mtime = time.Now()
		}
		if mtime.After(newest) {
			newest = mtime
		}
	}
	return newest, nil
}

// assetMtime resolves an asset entry. Target identifiers count with the
// completion time of their last successful render.
func (o *Oracle) assetMtime(owner targetid.ID, asset string) (time.Time, error) {
	if strings.HasPrefix(asset, targetid.Prefix) && strings.Contains(asset, ":") {
		dep, err := targetid.Parse(asset)
		if err != nil {
			return time.Time{}, err
		}
		done, err := marker.ReadDone(dep.LatestDir(o.projectRoot))
		if err != nil {
			return time.Time{}, err
		}
		if done == nil || done.CompletionTime == nil {
			return time.Time{}, fmt.Errorf("target asset %s: %w", dep, os.ErrNotExist)
		}
		return done.CompletionTime.Time, nil
	}

	var path string
	if strings.HasPrefix(asset, targetid.Prefix) {
		abs, err := targetid.FromProjectPath(o.projectRoot, asset)
		if err != nil {
			return time.Time{}, err
		}
		path = abs
	} else {
		path = filepath.Join(owner.Directory(o.projectRoot), filepath.FromSlash(asset))
	}

	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// resolutionDiffers compares the requested resolution fields with the ones
// recorded in the last DONE marker. Fields the request leaves unset are not
// compared.
func resolutionDiffers(requested task.Params, recorded *task.Spec) bool {
	var last task.Params
	if recorded != nil {
		last = recorded.Params
	}
	return intDiffers(requested.ResolutionX, last.ResolutionX) ||
		intDiffers(requested.ResolutionY, last.ResolutionY) ||
		intDiffers(requested.ResolutionPercentage, last.ResolutionPercentage)
}

func intDiffers(requested, recorded *int) bool {
	if requested == nil {
		return false
	}
	return recorded == nil || *recorded != *requested
}
