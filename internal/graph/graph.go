package graph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vk/deprender/internal/ctxlog"
	"github.com/vk/deprender/internal/fsutil"
	"github.com/vk/deprender/internal/targetid"
)

var (
	// ErrUnknownTarget is returned when a target is not declared by any loaded manifest.
	ErrUnknownTarget = errors.New("unknown target")
	// ErrDuplicateTarget is returned by strict graphs when a qualified name is declared twice.
	ErrDuplicateTarget = errors.New("duplicate target")
)

// ManifestNames lists the manifest file names looked up in a target directory,
// in load order.
var ManifestNames = []string{"RENDER.json", "RENDER.yaml", "RENDER.yml", "RENDER.hcl"}

// Target is one declared render target.
type Target struct {
	ID targetid.ID
	// Source is the scene file path as written in the manifest, relative to
	// the target's directory convention.
	Source string
	Deps   []targetid.ID
	// Assets are non-target inputs; entries starting with "//" are
	// project-relative, anything else is relative to the target directory.
	Assets []string
	// Manifest is the file that declared the target.
	Manifest string
}

// Graph is the per-pass target registry.
type Graph struct {
	strict    bool
	targets   map[targetid.ID]*Target
	manifests map[string]bool
	dirs      map[string]bool
}

// Option configures a Graph.
type Option func(*Graph)

// WithStrict makes duplicate qualified target names a load error.
func WithStrict(strict bool) Option {
	return func(g *Graph) { g.strict = strict }
}

// New creates an empty graph.
func New(opts ...Option) *Graph {
	g := &Graph{
		targets:   make(map[targetid.ID]*Target),
		manifests: make(map[string]bool),
		dirs:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AddManifest parses one manifest file and inserts its targets.
func (g *Graph) AddManifest(ctx context.Context, projectRoot, manifestPath string) error {
	logger := ctxlog.FromContext(ctx)

	manifestPath = filepath.Clean(manifestPath)
	if g.manifests[manifestPath] {
		return nil
	}

	entries, err := decodeManifestFile(manifestPath)
	if err != nil {
		return err
	}

	relDir, err := targetid.ToProjectPath(projectRoot, filepath.Dir(manifestPath))
	if err != nil {
		return fmt.Errorf("manifest %s: %w", manifestPath, err)
	}
	dir := strings.TrimPrefix(relDir, targetid.Prefix)

	for _, entry := range entries {
		t, err := entry.toTarget(dir, manifestPath)
		if err != nil {
			return fmt.Errorf("manifest %s: %w", manifestPath, err)
		}
		if prev, ok := g.targets[t.ID]; ok {
			if g.strict {
				return fmt.Errorf("%w: %s declared in %s and %s", ErrDuplicateTarget, t.ID, prev.Manifest, manifestPath)
			}
			logger.Warn("Target redeclared, last declaration wins.", "target", t.ID.String(), "previous", prev.Manifest, "manifest", manifestPath)
		}
		g.targets[t.ID] = t
	}

	g.manifests[manifestPath] = true
	logger.Debug("Manifest loaded.", "manifest", manifestPath, "targets", len(entries))
	return nil
}

// LoadDir adds every manifest found directly in dir. Repeated calls for the
// same directory are no-ops.
func (g *Graph) LoadDir(ctx context.Context, projectRoot, dir string) error {
	dir = filepath.Clean(dir)
	if g.dirs[dir] {
		return nil
	}
	g.dirs[dir] = true

	found := 0
	for _, name := range ManifestNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		if err := g.AddManifest(ctx, projectRoot, path); err != nil {
			return err
		}
		found++
	}
	if found == 0 {
		ctxlog.FromContext(ctx).Debug("No manifest in directory.", "dir", dir)
	}
	return nil
}

// LoadTargetDir loads the manifests of the directory that owns id.
func (g *Graph) LoadTargetDir(ctx context.Context, projectRoot string, id targetid.ID) error {
	return g.LoadDir(ctx, projectRoot, id.Directory(projectRoot))
}

// LoadProject discovers and loads every manifest below projectRoot.
func (g *Graph) LoadProject(ctx context.Context, projectRoot string) error {
	files, err := fsutil.FindFilesByName(projectRoot, ManifestNames...)
	if err != nil {
		return fmt.Errorf("discover manifests: %w", err)
	}
	for _, f := range files {
		g.dirs[filepath.Dir(f)] = true
		if err := g.AddManifest(ctx, projectRoot, f); err != nil {
			return err
		}
	}
	return nil
}

// Target returns the declaration of id.
func (g *Graph) Target(id targetid.ID) (*Target, error) {
	t, ok := g.targets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, id)
	}
	return t, nil
}

// Deps returns the declared dependencies of id, in manifest order.
func (g *Graph) Deps(id targetid.ID) ([]targetid.ID, error) {
	t, err := g.Target(id)
	if err != nil {
		return nil, err
	}
	return t.Deps, nil
}

// Assets returns the declared asset paths of id.
func (g *Graph) Assets(id targetid.ID) ([]string, error) {
	t, err := g.Target(id)
	if err != nil {
		return nil, err
	}
	return t.Assets, nil
}

// Source returns the manifest `src` entry of id.
func (g *Graph) Source(id targetid.ID) (string, error) {
	t, err := g.Target(id)
	if err != nil {
		return "", err
	}
	return t.Source, nil
}

// Targets returns all loaded targets sorted by identifier.
func (g *Graph) Targets() []*Target {
	out := make([]*Target, 0, len(g.targets))
	for _, t := range g.targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// Len returns the number of loaded targets.
func (g *Graph) Len() int {
	return len(g.targets)
}
