package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vk/deprender/internal/marker"
	"github.com/vk/deprender/internal/targetid"
	"github.com/vk/deprender/internal/task"
)

// ManifestTarget is one entry of a RENDER.json written by Project.
type ManifestTarget struct {
	Name   string   `json:"name"`
	Src    string   `json:"src"`
	Deps   []string `json:"deps,omitempty"`
	Assets []string `json:"assets,omitempty"`
}

// Project is a throw-away project root on disk.
type Project struct {
	t    *testing.T
	Root string
}

// NewProject creates an empty project root in a temporary directory.
func NewProject(t *testing.T) *Project {
	t.Helper()
	return &Project{t: t, Root: t.TempDir()}
}

// Path returns the absolute form of a slash-separated path relative to the root.
func (p *Project) Path(rel string) string {
	return filepath.Join(p.Root, filepath.FromSlash(rel))
}

// WriteFile writes content to rel, creating parent directories.
func (p *Project) WriteFile(rel, content string) string {
	p.t.Helper()
	path := p.Path(rel)
	require.NoError(p.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(p.t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// WriteManifest writes dir/RENDER.json declaring targets.
func (p *Project) WriteManifest(dir string, targets ...ManifestTarget) string {
	p.t.Helper()
	data, err := json.MarshalIndent(map[string]any{"targets": targets}, "", "  ")
	require.NoError(p.t, err)
	return p.WriteFile(filepath.ToSlash(filepath.Join(dir, "RENDER.json")), string(data))
}

// AddTarget declares a single-target manifest in dir and creates its scene
// file dir/blend_files/<name>.blend with the given modification time.
func (p *Project) AddTarget(dir, name string, mtime time.Time, deps ...string) targetid.ID {
	p.t.Helper()
	p.WriteManifest(dir, ManifestTarget{Name: name, Src: name + ".blend", Deps: deps})
	id := targetid.New(dir, name)
	p.Touch(id.SourcePath(p.Root, name+".blend"), mtime)
	return id
}

// Touch creates path if needed and sets its modification time.
func (p *Project) Touch(path string, mtime time.Time) {
	p.t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		require.NoError(p.t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(p.t, os.WriteFile(path, []byte("BLENDER"), 0o644))
	}
	require.NoError(p.t, os.Chtimes(path, mtime, mtime))
}

// MarkDone writes a DONE marker into the latest output directory of id.
func (p *Project) MarkDone(id targetid.ID, start time.Time, params task.Params) string {
	p.t.Helper()
	dir := id.LatestDir(p.Root)
	require.NoError(p.t, os.MkdirAll(dir, 0o755))
	spec := task.Spec{
		BlendFile:       p.ProjectPath(id.SourcePath(p.Root, id.Name+".blend")),
		OutputDirectory: p.ProjectPath(dir),
		Params:          params,
	}
	require.NoError(p.t, marker.WriteRecord(filepath.Join(dir, marker.DoneFile), &marker.Record{
		StartTime:      marker.At(start),
		TaskSpec:       &spec,
		CompletionTime: marker.At(start.Add(time.Minute)),
	}))
	return dir
}

// ProjectPath converts an absolute path into its "//..." form.
func (p *Project) ProjectPath(abs string) string {
	p.t.Helper()
	rel, err := targetid.ToProjectPath(p.Root, abs)
	require.NoError(p.t, err)
	return rel
}
