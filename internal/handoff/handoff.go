// Package handoff implements the file-drop queue used to pass task specs to
// another machine: producers drop a JSON task spec into a well-known "new
// tasks" directory and a poller on the render machine picks it up and
// removes it.
package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/vk/deprender/internal/ctxlog"
	"github.com/vk/deprender/internal/fsutil"
	"github.com/vk/deprender/internal/task"
)

// DefaultDir is the hand-off directory relative to the project root.
const DefaultDir = "Render Tasks/new"

const (
	specExtension   = ".json"
	rejectedDirName = "rejected"
)

// Dir resolves the configured hand-off directory. An empty value means
// DefaultDir; relative values are taken from the project root.
func Dir(projectRoot, configured string) string {
	switch {
	case configured == "":
		return filepath.Join(projectRoot, filepath.FromSlash(DefaultDir))
	case filepath.IsAbs(configured):
		return configured
	default:
		return filepath.Join(projectRoot, configured)
	}
}

// Submit validates spec and drops it into dir under a fresh unique name. The
// file appears atomically, so a poller never reads a partial spec.
func Submit(ctx context.Context, dir string, spec task.Spec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(dir, uuid.NewString()+specExtension)
	if err := fsutil.WriteFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("submit task: %w", err)
	}
	ctxlog.FromContext(ctx).Info("Task submitted.", "task", spec.Describe(), "file", path)
	return path, nil
}

// Poller picks up task specs from a hand-off directory.
type Poller struct {
	dir string
}

// NewPoller creates a poller over dir.
func NewPoller(dir string) *Poller {
	return &Poller{dir: dir}
}

// Dir returns the watched directory.
func (p *Poller) Dir() string {
	return p.dir
}

// Next claims the first spec file in name order, removes it and returns the
// decoded spec. ok is false when the directory holds no spec. A file that
// does not hold a valid spec is moved to the sibling rejected/ directory and
// reported as task.ErrInvalidSpec.
func (p *Poller) Next(ctx context.Context) (spec task.Spec, ok bool, err error) {
	logger := ctxlog.FromContext(ctx).With("handoffDir", p.dir)

	files, err := fsutil.ListFilesByExtension(p.dir, specExtension)
	if err != nil {
		return task.Spec{}, false, err
	}

	for _, file := range files {
		claimed := filepath.Join(p.dir, "."+filepath.Base(file)+".claimed")
		if err := os.Rename(file, claimed); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				// Another poller was faster.
				continue
			}
			return task.Spec{}, false, err
		}

		spec, decodeErr := task.LoadFile(claimed)
		if decodeErr != nil {
			if !errors.Is(decodeErr, task.ErrInvalidSpec) {
				decodeErr = fmt.Errorf("%w: %w", task.ErrInvalidSpec, decodeErr)
			}
			if err := p.reject(claimed, filepath.Base(file)); err != nil {
				return task.Spec{}, false, err
			}
			logger.Warn("Rejected hand-off file.", "file", filepath.Base(file), "error", decodeErr)
			return task.Spec{}, false, fmt.Errorf("%s: %w", filepath.Base(file), decodeErr)
		}

		if err := os.Remove(claimed); err != nil {
			return task.Spec{}, false, err
		}
		logger.Info("Picked up hand-off task.", "file", filepath.Base(file), "task", spec.Describe())
		return spec, true, nil
	}
	return task.Spec{}, false, nil
}

func (p *Poller) reject(claimed, name string) error {
	rejected := filepath.Join(filepath.Dir(p.dir), rejectedDirName)
	if err := os.MkdirAll(rejected, 0o755); err != nil {
		return err
	}
	return os.Rename(claimed, filepath.Join(rejected, name))
}
