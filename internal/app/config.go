package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vk/deprender/internal/config"
	"github.com/vk/deprender/internal/targetid"
	"github.com/vk/deprender/internal/task"
)

// Command selects what a run does.
type Command string

const (
	CommandRender  Command = "render"
	CommandPlan    Command = "plan"
	CommandSubmit  Command = "submit"
	CommandWatch   Command = "watch"
	CommandTargets Command = "targets"
)

// Commands lists the known commands in help order.
var Commands = []Command{CommandRender, CommandPlan, CommandSubmit, CommandWatch, CommandTargets}

// needsSpec reports whether the command acts on a task spec.
func (c Command) needsSpec() bool {
	return c == CommandRender || c == CommandPlan || c == CommandSubmit
}

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	Command     Command
	ProjectRoot string
	// Spec is the requested task for render, plan and submit.
	Spec task.Spec
	// Once makes watch return when the hand-off directory is empty.
	Once     bool
	Settings config.Settings
}

// NewConfig validates cfg and normalizes its paths: the project root
// becomes absolute, and filesystem paths in a blend-file spec become
// project-relative. A blend-file spec without an output directory renders
// into the latest directory of the target named after the file.
func NewConfig(cfg Config) (*Config, error) {
	known := false
	for _, c := range Commands {
		known = known || c == cfg.Command
	}
	if !known {
		return nil, fmt.Errorf("unknown command %q", cfg.Command)
	}

	if cfg.ProjectRoot == "" {
		return nil, errors.New("ProjectRoot is a required configuration field and cannot be empty")
	}
	root, err := filepath.Abs(cfg.ProjectRoot)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root %s is not a directory", root)
	}
	cfg.ProjectRoot = root

	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}

	if !cfg.Command.needsSpec() {
		return &cfg, nil
	}

	spec := cfg.Spec.Clone()
	if spec.Target != "" {
		if _, err := targetid.Parse(spec.Target); err != nil {
			return nil, err
		}
	}
	if spec.BlendFile != "" && spec.Target == "" {
		if spec.BlendFile, err = projectPath(root, spec.BlendFile); err != nil {
			return nil, err
		}
		if spec.OutputDirectory == "" {
			abs, err := targetid.FromProjectPath(root, spec.BlendFile)
			if err != nil {
				return nil, err
			}
			id, err := targetid.FromBlendFile(root, abs)
			if err != nil {
				return nil, fmt.Errorf("no output directory given and none can be derived: %w", err)
			}
			spec.OutputDirectory = id.LatestDir(root)
		}
		if spec.OutputDirectory, err = projectPath(root, spec.OutputDirectory); err != nil {
			return nil, err
		}
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	cfg.Spec = spec
	return &cfg, nil
}

// projectPath converts a filesystem path into the "//..." form; values that
// already are project-relative pass through.
func projectPath(root, p string) (string, error) {
	if strings.HasPrefix(p, targetid.Prefix) {
		return p, nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return targetid.ToProjectPath(root, abs)
}
