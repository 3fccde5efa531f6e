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
	"github.com/vk/deprender/internal/task"
)

const (
	// ArchiveTimeFormat names archived output directories.
	ArchiveTimeFormat = "2006-01-02_15-04-05"

	settingsFile  = "settings.py"
	renderLogFile = "render.log"
	framePattern  = "frame_#####"
)

// rotateOutput moves the content of a non-empty dir into a sibling archive
// directory and returns the archive path. Nothing happens, and "" is
// returned, when dir is missing or empty.
func rotateOutput(ctx context.Context, dir string, now time.Time) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}

	name, err := archiveName(dir, now)
	if err != nil {
		return "", err
	}
	archive := uniquePath(filepath.Join(filepath.Dir(dir), name))
	if err := os.MkdirAll(archive, 0o755); err != nil {
		return "", err
	}
	for _, e := range entries {
		if err := os.Rename(filepath.Join(dir, e.Name()), filepath.Join(archive, e.Name())); err != nil {
			return "", fmt.Errorf("archive %s: %w", e.Name(), err)
		}
	}

	ctxlog.FromContext(ctx).Info("Previous output archived.", "outputDirectory", dir, "archive", archive, "files", len(entries))
	return archive, nil
}

// archiveName is the completion time of the previous render if it finished,
// otherwise the current time tagged with what is known about the leftovers.
func archiveName(dir string, now time.Time) (string, error) {
	state, rec, err := marker.Read(dir)
	if err != nil {
		return "", err
	}
	stamp := now.UTC().Format(ArchiveTimeFormat)
	switch {
	case state == marker.StateDone && rec.CompletionTime != nil:
		return rec.CompletionTime.UTC().Format(ArchiveTimeFormat), nil
	case state == marker.StateInProgress:
		return stamp + "_INCOMPLETE", nil
	default:
		return stamp + "_UNKNOWN_STATUS", nil
	}
}

func uniquePath(path string) string {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return path
	}
	for i := 1; ; i++ {
		candidate := path + "_" + strconv.Itoa(i)
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
	}
}

// settingsScript renders the parameter-override script for p.
func settingsScript(p task.Params) string {
	var sb strings.Builder
	sb.WriteString("import bpy\n\n")
	set := func(field string, v *int) {
		if v != nil {
			fmt.Fprintf(&sb, "bpy.context.scene.render.%s = %d\n", field, *v)
		}
	}
	set("resolution_x", p.ResolutionX)
	set("resolution_y", p.ResolutionY)
	set("resolution_percentage", p.ResolutionPercentage)
	return sb.String()
}
