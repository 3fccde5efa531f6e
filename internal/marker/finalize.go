package marker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vk/deprender/internal/ctxlog"
)

// Finalize converts the IN_PROGRESS marker of dir into DONE (exitCode 0) or
// ERROR (any other exit code), merging the completion time into the record.
//
// A directory that already holds a terminal marker is left untouched and its
// state is returned, so finalizing twice is a no-op. A missing IN_PROGRESS
// marker is tolerated; the start time is lost and a warning is logged.
func Finalize(ctx context.Context, dir string, exitCode int, now time.Time) (State, error) {
	logger := ctxlog.FromContext(ctx).With("outputDirectory", dir)

	state, _, err := Read(dir)
	if err != nil {
		return StateNone, err
	}
	if state.Terminal() {
		logger.Debug("Output directory already finalized, nothing to do.", "state", state.String())
		return state, nil
	}

	inProgressPath := filepath.Join(dir, InProgressFile)
	rec, err := ReadRecord(inProgressPath)
	if err != nil {
		return StateNone, err
	}
	if rec == nil {
		logger.Warn("No in-progress marker found, the start time is lost.")
		rec = &Record{}
	}
	rec.CompletionTime = At(now)

	target, result := DoneFile, StateDone
	if exitCode != 0 {
		code := exitCode
		rec.ErrorCode = &code
		target, result = ErrorFile, StateError
	}

	if err := WriteRecord(filepath.Join(dir, target), rec); err != nil {
		return StateNone, fmt.Errorf("write %s: %w", target, err)
	}
	if err := os.Remove(inProgressPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return result, fmt.Errorf("remove %s: %w", InProgressFile, err)
	}

	logger.Debug("Output directory finalized.", "state", result.String(), "exitCode", exitCode)
	return result, nil
}
