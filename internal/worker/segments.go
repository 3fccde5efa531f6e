package worker

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/vk/deprender/internal/marker"
	"github.com/vk/deprender/internal/task"
)

const segmentsDirName = "segments"

func segmentRecordPath(outDir string, index int) string {
	return filepath.Join(outDir, segmentsDirName, strconv.Itoa(index)+".json")
}

// finalizeSegment stores the result of one segment. When every segment of
// the task has reported, the aggregate marker is written through
// marker.Finalize: DONE if all segments exited 0, otherwise ERROR carrying
// the first non-zero exit code in segment order. Until then the directory
// stays IN_PROGRESS.
func finalizeSegment(ctx context.Context, outDir string, spec task.Spec, start time.Time, exitCode int, now time.Time) (marker.State, error) {
	seg := spec.Segment
	rec := &marker.Record{StartTime: marker.At(start), TaskSpec: &spec, CompletionTime: marker.At(now)}
	if exitCode != 0 {
		code := exitCode
		rec.ErrorCode = &code
	}
	if err := os.MkdirAll(filepath.Join(outDir, segmentsDirName), 0o755); err != nil {
		return marker.StateNone, err
	}
	if err := marker.WriteRecord(segmentRecordPath(outDir, seg.Index), rec); err != nil {
		return marker.StateNone, err
	}

	records := make([]*marker.Record, 0, seg.Count)
	for i := 0; i < seg.Count; i++ {
		r, err := marker.ReadRecord(segmentRecordPath(outDir, i))
		if err != nil {
			return marker.StateNone, err
		}
		if r == nil {
			return marker.StateInProgress, nil
		}
		records = append(records, r)
	}

	merged, earliest, code := aggregateSegments(records)
	if err := marker.WriteInProgress(outDir, earliest, merged); err != nil {
		return marker.StateNone, err
	}
	return marker.Finalize(ctx, outDir, code, now)
}

// aggregateSegments rebuilds the unsplit task from the segment records.
func aggregateSegments(records []*marker.Record) (task.Spec, time.Time, int) {
	var (
		merged   task.Spec
		earliest time.Time
		code     int
	)
	for i, r := range records {
		if r.StartTime != nil && (earliest.IsZero() || r.StartTime.Before(earliest)) {
			earliest = r.StartTime.Time
		}
		if code == 0 && r.ErrorCode != nil {
			code = *r.ErrorCode
		}
		if r.TaskSpec == nil {
			continue
		}
		if i == 0 || merged.BlendFile == "" {
			merged = r.TaskSpec.Clone()
			merged.Segment = nil
			continue
		}
		if s := r.TaskSpec.StartFrame; s != nil && (merged.StartFrame == nil || *s < *merged.StartFrame) {
			merged.StartFrame = task.Int(*s)
		}
		if e := r.TaskSpec.EndFrame; e != nil && (merged.EndFrame == nil || *e > *merged.EndFrame) {
			merged.EndFrame = task.Int(*e)
		}
	}
	return merged, earliest, code
}
