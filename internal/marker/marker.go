package marker

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/vk/deprender/internal/fsutil"
	"github.com/vk/deprender/internal/task"
)

// Marker file names.
const (
	InProgressFile = "IN_PROGRESS.json"
	DoneFile       = "DONE.json"
	ErrorFile      = "ERROR.json"
)

// State is the completion state derived from the markers in a directory.
type State int

const (
	StateNone State = iota
	StateInProgress
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateInProgress:
		return "IN_PROGRESS"
	case StateDone:
		return "DONE"
	case StateError:
		return "ERROR"
	default:
		return "NONE"
	}
}

// Terminal reports whether the state is DONE or ERROR.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// Time is a point in time serialized as fractional Unix seconds.
type Time struct {
	time.Time
}

// At wraps t.
func At(t time.Time) *Time {
	return &Time{Time: t}
}

// MarshalJSON implements json.Marshaler.
func (t Time) MarshalJSON() ([]byte, error) {
	secs := float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
	return json.Marshal(secs)
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Time) UnmarshalJSON(data []byte) error {
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("marker time: %w", err)
	}
	whole, frac := math.Modf(secs)
	t.Time = time.Unix(int64(whole), int64(frac*float64(time.Second)))
	return nil
}

// Record is the content of any of the three marker files.
type Record struct {
	StartTime      *Time      `json:"start_time,omitempty"`
	TaskSpec       *task.Spec `json:"task_spec,omitempty"`
	CompletionTime *Time      `json:"completion_time,omitempty"`
	ErrorCode      *int       `json:"error_code,omitempty"`
}

// ReadRecord decodes the record stored at path. It returns (nil, nil) when
// the file does not exist.
func ReadRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode marker %s: %w", path, err)
	}
	return &rec, nil
}

// WriteRecord atomically writes rec to path.
func WriteRecord(path string, rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data)
}

// Read returns the authoritative state of dir and its record. DONE takes
// precedence over ERROR, which takes precedence over IN_PROGRESS.
func Read(dir string) (State, *Record, error) {
	for _, candidate := range []struct {
		file  string
		state State
	}{
		{DoneFile, StateDone},
		{ErrorFile, StateError},
		{InProgressFile, StateInProgress},
	} {
		rec, err := ReadRecord(filepath.Join(dir, candidate.file))
		if err != nil {
			return StateNone, nil, err
		}
		if rec != nil {
			return candidate.state, rec, nil
		}
	}
	return StateNone, nil, nil
}

// ReadDone returns the DONE record of dir, or nil if the directory was never
// rendered successfully.
func ReadDone(dir string) (*Record, error) {
	return ReadRecord(filepath.Join(dir, DoneFile))
}

// WriteInProgress records that a render of spec into dir started at start.
func WriteInProgress(dir string, start time.Time, spec task.Spec) error {
	return WriteRecord(filepath.Join(dir, InProgressFile), &Record{
		StartTime: At(start),
		TaskSpec:  &spec,
	})
}
