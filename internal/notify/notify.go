package notify

import (
	"context"
	"sync"
	"time"

	"github.com/vk/deprender/internal/ctxlog"
)

// EventType names a scheduler transition.
type EventType string

const (
	EventPlanned    EventType = "planned"
	EventDispatched EventType = "dispatched"
	EventFinished   EventType = "finished"
	EventAbandoned  EventType = "abandoned"
	EventCancelled  EventType = "cancelled"
	EventDone       EventType = "done"
)

// Event is one progress report.
type Event struct {
	Type     EventType `json:"type"`
	RunID    string    `json:"run_id"`
	Time     time.Time `json:"time"`
	WorkerID int       `json:"worker_id,omitempty"`
	Task     string    `json:"task,omitempty"`
	// State is the marker written when a task finished.
	State    string `json:"state,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Queued   int    `json:"queued"`
	Busy     int    `json:"busy"`
}

// Notifier receives events.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

// Log writes events to the context logger.
type Log struct{}

func (Log) Notify(ctx context.Context, e Event) {
	args := []any{"runID", e.RunID, "queued", e.Queued, "busy", e.Busy}
	if e.Task != "" {
		args = append(args, "workerID", e.WorkerID, "task", e.Task)
	}
	if e.State != "" {
		args = append(args, "state", e.State)
	}
	if e.ExitCode != nil {
		args = append(args, "exitCode", *e.ExitCode)
	}
	ctxlog.FromContext(ctx).Debug("Scheduler event: "+string(e.Type), args...)
}

// Multi fans events out to several notifiers in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e Event) {
	for _, n := range m {
		n.Notify(ctx, e)
	}
}

// Snapshot is the aggregate state kept by a Tracker.
type Snapshot struct {
	RunID      string    `json:"run_id"`
	Planned    int       `json:"planned"`
	Dispatched int       `json:"dispatched"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Abandoned  int       `json:"abandoned"`
	Queued     int       `json:"queued"`
	Busy       int       `json:"busy"`
	Done       bool      `json:"done"`
	Updated    time.Time `json:"updated"`
}

// Tracker aggregates events into counters. It is safe for concurrent use;
// the status endpoint reads it while the scheduler writes.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// Notify implements Notifier. A planned event for a new run resets the
// counters.
func (t *Tracker) Notify(_ context.Context, e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e.Type == EventPlanned && e.RunID != t.snap.RunID {
		t.snap = Snapshot{RunID: e.RunID}
	}
	switch e.Type {
	case EventPlanned:
		t.snap.Planned = e.Queued
		t.snap.Done = false
	case EventDispatched:
		t.snap.Dispatched++
	case EventFinished:
		if e.ExitCode != nil && *e.ExitCode != 0 {
			t.snap.Failed++
		} else {
			t.snap.Succeeded++
		}
	case EventAbandoned:
		t.snap.Abandoned++
	case EventDone:
		t.snap.Done = true
	}
	t.snap.Queued, t.snap.Busy = e.Queued, e.Busy
	t.snap.Updated = e.Time
}

// Snapshot returns a copy of the current counters.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}
