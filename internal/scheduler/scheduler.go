package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vk/deprender/internal/ctxlog"
	"github.com/vk/deprender/internal/marker"
	"github.com/vk/deprender/internal/notify"
	"github.com/vk/deprender/internal/resolver"
	"github.com/vk/deprender/internal/task"
	"github.com/vk/deprender/internal/worker"
)

// DefaultPollInterval is the RunToCompletion polling period.
const DefaultPollInterval = 100 * time.Millisecond

// Result is the outcome of one reaped task.
type Result struct {
	Task     task.Spec
	WorkerID int
	State    marker.State
	ExitCode int
	// Abandoned is set for tasks reaped after Cancel; no marker was written.
	Abandoned bool
}

// Failed reports whether the render did not complete successfully.
func (r Result) Failed() bool {
	return r.Abandoned || r.ExitCode != 0 || r.State == marker.StateError
}

type options struct {
	pollInterval time.Duration
	notifier     notify.Notifier
	strict       bool
	runID        string
}

// Option configures a Scheduler.
type Option func(*options)

// WithPollInterval sets the RunToCompletion polling period.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithNotifier sends progress events to n.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithStrict rejects duplicate target declarations while resolving.
func WithStrict(strict bool) Option {
	return func(o *options) { o.strict = strict }
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(o *options) { o.runID = id }
}

// Scheduler owns the task queue and the worker pool of one run.
type Scheduler struct {
	runID        string
	pollInterval time.Duration
	notifier     notify.Notifier

	workers  []*worker.Worker
	queue    []task.Spec
	requires map[task.Key][]task.Key
	inFlight map[task.Key]int

	cancelled bool
	results   []Result
}

// New resolves spec and prepares a run over workers. The scheduler takes
// ownership of the workers; they must be idle.
func New(ctx context.Context, projectRoot string, spec task.Spec, workers []*worker.Worker, opts ...Option) (*Scheduler, error) {
	o := options{pollInterval: DefaultPollInterval, notifier: notify.Nop{}}
	for _, opt := range opts {
		opt(&o)
	}

	plan, err := resolver.Resolve(ctx, projectRoot, spec, resolver.WithStrict(o.strict))
	if err != nil {
		return nil, err
	}
	return FromPlan(ctx, plan, workers, opts...), nil
}

// FromPlan prepares a run of an already resolved plan.
func FromPlan(ctx context.Context, plan *resolver.Plan, workers []*worker.Worker, opts ...Option) *Scheduler {
	o := options{pollInterval: DefaultPollInterval, notifier: notify.Nop{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}

	s := &Scheduler{
		runID:        o.runID,
		pollInterval: o.pollInterval,
		notifier:     o.notifier,
		workers:      workers,
		queue:        append([]task.Spec(nil), plan.Tasks...),
		requires:     plan.Requires,
		inFlight:     make(map[task.Key]int),
	}
	if s.requires == nil {
		s.requires = map[task.Key][]task.Key{}
	}

	ctxlog.FromContext(ctx).Info("Render run planned.", "runID", s.runID, "tasks", len(s.queue), "workers", len(workers))
	s.emit(ctx, notify.Event{Type: notify.EventPlanned})
	return s
}

// RunID identifies the run in logs and events.
func (s *Scheduler) RunID() string {
	return s.runID
}

// Queued returns the number of tasks waiting for a worker.
func (s *Scheduler) Queued() int {
	return len(s.queue)
}

// Busy returns the number of workers with a render in flight.
func (s *Scheduler) Busy() int {
	n := 0
	for _, w := range s.workers {
		if !w.IsAvailable() {
			n++
		}
	}
	return n
}

// Results returns the reaped tasks in reap order.
func (s *Scheduler) Results() []Result {
	return append([]Result(nil), s.results...)
}

// IsDone reports whether the queue is empty and no worker is busy.
func (s *Scheduler) IsDone() bool {
	return len(s.queue) == 0 && s.Busy() == 0
}

// Step reaps finished workers and hands queued tasks to idle ones. It never
// waits for a renderer.
func (s *Scheduler) Step(ctx context.Context) error {
	ctx, logger := ctxlog.With(ctx, "runID", s.runID)

	if err := s.reap(ctx); err != nil {
		return err
	}
	if s.cancelled || len(s.queue) == 0 {
		return nil
	}

	idle := s.idleWorkers()
	if len(idle) == 0 {
		return nil
	}

	if len(s.queue) == 1 && len(idle) > 1 && s.ready(s.queue[0]) {
		if pieces := task.Split(s.queue[0], len(idle)); len(pieces) > 1 {
			logger.Info("Splitting last task across idle workers.", "task", s.queue[0].Describe(), "pieces", len(pieces))
			s.queue = s.queue[:0]
			for i, piece := range pieces {
				if err := s.dispatch(ctx, idle[i], piece); err != nil {
					return err
				}
			}
			return nil
		}
	}

	for _, w := range idle {
		if len(s.queue) == 0 {
			break
		}
		head := s.queue[0]
		if !s.ready(head) {
			logger.Debug("Queue head waits for upstream renders.", "task", head.Describe())
			break
		}
		s.queue = s.queue[1:]
		if err := s.dispatch(ctx, w, head); err != nil {
			return err
		}
	}
	return nil
}

// RunToCompletion calls Step every poll interval until IsDone. When ctx is
// cancelled the run is cancelled and drained, and ctx.Err() is returned. A
// Step error cancels the run the same way and is returned once drained.
func (s *Scheduler) RunToCompletion(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var runErr error
	done := ctx.Done()
	for {
		if err := s.Step(ctx); err != nil && runErr == nil {
			ctxlog.FromContext(ctx).Error("Render run aborted.", "runID", s.runID, "error", err)
			runErr = err
			s.Cancel(ctx)
		}
		if s.IsDone() {
			s.emit(ctx, notify.Event{Type: notify.EventDone})
			if runErr == nil {
				runErr = ctx.Err()
			}
			return runErr
		}
		select {
		case <-done:
			s.Cancel(ctx)
			done = nil
		case <-ticker.C:
		}
	}
}

// Cancel drops the queued tasks and asks running renderers to stop.
// Workers reaped afterwards are freed without a completion marker, so their
// output directories stay IN_PROGRESS and the next run retries them.
func (s *Scheduler) Cancel(ctx context.Context) {
	logger := ctxlog.FromContext(ctx).With("runID", s.runID)
	if !s.cancelled {
		logger.Warn("Render run cancelled.", "dropped", len(s.queue), "busy", s.Busy())
	}
	s.cancelled = true
	s.queue = nil
	for _, w := range s.workers {
		if w.IsAvailable() {
			continue
		}
		if err := w.Cancel(); err != nil {
			logger.Warn("Failed to stop renderer.", "workerID", w.ID(), "error", err)
		}
	}
	s.emit(ctx, notify.Event{Type: notify.EventCancelled})
}

func (s *Scheduler) reap(ctx context.Context) error {
	for _, w := range s.workers {
		if w.IsAvailable() || !w.IsDone() {
			continue
		}
		code, _ := w.ExitCode()
		st := w.Status()
		key := st.Task.Key()
		s.release(key)

		if s.cancelled {
			w.Abandon()
			s.results = append(s.results, Result{Task: st.Task, WorkerID: w.ID(), ExitCode: code, Abandoned: true})
			s.emit(ctx, notify.Event{Type: notify.EventAbandoned, WorkerID: w.ID(), Task: st.Task.Describe(), ExitCode: &code})
			continue
		}

		state, err := w.Finalize(ctx)
		if err != nil {
			return err
		}
		s.results = append(s.results, Result{Task: st.Task, WorkerID: w.ID(), State: state, ExitCode: code})
		s.emit(ctx, notify.Event{Type: notify.EventFinished, WorkerID: w.ID(), Task: st.Task.Describe(), State: state.String(), ExitCode: &code})
	}
	return nil
}

func (s *Scheduler) dispatch(ctx context.Context, w *worker.Worker, spec task.Spec) error {
	if _, err := w.Process(ctx, spec); err != nil {
		return err
	}
	s.inFlight[spec.Key()]++
	s.emit(ctx, notify.Event{Type: notify.EventDispatched, WorkerID: w.ID(), Task: spec.Describe()})
	return nil
}

func (s *Scheduler) release(key task.Key) {
	if s.inFlight[key] <= 1 {
		delete(s.inFlight, key)
		return
	}
	s.inFlight[key]--
}

// ready reports whether none of the upstream tasks of spec is rendering.
func (s *Scheduler) ready(spec task.Spec) bool {
	for _, up := range s.requires[spec.Key()] {
		if s.inFlight[up] > 0 {
			return false
		}
	}
	return true
}

func (s *Scheduler) idleWorkers() []*worker.Worker {
	var idle []*worker.Worker
	for _, w := range s.workers {
		if w.IsAvailable() {
			idle = append(idle, w)
		}
	}
	return idle
}

func (s *Scheduler) emit(ctx context.Context, e notify.Event) {
	e.RunID = s.runID
	e.Time = time.Now()
	e.Queued = len(s.queue)
	e.Busy = s.Busy()
	s.notifier.Notify(ctx, e)
}
