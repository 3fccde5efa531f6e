package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vk/deprender/internal/ctxlog"
	"github.com/vk/deprender/internal/graph"
	"github.com/vk/deprender/internal/staleness"
	"github.com/vk/deprender/internal/targetid"
	"github.com/vk/deprender/internal/task"
)

// ErrCyclicDependency is returned when the dependency graph contains a cycle.
var ErrCyclicDependency = errors.New("cyclic dependency")

// Plan is the outcome of a resolution pass.
type Plan struct {
	// Tasks are blend-file tasks in dependency order.
	Tasks []task.Spec
	// Requires maps a task to the tasks of the same plan it consumes output
	// from. Tasks with no upstream work are absent.
	Requires map[task.Key][]task.Key
}

// Len returns the number of tasks in the plan.
func (p *Plan) Len() int {
	return len(p.Tasks)
}

// Upstream returns the keys k depends on.
func (p *Plan) Upstream(k task.Key) []task.Key {
	return p.Requires[k]
}

// Option configures a resolution pass.
type Option func(*resolver)

// WithStrict makes the pass fail on duplicate target declarations.
func WithStrict(strict bool) Option {
	return func(r *resolver) { r.strict = strict }
}

type resolver struct {
	projectRoot string
	strict      bool
	graph       *graph.Graph
	oracle      *staleness.Oracle

	plan *Plan
	seen map[task.Key]bool
	// done memoizes the task key produced for a target, nil when the target
	// was up to date.
	done  map[targetid.ID]*task.Key
	stack []targetid.ID
}

// Resolve expands spec into a plan. A blend-file spec is validated and
// returned as a single-task plan; a target spec is walked through the graph.
func Resolve(ctx context.Context, projectRoot string, spec task.Spec, opts ...Option) (*Plan, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	plan := &Plan{Requires: make(map[task.Key][]task.Key)}
	if spec.Kind() == task.KindBlendFile {
		plan.Tasks = append(plan.Tasks, spec.Clone())
		return plan, nil
	}

	id, err := targetid.Parse(spec.Target)
	if err != nil {
		return nil, err
	}

	r := &resolver{
		projectRoot: projectRoot,
		plan:        plan,
		seen:        make(map[task.Key]bool),
		done:        make(map[targetid.ID]*task.Key),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.graph = graph.New(graph.WithStrict(r.strict))
	r.oracle = staleness.New(projectRoot, r.graph)

	if _, err := r.resolve(ctx, id, spec); err != nil {
		return nil, err
	}

	ctxlog.FromContext(ctx).Info("Resolved render plan.",
		"target", id.String(),
		"policy", policyString(spec.DependencyInvalidationTypes),
		"tasks", plan.Len(),
	)
	return plan, nil
}

func (r *resolver) resolve(ctx context.Context, id targetid.ID, spec task.Spec) (*task.Key, error) {
	if key, ok := r.done[id]; ok {
		return key, nil
	}
	for i, visiting := range r.stack {
		if visiting == id {
			return nil, fmt.Errorf("%w: %s", ErrCyclicDependency, cyclePath(r.stack[i:], id))
		}
	}
	r.stack = append(r.stack, id)
	defer func() { r.stack = r.stack[:len(r.stack)-1] }()

	logger := ctxlog.FromContext(ctx).With("target", id.String())

	if err := r.graph.LoadTargetDir(ctx, r.projectRoot, id); err != nil {
		return nil, err
	}
	t, err := r.graph.Target(id)
	if err != nil {
		return nil, err
	}

	policy := spec.DependencyInvalidationTypes
	var upstream []task.Key
	needed := policy.IsForce()

	if !policy.IsForce() {
		for _, dep := range t.Deps {
			key, err := r.resolve(ctx, dep, spec.ForTarget(dep.String()))
			if err != nil {
				return nil, err
			}
			if key != nil {
				upstream = appendKey(upstream, *key)
			}
		}

		verdict, err := r.oracle.Check(ctx, id, policy, spec.Params)
		if err != nil {
			return nil, err
		}
		needed = verdict.Stale || len(upstream) > 0
		logger.Debug("Target evaluated.", "stale", verdict.Stale, "reason", string(verdict.Reason), "upstreamTasks", len(upstream))
	}

	if !needed {
		r.done[id] = nil
		return nil, nil
	}

	own, err := r.blendFileTask(id, t, spec)
	if err != nil {
		return nil, err
	}
	key := own.Key()
	if !r.seen[key] {
		r.seen[key] = true
		r.plan.Tasks = append(r.plan.Tasks, own)
	}
	if len(upstream) > 0 {
		r.plan.Requires[key] = upstream
	}
	r.done[id] = &key
	logger.Debug("Task planned.", "task", key.String())
	return &key, nil
}

func (r *resolver) blendFileTask(id targetid.ID, t *graph.Target, spec task.Spec) (task.Spec, error) {
	blend, err := targetid.ToProjectPath(r.projectRoot, id.SourcePath(r.projectRoot, t.Source))
	if err != nil {
		return task.Spec{}, err
	}
	out, err := targetid.ToProjectPath(r.projectRoot, id.LatestDir(r.projectRoot))
	if err != nil {
		return task.Spec{}, err
	}
	return spec.BlendFileTask(blend, out), nil
}

func appendKey(keys []task.Key, k task.Key) []task.Key {
	for _, existing := range keys {
		if existing == k {
			return keys
		}
	}
	return append(keys, k)
}

func cyclePath(stack []targetid.ID, back targetid.ID) string {
	parts := make([]string, 0, len(stack)+1)
	for _, id := range stack {
		parts = append(parts, id.String())
	}
	parts = append(parts, back.String())
	return strings.Join(parts, " -> ")
}

func policyString(p task.Policy) string {
	if p.IsForce() {
		return "force"
	}
	parts := make([]string, len(p))
	for i, t := range p {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}
