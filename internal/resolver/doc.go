// Package resolver turns a task request into the ordered list of concrete
// blend-file tasks a scheduler can run.
//
// Target requests are resolved depth-first over a graph built for the pass:
// dependencies come before the targets that need them, a (blend file, output
// directory) pair appears at most once, and a target is rendered when it is
// stale itself or when anything upstream of it is rendered. An empty
// invalidation policy forces a render of the requested target alone.
//
// Unlike a naive recursive walk, the resolver keeps the stack of targets
// being visited and fails with ErrCyclicDependency when a target depends on
// itself through any path.
package resolver
