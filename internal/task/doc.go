// Package task defines the render task specification exchanged between the
// resolver, the scheduler, the workers and the hand-off directory, together
// with the frame-range splitter.
//
// A Spec has two shapes. A target task names a target and an invalidation
// policy and is resolved away before scheduling. A blend-file task names one
// concrete scene file and one output directory and is the only shape workers
// accept. Both shapes share the optional rendering parameters in Params.
package task
