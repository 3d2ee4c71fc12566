// Package script executes action trees.
//
// An Executor walks one action sequence inside a variable scope with
// cooperative cancellation at every suspension point (delay, waits,
// blocking service calls). A Controller wraps an executor with the
// single/restart/queued/parallel run-mode policy.
package script
