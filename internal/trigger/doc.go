// Package trigger matches automation triggers against incoming events.
//
// Evaluation is a pure predicate over the event for every platform except
// template, which tracks the previous truthiness per trigger so only a
// rising edge matches.
package trigger
