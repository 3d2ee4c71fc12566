// Package template evaluates Jinja-dialect expressions against the state
// store and caller-supplied variables.
//
// Render always produces a string; Evaluate renders and then parses the
// result back into a typed value, so `{{ 21.5 }}` evaluates to a float
// and `{{ none }}` to nil. Missing state degrades to an empty string in
// Render and nil in Evaluate rather than failing.
package template
