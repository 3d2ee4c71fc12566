// Package condition evaluates the boolean condition trees used by
// automations and scripts.
package condition
