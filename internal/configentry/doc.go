// Package configentry manages the lifecycle of integration config entries.
//
// Each entry is a small state machine: created not_loaded, moved through
// setup_in_progress into loaded or one of the error states, and unloaded
// through unload_in_progress. A not-ready integration lands in setup_retry
// and is retried with exponential backoff. Entries persist under the
// core.config_entries storage key; lifecycle state itself is runtime-only
// and resets to not_loaded on restart.
package configentry
