// Package history records state transitions into SQLite and serves
// time-ranged queries over them.
//
// The recorder subscribes to state_changed on the event bus and appends
// one row per transition. Writes are buffered through a channel so bus
// delivery never blocks on disk; if the buffer fills, rows are dropped
// and counted rather than stalling the bus.
//
// A background purge enforces the configured retention window.
package history
