// Package state provides the authoritative registry of entity states.
//
// The Store holds the current snapshot for every entity and is the single
// writer of state_changed events: Set and Remove fire them, nothing else
// in the system may. A write that changes neither value nor attributes is
// a no-op report and fires nothing, but still advances last_reported.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes to the same entity are
// serialised: each produces exactly one event and the stored snapshot is
// the last writer's, by serialisation order rather than wall clock.
package state
