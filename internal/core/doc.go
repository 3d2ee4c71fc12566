// Package core provides the value types shared by every Hearth Core
// subsystem: entity identifiers, state snapshots, contexts, event
// envelopes and service call descriptors.
//
// These types form the vocabulary of the kernel. The event bus carries
// Event values, the state store produces State snapshots, and every
// mutation in the system is stamped with a Context that records who
// initiated it and which action it descended from.
//
// # Key Types
//
//   - EntityID: a validated "domain.object" pair (e.g. "light.kitchen")
//   - Context: causality record with a time-ordered unique id
//   - State: an entity's value, attributes and timestamps at a point in time
//   - Event: typed envelope broadcast on the event bus
//   - ServiceCall: a request to invoke a registered service
//
// # Thread Safety
//
// All types in this package are immutable value types once constructed.
// Copies are safe to share across goroutines.
package core
