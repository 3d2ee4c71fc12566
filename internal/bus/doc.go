// Package bus provides the in-process event bus for Hearth Core.
//
// The bus is the central message broker: the state store fires
// state_changed events through it, the service dispatcher announces
// call_service events, and the automation manager listens for everything
// via a match-all subscription.
//
// Delivery is synchronous and ordered: within one event type, listeners
// are invoked in subscription order, and successive Fire calls are
// delivered in call order. Listeners must not block; long work belongs in
// a goroutine spawned by the listener.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Listeners may subscribe or
// unsubscribe during their own invocation; the change takes effect on the
// next Fire, not the current one.
package bus
