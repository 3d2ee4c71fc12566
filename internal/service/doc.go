// Package service implements the service registry and dispatcher.
//
// Services are named operations grouped by domain. Integrations register
// handlers; callers invoke them through Call, which fires a call_service
// event and routes the handler's optional response back to the caller.
package service
