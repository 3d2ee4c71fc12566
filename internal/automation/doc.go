// Package automation wires triggers to script runs.
//
// A Manager holds automation configurations, subscribes to the bus once
// with a match-all listener, and walks each enabled automation's
// triggers for every event. A matching trigger gates through the
// automation's conditions and hands the run to a script controller
// under the automation's execution mode.
package automation
