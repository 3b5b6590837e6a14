// Package scheduler drives the notification engine: it keeps an in-memory
// working set of candidate rules, evaluates them against wall-clock time at
// a fixed cadence, and dispatches due notifications to the external push
// channel and the live delivery registry.
//
// One mutex makes reloads, evaluation passes, and config application
// mutually exclusive; the working set has exactly one writer at a time.
// Lifecycle state lives under a separate lock so Stop stays responsive
// even while a reload is blocked in storage. Everything downstream of a
// tick is confined to the loop goroutine, so dispatch latency extends the
// tick but races with nothing.
package scheduler
