// Package stream is the client half of the realtime channel.
//
// A Client owns at most one WebSocket connection at a time and walks a small
// state machine: disabled, connecting, connected, disconnected and error.
// Abnormal closures are retried with exponential backoff up to a fixed number
// of attempts; a clean closure or an explicit Disconnect stops retrying, and an
// authentication rejection parks the client in the error state until Reconnect
// is called. All connection attempts run on the client's own goroutine, so two
// connections never overlap.
package stream
