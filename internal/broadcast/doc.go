// Package broadcast owns the live stream connections of this instance.
//
// The Registry groups connections by tenant and fans events out to exactly one
// tenant group. It is an actor: a single goroutine owns the groups and every
// mutation arrives over its command channel, so a broadcast that evicts
// members while iterating never races a concurrent register or unregister.
// Each Conn has its own writer goroutine with a bounded send buffer; the
// Supervisor probes liveness and terminates connections that went silent.
package broadcast
