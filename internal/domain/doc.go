// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (event.go, tenant.go, user.go, session.go, schedule.go, ...)
// hold the shared types and the cross-cutting interfaces implemented by adapters.
// No implementation code beyond small value helpers. Keeping the contracts here
// prevents circular imports between adapters, the server and the client packages.
package domain
