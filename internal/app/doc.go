// Package app provides the application service layer.
//
// ScheduleService runs the authenticated schedule use cases: reading a
// tenant-day, moving and canceling reservations, and changing table status.
// Placements are re-checked with the grid rules inside a repository
// transaction, and committed changes are published through the event relay.
// Depends on domain interfaces, not concrete implementations.
package app
