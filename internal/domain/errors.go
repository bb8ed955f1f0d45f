package domain

import "errors"

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrTenantNotFound      = errors.New("tenant not found")
	ErrSessionNotFound     = errors.New("session not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrTableNotFound       = errors.New("table not found")
	ErrReservationClosed   = errors.New("reservation is no longer active")
	ErrMalformedMessage    = errors.New("malformed message")
)
