package driver

import (
	"errors"
	"strings"
)

// Status is a driver presence status as stored in the `driver_presence` table.
type Status string

const (
	StatusOffline Status = "OFFLINE"
	StatusOnline  Status = "ONLINE"
	StatusOffered Status = "OFFERED"
	StatusBusy    Status = "BUSY"
)

var ErrInvalidDriverStatus = errors.New("invalid driver status")

// ParseStatus normalizes (uppercases+trims) and validates a driver status string.
func ParseStatus(in string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(in)))
	if status.Valid() {
		return status, nil
	}
	return "", ErrInvalidDriverStatus
}

// Valid reports whether the status is one of the allowed driver status constants.
func (status Status) Valid() bool {
	switch status {
	case StatusOffline, StatusOnline, StatusOffered, StatusBusy:
		return true
	default:
		return false
	}
}

// String returns the string representation of the Status.
func (status Status) String() string {
	return string(status)
}

// CanTransitionTo specifies if the status can transition to the next status.
// A driver never jumps ONLINE -> BUSY directly: acceptance always passes
// through OFFERED, driven by the dispatch coordinator.
func (status Status) CanTransitionTo(next Status) bool {
	switch status {
	case StatusOffline:
		return next == StatusOnline

	case StatusOnline:
		return next == StatusOffered || next == StatusOffline

	case StatusOffered:
		return next == StatusBusy || next == StatusOnline || next == StatusOffline

	case StatusBusy:
		return next == StatusOnline || next == StatusOffline

	default:
		return false
	}
}

// DriverControlled reports whether drivers may request this status themselves.
// OFFERED and BUSY are reserved for the dispatch coordinator.
func (status Status) DriverControlled() bool {
	return status == StatusOnline || status == StatusOffline
}
