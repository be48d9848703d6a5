package ride

import (
	"errors"
	"strings"
)

// Status is a ride request status as stored in the `ride_requests` table.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusOffered         Status = "OFFERED"
	StatusAccepted        Status = "ACCEPTED"
	StatusDriverEnRoute   Status = "DRIVER_EN_ROUTE"
	StatusDriverArrived   Status = "DRIVER_ARRIVED"
	StatusPassengerAboard Status = "PASSENGER_ABOARD"
	StatusCompleted       Status = "COMPLETED"
	StatusCancelled       Status = "CANCELLED"
	StatusExpired         Status = "EXPIRED"
)

var ErrInvalidStatus = errors.New("invalid ride status")

// ParseStatus normalizes (uppercases+trims) and validates a status string.
func ParseStatus(in string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(in)))
	if status.Valid() {
		return status, nil
	}
	return "", ErrInvalidStatus
}

// Valid reports whether status is one of the allowed ride status constants.
func (status Status) Valid() bool {
	switch status {
	case StatusPending, StatusOffered, StatusAccepted, StatusDriverEnRoute,
		StatusDriverArrived, StatusPassengerAboard, StatusCompleted,
		StatusCancelled, StatusExpired:
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
// OFFERED -> PENDING covers an offer resolved without acceptance (reject or
// timeout) before the next candidate is tried.
func (status Status) CanTransitionTo(next Status) bool {
	switch status {
	case StatusPending:
		return next == StatusOffered || next == StatusAccepted ||
			next == StatusExpired || next == StatusCancelled

	case StatusOffered:
		return next == StatusAccepted || next == StatusPending ||
			next == StatusExpired || next == StatusCancelled

	case StatusAccepted:
		return next == StatusDriverEnRoute || next == StatusCancelled

	case StatusDriverEnRoute:
		return next == StatusDriverArrived || next == StatusCancelled

	case StatusDriverArrived:
		return next == StatusPassengerAboard || next == StatusCancelled

	case StatusPassengerAboard:
		return next == StatusCompleted

	case StatusCompleted, StatusCancelled, StatusExpired:
		return false

	default:
		return false
	}
}

// Terminal indicates if the status is in a terminal state (no further transitions).
func (status Status) Terminal() bool {
	return status == StatusCompleted || status == StatusCancelled || status == StatusExpired
}

// Assigned reports whether a ride in this status must have a driver assigned.
func (status Status) Assigned() bool {
	switch status {
	case StatusAccepted, StatusDriverEnRoute, StatusDriverArrived, StatusPassengerAboard, StatusCompleted:
		return true
	default:
		return false
	}
}

// Cancellable reports whether the ride can still be cancelled by either actor.
// Cancellation is rejected once the passenger is aboard.
func (status Status) Cancellable() bool {
	switch status {
	case StatusPending, StatusOffered, StatusAccepted, StatusDriverEnRoute, StatusDriverArrived:
		return true
	default:
		return false
	}
}
