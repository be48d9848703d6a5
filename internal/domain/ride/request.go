package ride

import (
	"errors"
	"strings"
	"time"
)

// GeoPoint is a latitude/longitude pair with an optional human-readable address.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// FareEstimate is the degraded-friendly result of the external pricing
// collaborator. A nil *FareEstimate on a request means estimation failed or
// was skipped; it never blocks creation.
type FareEstimate struct {
	DistanceKM      float64 `json:"distance_km"`
	DurationMinutes int     `json:"duration_minutes"`
	FareMin         float64 `json:"fare_min"`
	FareMax         float64 `json:"fare_max"`
}

// CancelActor identifies who asked for a cancellation.
type CancelActor string

const (
	CancelByPassenger CancelActor = "PASSENGER"
	CancelByDriver    CancelActor = "DRIVER"
	CancelBySystem    CancelActor = "SYSTEM"
)

// Request is the domain entity corresponding to the `ride_requests` table.
// Every mutation of Status, AssignedDriver and OfferHistory is committed
// through the store's compare-and-transition, keyed on Version.
type Request struct {
	// Identity & audit
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time

	// Actors
	PassengerID    string
	AssignedDriver *string // nil until accepted; set exactly once

	// Core state
	VehicleType VehicleType
	Status      Status
	Version     int64 // monotonic counter for optimistic concurrency

	// Route
	Pickup      GeoPoint
	Destination GeoPoint

	// Offer audit trail, append-only
	OfferHistory []OfferRecord

	// Pricing (nil when the estimator was unavailable)
	Estimate *FareEstimate

	// Lifecycle timestamps
	AcceptedAt  *time.Time
	AboardAt    *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
	ExpiredAt   *time.Time

	// Cancellation info
	CancelledBy        *CancelActor
	CancellationReason *string
}

// Sentinel errors for the dispatch/lifecycle taxonomy. VersionConflict and
// StaleUpdate are expected outcomes of healthy races, not faults.
var (
	ErrPassengerRequired      = errors.New("passenger id is required")
	ErrDriverRequired         = errors.New("driver id is required")
	ErrInvalidTransition      = errors.New("invalid ride status transition")
	ErrAlreadyAssigned        = errors.New("driver already assigned")
	ErrNoDriverAssigned       = errors.New("no driver assigned")
	ErrVersionConflict        = errors.New("ride request version conflict")
	ErrRequestNotFound        = errors.New("ride request not found")
	ErrRequestAlreadyResolved = errors.New("ride request already resolved")
	ErrNoCandidateAvailable   = errors.New("no candidate driver available")
	ErrCancellationNotAllowed = errors.New("cancellation not allowed after pickup")
	ErrNotRideParticipant     = errors.New("caller is not a participant of this ride")
	ErrDispatchFailed         = errors.New("dispatch failed after retries")
)

// NewRequest creates a new ride request in PENDING state with version 0.
func NewRequest(passengerID string, vt VehicleType, pickup, destination GeoPoint) (*Request, error) {
	if passengerID = strings.TrimSpace(passengerID); passengerID == "" {
		return nil, ErrPassengerRequired
	}
	if !vt.Valid() {
		return nil, ErrInvalidVehicleType
	}

	now := time.Now().UTC()
	return &Request{
		CreatedAt:   now,
		UpdatedAt:   now,
		PassengerID: passengerID,
		VehicleType: vt,
		Status:      StatusPending,
		Version:     0,
		Pickup:      pickup,
		Destination: destination,
	}, nil
}

// AssignDriver sets the driver and moves PENDING/OFFERED -> ACCEPTED.
// The assignment is write-once: a request that ever held a driver refuses
// another.
func (r *Request) AssignDriver(driverID string) error {
	if strings.TrimSpace(driverID) == "" {
		return ErrDriverRequired
	}
	if r.AssignedDriver != nil && *r.AssignedDriver != "" {
		return ErrAlreadyAssigned
	}
	if !r.Status.CanTransitionTo(StatusAccepted) {
		return ErrInvalidTransition
	}

	r.AssignedDriver = &driverID
	now := time.Now().UTC()
	r.AcceptedAt = &now
	r.setStatus(StatusAccepted)
	return nil
}

// RecordOffer appends an offer entry and moves the request to OFFERED.
func (r *Request) RecordOffer(rec OfferRecord) error {
	if !r.Status.CanTransitionTo(StatusOffered) && r.Status != StatusOffered {
		return ErrInvalidTransition
	}
	r.OfferHistory = append(r.OfferHistory, rec)
	r.setStatus(StatusOffered)
	return nil
}

// ResolveOffer marks the outcome of the latest pending offer for driverID.
func (r *Request) ResolveOffer(driverID string, outcome OfferOutcome) error {
	if !outcome.Resolved() {
		return ErrInvalidOfferOutcome
	}
	for i := len(r.OfferHistory) - 1; i >= 0; i-- {
		rec := &r.OfferHistory[i]
		if rec.DriverID == driverID && rec.Outcome == OfferPending {
			rec.Outcome = outcome
			r.touch()
			return nil
		}
	}
	return ErrRequestAlreadyResolved
}

// OfferedDrivers returns the set of drivers already present in offer_history,
// used as the exclusion set for the next candidate selection.
func (r *Request) OfferedDrivers() map[string]struct{} {
	out := make(map[string]struct{}, len(r.OfferHistory))
	for _, rec := range r.OfferHistory {
		out[rec.DriverID] = struct{}{}
	}
	return out
}

// PendingOffer returns the latest unresolved offer entry, if any.
func (r *Request) PendingOffer() (OfferRecord, bool) {
	for i := len(r.OfferHistory) - 1; i >= 0; i-- {
		if r.OfferHistory[i].Outcome == OfferPending {
			return r.OfferHistory[i], true
		}
	}
	return OfferRecord{}, false
}

// BackToPending returns an OFFERED request to PENDING after its offer was
// resolved without acceptance, so the next candidate can be tried.
func (r *Request) BackToPending() error {
	if !r.Status.CanTransitionTo(StatusPending) {
		return ErrInvalidTransition
	}
	r.setStatus(StatusPending)
	return nil
}

// MarkEnRoute transitions ACCEPTED -> DRIVER_EN_ROUTE.
func (r *Request) MarkEnRoute() error {
	if r.AssignedDriver == nil || *r.AssignedDriver == "" {
		return ErrNoDriverAssigned
	}
	if !r.Status.CanTransitionTo(StatusDriverEnRoute) {
		return ErrInvalidTransition
	}
	r.setStatus(StatusDriverEnRoute)
	return nil
}

// MarkArrived transitions DRIVER_EN_ROUTE -> DRIVER_ARRIVED.
func (r *Request) MarkArrived() error {
	if r.AssignedDriver == nil || *r.AssignedDriver == "" {
		return ErrNoDriverAssigned
	}
	if !r.Status.CanTransitionTo(StatusDriverArrived) {
		return ErrInvalidTransition
	}
	r.setStatus(StatusDriverArrived)
	return nil
}

// MarkAboard transitions DRIVER_ARRIVED -> PASSENGER_ABOARD. Past this point
// cancellation is no longer permitted.
func (r *Request) MarkAboard() error {
	if r.AssignedDriver == nil || *r.AssignedDriver == "" {
		return ErrNoDriverAssigned
	}
	if !r.Status.CanTransitionTo(StatusPassengerAboard) {
		return ErrInvalidTransition
	}
	now := time.Now().UTC()
	r.AboardAt = &now
	r.setStatus(StatusPassengerAboard)
	return nil
}

// Complete transitions PASSENGER_ABOARD -> COMPLETED.
func (r *Request) Complete() error {
	if r.AssignedDriver == nil || *r.AssignedDriver == "" {
		return ErrNoDriverAssigned
	}
	if !r.Status.CanTransitionTo(StatusCompleted) {
		return ErrInvalidTransition
	}
	now := time.Now().UTC()
	r.CompletedAt = &now
	r.setStatus(StatusCompleted)
	return nil
}

// Cancel transitions any pre-aboard state to CANCELLED. A request past
// PASSENGER_ABOARD fails with ErrCancellationNotAllowed; a terminal one with
// ErrInvalidTransition.
func (r *Request) Cancel(actor CancelActor, reason string) error {
	if r.Status.Terminal() {
		return ErrInvalidTransition
	}
	if !r.Status.Cancellable() {
		return ErrCancellationNotAllowed
	}
	now := time.Now().UTC()
	r.CancelledAt = &now
	r.CancelledBy = &actor
	if reason = strings.TrimSpace(reason); reason != "" {
		r.CancellationReason = &reason
	}
	r.setStatus(StatusCancelled)
	return nil
}

// Expire transitions PENDING/OFFERED -> EXPIRED (no candidates or global timeout).
func (r *Request) Expire() error {
	if !r.Status.CanTransitionTo(StatusExpired) {
		return ErrInvalidTransition
	}
	now := time.Now().UTC()
	r.ExpiredAt = &now
	r.setStatus(StatusExpired)
	return nil
}

// ---- internal helpers ----

func (r *Request) setStatus(status Status) {
	r.Status = status
	r.touch()
}

func (r *Request) touch() {
	r.UpdatedAt = time.Now().UTC()
}
