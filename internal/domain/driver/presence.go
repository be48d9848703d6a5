package driver

import (
	"errors"
	"strings"
	"time"

	"ride-dispatch/internal/domain/ride"
)

// Location is a driver-reported position with the time it was measured.
type Location struct {
	Latitude  float64
	Longitude float64
	LocatedAt time.Time
}

// Presence is the domain entity corresponding to the `driver_presence` table.
// It is the registry's authoritative view of one driver: reachability,
// availability and last known location.
type Presence struct {
	DriverID      string
	VehicleType   ride.VehicleType
	Status        Status
	ActiveRideID  string // non-empty only while OFFERED or BUSY
	Location      Location
	LastHeartbeat time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

var (
	ErrDriverIDRequired        = errors.New("driver id is required")
	ErrDriverNotFound          = errors.New("driver not found")
	ErrDriverUnavailable       = errors.New("driver is no longer available")
	ErrStaleUpdate             = errors.New("location update is older than the recorded one")
	ErrInvalidStatusTransition = errors.New("invalid driver status transition")
)

// NewPresence creates a presence record for a driver going online for the
// first time.
func NewPresence(driverID string, vt ride.VehicleType, loc Location) (*Presence, error) {
	if driverID = strings.TrimSpace(driverID); driverID == "" {
		return nil, ErrDriverIDRequired
	}
	if !vt.Valid() {
		return nil, ride.ErrInvalidVehicleType
	}

	now := time.Now().UTC()
	if loc.LocatedAt.IsZero() {
		loc.LocatedAt = now
	}
	return &Presence{
		DriverID:      driverID,
		VehicleType:   vt,
		Status:        StatusOnline,
		Location:      loc,
		LastHeartbeat: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// UpdateLocation overwrites the location unless the update is older than the
// recorded one, in which case it is discarded with ErrStaleUpdate.
func (p *Presence) UpdateLocation(loc Location) error {
	if loc.LocatedAt.Before(p.Location.LocatedAt) {
		return ErrStaleUpdate
	}
	p.Location = loc
	p.Heartbeat()
	return nil
}

// SetStatus applies a validated status transition. Same-status writes are
// idempotent successes. Leaving OFFERED or BUSY drops the ride association.
func (p *Presence) SetStatus(next Status) error {
	if !next.Valid() {
		return ErrInvalidDriverStatus
	}
	if p.Status == next {
		return nil
	}
	if !p.Status.CanTransitionTo(next) {
		return ErrInvalidStatusTransition
	}
	p.Status = next
	if next == StatusOnline || next == StatusOffline {
		p.ActiveRideID = ""
	}
	p.touch()
	return nil
}

// Reserve puts the driver on hold for one ride's offer. The reservation is
// ride-scoped: only an ONLINE driver can be taken, and only a repeat for the
// same ride is an idempotent success. Anything else fails with
// ErrDriverUnavailable, which is how two dispatch cycles racing for the same
// driver settle on a single winner.
func (p *Presence) Reserve(rideID string) error {
	if p.Status == StatusOffered && p.ActiveRideID == rideID {
		return nil
	}
	if p.Status != StatusOnline {
		return ErrDriverUnavailable
	}
	p.Status = StatusOffered
	p.ActiveRideID = rideID
	p.touch()
	return nil
}

// CommitBusy converts the reservation into an assignment. The driver must
// hold the reservation for this exact ride; a repeat for the same ride is an
// idempotent success.
func (p *Presence) CommitBusy(rideID string) error {
	if p.Status == StatusBusy && p.ActiveRideID == rideID {
		return nil
	}
	if p.Status != StatusOffered || p.ActiveRideID != rideID {
		return ErrDriverUnavailable
	}
	p.Status = StatusBusy
	p.touch()
	return nil
}

// Release returns an OFFERED or BUSY driver to the matchable pool and clears
// the ride association. Releasing a driver who holds nothing is a no-op, so
// an ONLINE or expired-OFFLINE driver keeps their state.
func (p *Presence) Release() bool {
	if p.Status != StatusOffered && p.Status != StatusBusy {
		return false
	}
	p.Status = StatusOnline
	p.ActiveRideID = ""
	p.touch()
	return true
}

// Heartbeat refreshes the liveness timestamp.
func (p *Presence) Heartbeat() {
	p.LastHeartbeat = time.Now().UTC()
	p.touch()
}

// HeartbeatExpired reports whether the driver has been silent longer than ttl.
func (p *Presence) HeartbeatExpired(now time.Time, ttl time.Duration) bool {
	return now.Sub(p.LastHeartbeat) > ttl
}

// Available reports whether the driver can receive a new offer.
func (p *Presence) Available() bool {
	return p.Status == StatusOnline
}

func (p *Presence) touch() {
	p.UpdatedAt = time.Now().UTC()
}

// Candidate is one entry of the registry's proximity-ordered candidate list.
type Candidate struct {
	DriverID      string
	VehicleType   ride.VehicleType
	Location      Location
	DistanceKM    float64
	LastHeartbeat time.Time
}
