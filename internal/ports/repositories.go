package ports

import (
	"context"
	"time"

	"ride-dispatch/internal/domain/driver"
	"ride-dispatch/internal/domain/ride"
)

// UnitOfWork interface is used to manage transactions across multiple repository operations.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// RideRequestRepository is the durable store of ride requests. All state
// transitions go through CompareAndTransition; there is no unconditional
// update path.
type RideRequestRepository interface {
	Create(ctx context.Context, r *ride.Request) error
	GetByID(ctx context.Context, id string) (*ride.Request, error)

	// ListPending returns PENDING requests ordered by created_at ascending
	// (FIFO), at most limit rows. Calling again restarts the scan.
	ListPending(ctx context.Context, limit int) ([]*ride.Request, error)

	// ListByStatus returns requests in the given status, oldest first.
	ListByStatus(ctx context.Context, status ride.Status, limit int) ([]*ride.Request, error)

	// CompareAndTransition atomically applies the mutation and the status
	// change, bumping version by one, iff the stored version equals
	// expectedVersion. A mismatch fails with ride.ErrVersionConflict and
	// mutates nothing. The updated snapshot is returned on success.
	CompareAndTransition(ctx context.Context, id string, expectedVersion int64, next ride.Status, mut ride.Mutation) (*ride.Request, error)
}

// DriverPresenceRepository is the durable half of the driver registry.
type DriverPresenceRepository interface {
	// Upsert registers or refreshes a driver presence record (idempotent).
	Upsert(ctx context.Context, p *driver.Presence) error
	GetByID(ctx context.Context, driverID string) (*driver.Presence, error)
	ListByIDs(ctx context.Context, driverIDs []string) ([]*driver.Presence, error)

	// UpdateLocation overwrites the stored location unless it is older than
	// the recorded one (driver.ErrStaleUpdate), and refreshes the heartbeat.
	UpdateLocation(ctx context.Context, driverID string, loc driver.Location) error

	// UpdateStatus applies a validated driver-requested transition
	// (ONLINE/OFFLINE); the same status is an idempotent success, an illegal
	// move fails with driver.ErrInvalidStatusTransition. Coordinator holds go
	// through Reserve/CommitBusy/Release instead.
	UpdateStatus(ctx context.Context, driverID string, next driver.Status) error

	// Reserve conditionally moves an ONLINE driver to OFFERED for rideID.
	// Only a same-ride repeat is idempotent; a driver already held for
	// another ride fails with driver.ErrDriverUnavailable and nothing
	// changes. This conditional write is what keeps a driver on at most one
	// ride at a time.
	Reserve(ctx context.Context, driverID, rideID string) error

	// CommitBusy moves the driver from OFFERED to BUSY iff they hold the
	// reservation for rideID; otherwise driver.ErrDriverUnavailable.
	CommitBusy(ctx context.Context, driverID, rideID string) error

	// Release returns an OFFERED or BUSY driver to ONLINE and clears the
	// ride association. Reports false when the driver held nothing.
	Release(ctx context.Context, driverID string) (bool, error)

	Heartbeat(ctx context.Context, driverID string) error

	// ForceBusy overwrites status and ride association without consulting
	// the transition table. Reserved for reconciliation repairs.
	ForceBusy(ctx context.Context, driverID, rideID string) error

	// ExpireStale forces drivers whose last heartbeat is older than cutoff to
	// OFFLINE and returns their ids.
	ExpireStale(ctx context.Context, cutoff time.Time) ([]string, error)
}

// GeoHit is one proximity match from the geo index, nearest first.
type GeoHit struct {
	DriverID   string
	DistanceKM float64
}

// GeoIndex is the proximity index over driver locations (Redis GEO).
type GeoIndex interface {
	Add(ctx context.Context, driverID string, lat, lng float64) error
	Remove(ctx context.Context, driverID string) error
	Nearby(ctx context.Context, lat, lng, radiusKM float64, limit int) ([]GeoHit, error)
}
