package ports

import (
	"context"
	"time"

	"ride-dispatch/internal/domain/driver"
	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/contracts"
)

// ----- DTOs for the Driver Registry -----

// RegisterInput is the validated input for POST /drivers/{driver_id}/register.
type RegisterInput struct {
	DriverID    string
	VehicleType ride.VehicleType
	Latitude    float64
	Longitude   float64
}

// RegisterResult matches the API response for registering presence.
type RegisterResult struct {
	DriverID string `json:"driver_id"`
	Status   string `json:"status"` // "ONLINE"
	Message  string `json:"message"`
}

// LocationInput is the validated input for a driver location update.
type LocationInput struct {
	DriverID  string
	Latitude  float64
	Longitude float64
	LocatedAt time.Time
}

// ----- Driver Registry Interface -----

// RegistryService is the authoritative view of driver reachability and
// availability.
type RegistryService interface {
	Register(ctx context.Context, in RegisterInput) (RegisterResult, error)
	UpdateLocation(ctx context.Context, in LocationInput) error
	Heartbeat(ctx context.Context, in LocationInput) error

	// SetStatus handles driver-requested status changes (ONLINE/OFFLINE
	// only; offer and busy states belong to the coordinator).
	SetStatus(ctx context.Context, driverID string, next driver.Status) error

	// Coordinator-driven moves, kept in lockstep with store commits. The
	// holds are ride-scoped: MarkOffered fails with
	// driver.ErrDriverUnavailable when the driver is already held for
	// another ride, and MarkBusy requires the reservation for that exact
	// ride, so a driver never carries two active rides.
	MarkOffered(ctx context.Context, driverID, rideID string) error
	MarkBusy(ctx context.Context, driverID, rideID string) error
	ReleaseToOnline(ctx context.Context, driverID string) error

	// ListCandidates returns ONLINE drivers of the vehicle type within the
	// configured radius, distance ascending with earliest-heartbeat
	// tie-break, skipping ids in exclude, at most limit entries.
	ListCandidates(ctx context.Context, pickup ride.GeoPoint, vt ride.VehicleType, exclude map[string]struct{}, limit int) ([]driver.Candidate, error)

	// ExpireStale forces silent drivers offline and returns how many.
	ExpireStale(ctx context.Context) (int, error)

	// EnsureBusy repairs a driver who holds an active ride but drifted out of
	// BUSY, forcing the status and ride association back regardless of the
	// transition table.
	EnsureBusy(ctx context.Context, driverID, rideID string) error
}

// ----- DTOs for the Ride Service -----

// CreateRequestInput is the validated input to create a ride request.
type CreateRequestInput struct {
	PassengerID string
	VehicleType ride.VehicleType
	Pickup      ride.GeoPoint
	Destination ride.GeoPoint
}

// CreateRequestResult is returned by RideService.CreateRequest.
type CreateRequestResult struct {
	RideID   string             `json:"ride_id"`
	Status   string             `json:"status"`
	Estimate *ride.FareEstimate `json:"estimate,omitempty"`
}

// CancelResult matches the API response for a cancellation.
type CancelResult struct {
	RideID      string `json:"ride_id"`
	Status      string `json:"status"`
	CancelledAt string `json:"cancelled_at"`
	Message     string `json:"message"`
}

// ProgressResult matches the API response for a driver progress event.
type ProgressResult struct {
	RideID string `json:"ride_id"`
	Status string `json:"status"`
}

// ----- Ride Service Interface -----

// RideService owns request creation and the post-acceptance lifecycle.
type RideService interface {
	CreateRequest(ctx context.Context, in CreateRequestInput) (CreateRequestResult, error)
	GetRequest(ctx context.Context, rideID string) (*ride.Request, error)
	// Cancel terminates a ride on behalf of its passenger or its assigned
	// driver; actorID is checked against the ride before anything commits
	// (ride.ErrNotRideParticipant on a mismatch). System cancellations pass
	// ride.CancelBySystem with an empty actorID.
	Cancel(ctx context.Context, rideID string, actor ride.CancelActor, actorID, reason string) (CancelResult, error)

	// Driver-reported progression; driverID must match the assignment.
	MarkEnRoute(ctx context.Context, rideID, driverID string) (ProgressResult, error)
	MarkArrived(ctx context.Context, rideID, driverID string) (ProgressResult, error)
	MarkAboard(ctx context.Context, rideID, driverID string) (ProgressResult, error)
	Complete(ctx context.Context, rideID, driverID string) (ProgressResult, error)
}

// ----- Dispatch Coordinator Interface -----

// DispatchService runs the offer/response cycle for pending requests.
type DispatchService interface {
	// Dispatch runs the offer loop for one request until it is resolved
	// (accepted, expired, cancelled) or retries are exhausted
	// (ride.ErrDispatchFailed, request left PENDING for the sweep).
	Dispatch(ctx context.Context, rideID string) error

	// HandleDriverResponse routes an accept/reject to the waiting offer.
	// Duplicates and late arrivals are safe no-ops.
	HandleDriverResponse(resp contracts.DriverOfferResponse)

	// RunBackgroundConsumers starts the MQ consumers and the sweeps.
	RunBackgroundConsumers(ctx context.Context)
}

// ----- Collaborator ports -----

// FareEstimator is the external geo/pricing collaborator. Implementations
// must degrade: a failure yields (nil, err) and never blocks creation.
type FareEstimator interface {
	EstimateFare(ctx context.Context, pickup, destination ride.GeoPoint, vt ride.VehicleType) (*ride.FareEstimate, error)
}

// MessagePublisher abstracts the broker publish side.
type MessagePublisher interface {
	Publish(exchange, routingKey string, body []byte) error
}

// DriverNotifier pushes offers to connected drivers.
type DriverNotifier interface {
	IsDriverConnected(driverID string) bool
	SendOffer(driverID string, offer contracts.WSDriverRideOffer) error

	// SendOfferClosed tells the driver an offer they answered is settled,
	// e.g. their accept lost to a concurrent cancellation. Best-effort; a
	// gone socket is not an error.
	SendOfferClosed(driverID string, msg contracts.WSDriverOfferClosed) error
}

// PassengerNotifier pushes ride status updates to connected passengers.
type PassengerNotifier interface {
	NotifyRideStatus(passengerID string, msg contracts.WSPassengerRideStatus) error
}
