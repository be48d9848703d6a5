package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ride-dispatch/internal/domain/driver"
	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/config"
	"ride-dispatch/internal/general/contracts"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/ports"
)

// ---- in-memory fakes ----

type fakeUOW struct{}

func (fakeUOW) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memRequestStore struct {
	mu    sync.Mutex
	seq   int
	rides map[string]*ride.Request

	// conflicts, when positive, fails that many CompareAndTransition calls
	// with a version conflict before letting writes through
	conflicts int
}

func newMemRequestStore() *memRequestStore {
	return &memRequestStore{rides: make(map[string]*ride.Request)}
}

func cloneRequest(r *ride.Request) *ride.Request {
	out := *r
	out.OfferHistory = append([]ride.OfferRecord(nil), r.OfferHistory...)
	return &out
}

func (s *memRequestStore) Create(_ context.Context, r *ride.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		s.seq++
		r.ID = fmt.Sprintf("ride-%d", s.seq)
	}
	s.rides[r.ID] = cloneRequest(r)
	return nil
}

func (s *memRequestStore) GetByID(_ context.Context, id string) (*ride.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok {
		return nil, ride.ErrRequestNotFound
	}
	return cloneRequest(r), nil
}

func (s *memRequestStore) ListPending(ctx context.Context, limit int) ([]*ride.Request, error) {
	return s.ListByStatus(ctx, ride.StatusPending, limit)
}

func (s *memRequestStore) ListByStatus(_ context.Context, status ride.Status, limit int) ([]*ride.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ride.Request
	for _, r := range s.rides {
		if r.Status == status && len(out) < limit {
			out = append(out, cloneRequest(r))
		}
	}
	return out, nil
}

func (s *memRequestStore) CompareAndTransition(_ context.Context, id string, expectedVersion int64, next ride.Status, mut ride.Mutation) (*ride.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conflicts > 0 {
		s.conflicts--
		return nil, ride.ErrVersionConflict
	}

	current, ok := s.rides[id]
	if !ok {
		return nil, ride.ErrRequestNotFound
	}
	if current.Version != expectedVersion {
		return nil, ride.ErrVersionConflict
	}

	updated := cloneRequest(current)
	if err := ride.ApplyTransition(updated, next, mut); err != nil {
		return nil, err
	}
	updated.Version = expectedVersion + 1
	s.rides[id] = updated
	return cloneRequest(updated), nil
}

// fakeRegistry records driver releases; the rest is inert.
type fakeRegistry struct {
	mu       sync.Mutex
	released []string
}

func (f *fakeRegistry) Register(context.Context, ports.RegisterInput) (ports.RegisterResult, error) {
	return ports.RegisterResult{}, nil
}
func (f *fakeRegistry) UpdateLocation(context.Context, ports.LocationInput) error { return nil }
func (f *fakeRegistry) Heartbeat(context.Context, ports.LocationInput) error      { return nil }
func (f *fakeRegistry) SetStatus(context.Context, string, driver.Status) error    { return nil }
func (f *fakeRegistry) MarkOffered(context.Context, string, string) error         { return nil }
func (f *fakeRegistry) MarkBusy(context.Context, string, string) error            { return nil }
func (f *fakeRegistry) ExpireStale(context.Context) (int, error)                  { return 0, nil }
func (f *fakeRegistry) EnsureBusy(context.Context, string, string) error          { return nil }
func (f *fakeRegistry) ListCandidates(context.Context, ride.GeoPoint, ride.VehicleType, map[string]struct{}, int) ([]driver.Candidate, error) {
	return nil, nil
}

func (f *fakeRegistry) ReleaseToOnline(_ context.Context, driverID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, driverID)
	return nil
}

func (f *fakeRegistry) releasedDrivers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...)
}

type fakeEstimator struct {
	estimate *ride.FareEstimate
	err      error
}

func (f *fakeEstimator) EstimateFare(context.Context, ride.GeoPoint, ride.GeoPoint, ride.VehicleType) (*ride.FareEstimate, error) {
	return f.estimate, f.err
}

type fakePublisher struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakePublisher) Publish(_, routingKey string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, routingKey)
	return nil
}

func (f *fakePublisher) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

type fakePassengers struct {
	mu     sync.Mutex
	frames []contracts.WSPassengerRideStatus
}

func (f *fakePassengers) NotifyRideStatus(_ string, msg contracts.WSPassengerRideStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, msg)
	return nil
}

// ---- helpers ----

type rideFixture struct {
	svc        ports.RideService
	store      *memRequestStore
	registry   *fakeRegistry
	estimator  *fakeEstimator
	pub        *fakePublisher
	passengers *fakePassengers
}

func newRideFixture() *rideFixture {
	f := &rideFixture{
		store:    newMemRequestStore(),
		registry: &fakeRegistry{},
		estimator: &fakeEstimator{estimate: &ride.FareEstimate{
			DistanceKM:      4.2,
			DurationMinutes: 12,
			FareMin:         6.0,
			FareMax:         8.0,
		}},
		pub:        &fakePublisher{},
		passengers: &fakePassengers{},
	}
	f.svc = NewRideService(
		logger.New("rides-test"),
		fakeUOW{},
		f.store,
		f.registry,
		f.estimator,
		f.pub,
		f.passengers,
		config.Dispatch{
			StoreRetryAttempts: 3,
			StoreRetryBackoff:  time.Millisecond,
		},
	)
	return f
}

func createInput() ports.CreateRequestInput {
	return ports.CreateRequestInput{
		PassengerID: "passenger-1",
		VehicleType: ride.VehicleEconomy,
		Pickup:      ride.GeoPoint{Latitude: 55.75, Longitude: 37.61, Address: "pickup"},
		Destination: ride.GeoPoint{Latitude: 55.79, Longitude: 37.55, Address: "dropoff"},
	}
}

func (f *rideFixture) createRide(t *testing.T) string {
	t.Helper()
	result, err := f.svc.CreateRequest(context.Background(), createInput())
	require.NoError(t, err)
	return result.RideID
}

// assignRide moves the new request straight to ACCEPTED for driverID.
func (f *rideFixture) assignRide(t *testing.T, rideID, driverID string) {
	t.Helper()
	current, err := f.store.GetByID(context.Background(), rideID)
	require.NoError(t, err)
	_, err = f.store.CompareAndTransition(context.Background(), rideID, current.Version, ride.StatusAccepted, ride.Mutation{
		AssignDriver: &driverID,
	})
	require.NoError(t, err)
}

// ---- tests ----

func TestCreateRequestQueuesForDispatch(t *testing.T) {
	f := newRideFixture()

	result, err := f.svc.CreateRequest(context.Background(), createInput())
	require.NoError(t, err)

	assert.NotEmpty(t, result.RideID)
	assert.Equal(t, "PENDING", result.Status)
	require.NotNil(t, result.Estimate)
	assert.Equal(t, 4.2, result.Estimate.DistanceKM)

	got, err := f.store.GetByID(context.Background(), result.RideID)
	require.NoError(t, err)
	assert.Equal(t, ride.StatusPending, got.Status)
	assert.Equal(t, int64(0), got.Version)

	keys := f.pub.published()
	require.Len(t, keys, 2)
	assert.True(t, strings.HasPrefix(keys[0], contracts.RouteRideRequestPrefix))
	assert.True(t, strings.HasPrefix(keys[1], contracts.RouteRideStatusPrefix))
}

func TestCreateRequestDegradesWithoutEstimate(t *testing.T) {
	f := newRideFixture()
	f.estimator.estimate = nil
	f.estimator.err = errors.New("pricing service unavailable")

	result, err := f.svc.CreateRequest(context.Background(), createInput())
	require.NoError(t, err)

	assert.Nil(t, result.Estimate)
	got, err := f.store.GetByID(context.Background(), result.RideID)
	require.NoError(t, err)
	assert.Nil(t, got.Estimate)
	assert.Equal(t, ride.StatusPending, got.Status)
}

func TestCreateRequestValidation(t *testing.T) {
	f := newRideFixture()

	in := createInput()
	in.PassengerID = "  "
	_, err := f.svc.CreateRequest(context.Background(), in)
	assert.ErrorIs(t, err, ride.ErrPassengerRequired)

	in = createInput()
	in.VehicleType = ride.VehicleType("SCOOTER")
	_, err = f.svc.CreateRequest(context.Background(), in)
	assert.ErrorIs(t, err, ride.ErrInvalidVehicleType)
}

func TestCancelPendingRide(t *testing.T) {
	f := newRideFixture()
	rideID := f.createRide(t)

	result, err := f.svc.Cancel(context.Background(), rideID, ride.CancelByPassenger, "passenger-1", "changed plans")
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", result.Status)
	assert.NotEmpty(t, result.CancelledAt)

	got, err := f.store.GetByID(context.Background(), rideID)
	require.NoError(t, err)
	require.NotNil(t, got.CancelledBy)
	assert.Equal(t, ride.CancelByPassenger, *got.CancelledBy)
	require.NotNil(t, got.CancellationReason)
	assert.Equal(t, "changed plans", *got.CancellationReason)

	// nobody was assigned, nobody to release
	assert.Empty(t, f.registry.releasedDrivers())
}

func TestCancelAssignedRideFreesDriver(t *testing.T) {
	f := newRideFixture()
	rideID := f.createRide(t)
	f.assignRide(t, rideID, "driver-1")

	_, err := f.svc.Cancel(context.Background(), rideID, ride.CancelByDriver, "driver-1", "")
	require.NoError(t, err)

	assert.Equal(t, []string{"driver-1"}, f.registry.releasedDrivers())
}

func TestCancelRefusedOncePassengerAboard(t *testing.T) {
	f := newRideFixture()
	rideID := f.createRide(t)
	f.assignRide(t, rideID, "driver-1")

	_, err := f.svc.MarkEnRoute(context.Background(), rideID, "driver-1")
	require.NoError(t, err)
	_, err = f.svc.MarkArrived(context.Background(), rideID, "driver-1")
	require.NoError(t, err)
	_, err = f.svc.MarkAboard(context.Background(), rideID, "driver-1")
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), rideID, ride.CancelByPassenger, "passenger-1", "")
	assert.ErrorIs(t, err, ride.ErrCancellationNotAllowed)

	got, getErr := f.store.GetByID(context.Background(), rideID)
	require.NoError(t, getErr)
	assert.Equal(t, ride.StatusPassengerAboard, got.Status)
}

func TestCancelUnknownRide(t *testing.T) {
	f := newRideFixture()
	_, err := f.svc.Cancel(context.Background(), "ride-missing", ride.CancelByPassenger, "passenger-1", "")
	assert.ErrorIs(t, err, ride.ErrRequestNotFound)
}

func TestProgressionHappyPath(t *testing.T) {
	f := newRideFixture()
	rideID := f.createRide(t)
	f.assignRide(t, rideID, "driver-1")

	result, err := f.svc.MarkEnRoute(context.Background(), rideID, "driver-1")
	require.NoError(t, err)
	assert.Equal(t, "DRIVER_EN_ROUTE", result.Status)

	_, err = f.svc.MarkArrived(context.Background(), rideID, "driver-1")
	require.NoError(t, err)
	_, err = f.svc.MarkAboard(context.Background(), rideID, "driver-1")
	require.NoError(t, err)

	result, err = f.svc.Complete(context.Background(), rideID, "driver-1")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", result.Status)

	// completion returns the driver to the matchable pool
	assert.Equal(t, []string{"driver-1"}, f.registry.releasedDrivers())

	got, err := f.store.GetByID(context.Background(), rideID)
	require.NoError(t, err)
	assert.NotNil(t, got.CompletedAt)
}

func TestProgressRejectsWrongDriver(t *testing.T) {
	f := newRideFixture()
	rideID := f.createRide(t)
	f.assignRide(t, rideID, "driver-1")

	_, err := f.svc.MarkEnRoute(context.Background(), rideID, "driver-2")
	assert.ErrorIs(t, err, ride.ErrAlreadyAssigned)

	got, getErr := f.store.GetByID(context.Background(), rideID)
	require.NoError(t, getErr)
	assert.Equal(t, ride.StatusAccepted, got.Status)
}

func TestProgressRequiresAssignment(t *testing.T) {
	f := newRideFixture()
	rideID := f.createRide(t)

	_, err := f.svc.MarkEnRoute(context.Background(), rideID, "driver-1")
	assert.ErrorIs(t, err, ride.ErrNoDriverAssigned)
}

func TestProgressRejectsOutOfOrderSteps(t *testing.T) {
	f := newRideFixture()
	rideID := f.createRide(t)
	f.assignRide(t, rideID, "driver-1")

	_, err := f.svc.MarkAboard(context.Background(), rideID, "driver-1")
	assert.ErrorIs(t, err, ride.ErrInvalidTransition)

	_, err = f.svc.Complete(context.Background(), rideID, "driver-1")
	assert.ErrorIs(t, err, ride.ErrInvalidTransition)
}

func TestCommitTransitionRetriesConflicts(t *testing.T) {
	f := newRideFixture()
	rideID := f.createRide(t)

	// the first two writes lose a race; the third lands
	f.store.mu.Lock()
	f.store.conflicts = 2
	f.store.mu.Unlock()

	result, err := f.svc.Cancel(context.Background(), rideID, ride.CancelBySystem, "", "sweep")
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", result.Status)
}

func TestCommitTransitionGivesUpAfterRetries(t *testing.T) {
	f := newRideFixture()
	rideID := f.createRide(t)

	f.store.mu.Lock()
	f.store.conflicts = 10
	f.store.mu.Unlock()

	_, err := f.svc.Cancel(context.Background(), rideID, ride.CancelBySystem, "", "")
	assert.ErrorIs(t, err, ride.ErrVersionConflict)
}

func TestPassengerNotifiedOnStatusChanges(t *testing.T) {
	f := newRideFixture()
	rideID := f.createRide(t)

	_, err := f.svc.Cancel(context.Background(), rideID, ride.CancelByPassenger, "passenger-1", "")
	require.NoError(t, err)

	f.passengers.mu.Lock()
	defer f.passengers.mu.Unlock()
	require.NotEmpty(t, f.passengers.frames)
	last := f.passengers.frames[len(f.passengers.frames)-1]
	assert.Equal(t, "ride_status_update", last.Type)
	assert.Equal(t, rideID, last.RideID)
	assert.Equal(t, "CANCELLED", last.Status)
}

func TestCancelRejectsForeignPassenger(t *testing.T) {
	f := newRideFixture()
	rideID := f.createRide(t)

	_, err := f.svc.Cancel(context.Background(), rideID, ride.CancelByPassenger, "passenger-2", "not mine")
	assert.ErrorIs(t, err, ride.ErrNotRideParticipant)

	got, getErr := f.store.GetByID(context.Background(), rideID)
	require.NoError(t, getErr)
	assert.Equal(t, ride.StatusPending, got.Status)
}

func TestCancelRejectsUnassignedDriver(t *testing.T) {
	f := newRideFixture()
	rideID := f.createRide(t)
	f.assignRide(t, rideID, "driver-1")

	_, err := f.svc.Cancel(context.Background(), rideID, ride.CancelByDriver, "driver-2", "")
	assert.ErrorIs(t, err, ride.ErrNotRideParticipant)

	got, getErr := f.store.GetByID(context.Background(), rideID)
	require.NoError(t, getErr)
	assert.Equal(t, ride.StatusAccepted, got.Status)
	assert.Empty(t, f.registry.releasedDrivers())
}
