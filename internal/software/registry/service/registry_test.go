package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ride-dispatch/internal/domain/driver"
	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/config"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/ports"
)

// ---- in-memory fakes ----

type fakeUOW struct{}

func (fakeUOW) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memPresenceStore struct {
	mu      sync.Mutex
	drivers map[string]*driver.Presence
}

func newMemPresenceStore() *memPresenceStore {
	return &memPresenceStore{drivers: make(map[string]*driver.Presence)}
}

func (s *memPresenceStore) Upsert(_ context.Context, p *driver.Presence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.drivers[p.DriverID] = &cp
	return nil
}

func (s *memPresenceStore) GetByID(_ context.Context, driverID string) (*driver.Presence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.drivers[driverID]
	if !ok {
		return nil, driver.ErrDriverNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memPresenceStore) ListByIDs(_ context.Context, driverIDs []string) ([]*driver.Presence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*driver.Presence
	for _, id := range driverIDs {
		if p, ok := s.drivers[id]; ok {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memPresenceStore) UpdateLocation(_ context.Context, driverID string, loc driver.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.drivers[driverID]
	if !ok {
		return driver.ErrDriverNotFound
	}
	return p.UpdateLocation(loc)
}

func (s *memPresenceStore) UpdateStatus(_ context.Context, driverID string, next driver.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.drivers[driverID]
	if !ok {
		return driver.ErrDriverNotFound
	}
	return p.SetStatus(next)
}

func (s *memPresenceStore) Reserve(_ context.Context, driverID, rideID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.drivers[driverID]
	if !ok {
		return driver.ErrDriverNotFound
	}
	return p.Reserve(rideID)
}

func (s *memPresenceStore) CommitBusy(_ context.Context, driverID, rideID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.drivers[driverID]
	if !ok {
		return driver.ErrDriverNotFound
	}
	return p.CommitBusy(rideID)
}

func (s *memPresenceStore) Release(_ context.Context, driverID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.drivers[driverID]
	if !ok {
		return false, driver.ErrDriverNotFound
	}
	return p.Release(), nil
}

func (s *memPresenceStore) ForceBusy(_ context.Context, driverID, rideID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.drivers[driverID]
	if !ok {
		return driver.ErrDriverNotFound
	}
	p.Status = driver.StatusBusy
	p.ActiveRideID = rideID
	return nil
}

func (s *memPresenceStore) Heartbeat(_ context.Context, driverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.drivers[driverID]
	if !ok {
		return driver.ErrDriverNotFound
	}
	p.Heartbeat()
	return nil
}

func (s *memPresenceStore) ExpireStale(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []string
	for id, p := range s.drivers {
		if !p.LastHeartbeat.Before(cutoff) {
			continue
		}
		if p.Status != driver.StatusOnline && p.Status != driver.StatusOffered {
			continue
		}
		p.Status = driver.StatusOffline
		expired = append(expired, id)
	}
	return expired, nil
}

type fakeGeo struct {
	mu     sync.Mutex
	points map[string][2]float64
	hits   []ports.GeoHit
}

func newFakeGeo() *fakeGeo {
	return &fakeGeo{points: make(map[string][2]float64)}
}

func (f *fakeGeo) Add(_ context.Context, driverID string, lat, lng float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points[driverID] = [2]float64{lat, lng}
	return nil
}

func (f *fakeGeo) Remove(_ context.Context, driverID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.points, driverID)
	return nil
}

func (f *fakeGeo) Nearby(_ context.Context, _, _, _ float64, limit int) ([]ports.GeoHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hits := f.hits
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return append([]ports.GeoHit(nil), hits...), nil
}

func (f *fakeGeo) indexed(driverID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.points[driverID]
	return ok
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

// ---- helpers ----

func newTestRegistry(store *memPresenceStore, geo *fakeGeo) *registryService {
	return &registryService{
		logger:    logger.New("registry-test"),
		uow:       fakeUOW{},
		presences: store,
		geo:       geo,
		pub:       &fakePublisher{},
		cfg: config.Dispatch{
			SearchRadiusKM: 5,
			CandidateLimit: 3,
			HeartbeatTTL:   30 * time.Second,
		},
	}
}

func registerDriver(t *testing.T, svc *registryService, driverID string, vt ride.VehicleType) {
	t.Helper()
	_, err := svc.Register(context.Background(), ports.RegisterInput{
		DriverID:    driverID,
		VehicleType: vt,
		Latitude:    55.75,
		Longitude:   37.61,
	})
	require.NoError(t, err)
}

// ---- tests ----

func TestRegisterIsIdempotent(t *testing.T) {
	store := newMemPresenceStore()
	geo := newFakeGeo()
	svc := newTestRegistry(store, geo)

	result, err := svc.Register(context.Background(), ports.RegisterInput{
		DriverID:    "driver-1",
		VehicleType: ride.VehicleEconomy,
		Latitude:    55.75,
		Longitude:   37.61,
	})
	require.NoError(t, err)
	assert.Equal(t, "ONLINE", result.Status)
	assert.True(t, geo.indexed("driver-1"))

	// re-registering refreshes in place
	registerDriver(t, svc, "driver-1", ride.VehicleEconomy)

	p, err := store.GetByID(context.Background(), "driver-1")
	require.NoError(t, err)
	assert.Equal(t, driver.StatusOnline, p.Status)

	_, err = svc.Register(context.Background(), ports.RegisterInput{DriverID: " ", VehicleType: ride.VehicleEconomy})
	assert.ErrorIs(t, err, driver.ErrDriverIDRequired)
}

func TestSetStatusDriverControlledOnly(t *testing.T) {
	store := newMemPresenceStore()
	geo := newFakeGeo()
	svc := newTestRegistry(store, geo)
	registerDriver(t, svc, "driver-1", ride.VehicleEconomy)

	err := svc.SetStatus(context.Background(), "driver-1", driver.StatusBusy)
	assert.ErrorIs(t, err, driver.ErrInvalidStatusTransition)

	err = svc.SetStatus(context.Background(), "driver-1", driver.StatusOffered)
	assert.ErrorIs(t, err, driver.ErrInvalidStatusTransition)

	require.NoError(t, svc.SetStatus(context.Background(), "driver-1", driver.StatusOffline))
	assert.False(t, geo.indexed("driver-1"))

	require.NoError(t, svc.SetStatus(context.Background(), "driver-1", driver.StatusOnline))
	assert.True(t, geo.indexed("driver-1"))
}

func TestOfferLifecycleStatusMoves(t *testing.T) {
	store := newMemPresenceStore()
	geo := newFakeGeo()
	svc := newTestRegistry(store, geo)
	registerDriver(t, svc, "driver-1", ride.VehicleEconomy)

	require.NoError(t, svc.MarkOffered(context.Background(), "driver-1", "ride-1"))
	p, _ := store.GetByID(context.Background(), "driver-1")
	assert.Equal(t, driver.StatusOffered, p.Status)
	assert.Equal(t, "ride-1", p.ActiveRideID)

	// a busy driver leaves the matchable pool entirely
	require.NoError(t, svc.MarkBusy(context.Background(), "driver-1", "ride-1"))
	assert.False(t, geo.indexed("driver-1"))

	require.NoError(t, svc.ReleaseToOnline(context.Background(), "driver-1"))
	p, _ = store.GetByID(context.Background(), "driver-1")
	assert.Equal(t, driver.StatusOnline, p.Status)
	assert.Empty(t, p.ActiveRideID)
	assert.True(t, geo.indexed("driver-1"))
}

func TestUpdateLocationDropsStaleSamples(t *testing.T) {
	store := newMemPresenceStore()
	geo := newFakeGeo()
	svc := newTestRegistry(store, geo)
	registerDriver(t, svc, "driver-1", ride.VehicleEconomy)

	now := time.Now().UTC()
	require.NoError(t, svc.UpdateLocation(context.Background(), ports.LocationInput{
		DriverID:  "driver-1",
		Latitude:  55.80,
		Longitude: 37.60,
		LocatedAt: now.Add(time.Second),
	}))

	// the stale sample is absorbed, not surfaced as an error
	require.NoError(t, svc.UpdateLocation(context.Background(), ports.LocationInput{
		DriverID:  "driver-1",
		Latitude:  55.10,
		Longitude: 37.10,
		LocatedAt: now.Add(-time.Minute),
	}))

	p, err := store.GetByID(context.Background(), "driver-1")
	require.NoError(t, err)
	assert.Equal(t, 55.80, p.Location.Latitude)
}

func TestHeartbeatWithCoordinatesUpdatesLocation(t *testing.T) {
	store := newMemPresenceStore()
	geo := newFakeGeo()
	svc := newTestRegistry(store, geo)
	registerDriver(t, svc, "driver-1", ride.VehicleEconomy)

	require.NoError(t, svc.Heartbeat(context.Background(), ports.LocationInput{
		DriverID:  "driver-1",
		Latitude:  55.90,
		Longitude: 37.70,
		LocatedAt: time.Now().UTC().Add(time.Second),
	}))

	p, err := store.GetByID(context.Background(), "driver-1")
	require.NoError(t, err)
	assert.Equal(t, 55.90, p.Location.Latitude)

	// bare heartbeat refreshes liveness only
	before := p.Location
	require.NoError(t, svc.Heartbeat(context.Background(), ports.LocationInput{DriverID: "driver-1"}))
	p, err = store.GetByID(context.Background(), "driver-1")
	require.NoError(t, err)
	assert.Equal(t, before.Latitude, p.Location.Latitude)
}

func TestListCandidatesFiltersAndSorts(t *testing.T) {
	store := newMemPresenceStore()
	geo := newFakeGeo()
	svc := newTestRegistry(store, geo)

	registerDriver(t, svc, "close-premium", ride.VehiclePremium)
	registerDriver(t, svc, "close-busy", ride.VehicleEconomy)
	registerDriver(t, svc, "near", ride.VehicleEconomy)
	registerDriver(t, svc, "far", ride.VehicleEconomy)
	registerDriver(t, svc, "stale", ride.VehicleEconomy)
	registerDriver(t, svc, "excluded", ride.VehicleEconomy)

	require.NoError(t, svc.MarkOffered(context.Background(), "close-busy", "ride-1"))
	require.NoError(t, svc.MarkBusy(context.Background(), "close-busy", "ride-1"))

	// force a lapsed heartbeat on one driver
	store.mu.Lock()
	store.drivers["stale"].LastHeartbeat = time.Now().UTC().Add(-time.Hour)
	store.mu.Unlock()

	geo.hits = []ports.GeoHit{
		{DriverID: "close-premium", DistanceKM: 0.2},
		{DriverID: "close-busy", DistanceKM: 0.3},
		{DriverID: "excluded", DistanceKM: 0.4},
		{DriverID: "stale", DistanceKM: 0.6},
		{DriverID: "near", DistanceKM: 1.1},
		{DriverID: "far", DistanceKM: 2.9},
	}

	exclude := map[string]struct{}{"excluded": {}}
	candidates, err := svc.ListCandidates(context.Background(), ride.GeoPoint{Latitude: 55.75, Longitude: 37.61}, ride.VehicleEconomy, exclude, 5)
	require.NoError(t, err)

	require.Len(t, candidates, 2)
	assert.Equal(t, "near", candidates[0].DriverID)
	assert.Equal(t, "far", candidates[1].DriverID)
	assert.Less(t, candidates[0].DistanceKM, candidates[1].DistanceKM)
}

func TestListCandidatesHeartbeatTieBreak(t *testing.T) {
	store := newMemPresenceStore()
	geo := newFakeGeo()
	svc := newTestRegistry(store, geo)

	registerDriver(t, svc, "idle-longer", ride.VehicleEconomy)
	registerDriver(t, svc, "idle-shorter", ride.VehicleEconomy)

	now := time.Now().UTC()
	store.mu.Lock()
	store.drivers["idle-longer"].LastHeartbeat = now.Add(-10 * time.Second)
	store.drivers["idle-shorter"].LastHeartbeat = now.Add(-2 * time.Second)
	store.mu.Unlock()

	geo.hits = []ports.GeoHit{
		{DriverID: "idle-shorter", DistanceKM: 1.0},
		{DriverID: "idle-longer", DistanceKM: 1.0},
	}

	candidates, err := svc.ListCandidates(context.Background(), ride.GeoPoint{}, ride.VehicleEconomy, nil, 5)
	require.NoError(t, err)

	require.Len(t, candidates, 2)
	assert.Equal(t, "idle-longer", candidates[0].DriverID)
	assert.Equal(t, "idle-shorter", candidates[1].DriverID)
}

func TestListCandidatesEmptyRadius(t *testing.T) {
	store := newMemPresenceStore()
	geo := newFakeGeo()
	svc := newTestRegistry(store, geo)

	candidates, err := svc.ListCandidates(context.Background(), ride.GeoPoint{}, ride.VehicleEconomy, nil, 5)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestExpireStaleSparesBusyDrivers(t *testing.T) {
	store := newMemPresenceStore()
	geo := newFakeGeo()
	svc := newTestRegistry(store, geo)

	registerDriver(t, svc, "silent-online", ride.VehicleEconomy)
	registerDriver(t, svc, "silent-busy", ride.VehicleEconomy)
	registerDriver(t, svc, "fresh", ride.VehicleEconomy)

	require.NoError(t, svc.MarkOffered(context.Background(), "silent-busy", "ride-1"))
	require.NoError(t, svc.MarkBusy(context.Background(), "silent-busy", "ride-1"))

	old := time.Now().UTC().Add(-time.Hour)
	store.mu.Lock()
	store.drivers["silent-online"].LastHeartbeat = old
	store.drivers["silent-busy"].LastHeartbeat = old
	store.mu.Unlock()

	count, err := svc.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	p, _ := store.GetByID(context.Background(), "silent-online")
	assert.Equal(t, driver.StatusOffline, p.Status)
	assert.False(t, geo.indexed("silent-online"))

	// a trip in progress outlives a dropped connection
	p, _ = store.GetByID(context.Background(), "silent-busy")
	assert.Equal(t, driver.StatusBusy, p.Status)

	p, _ = store.GetByID(context.Background(), "fresh")
	assert.Equal(t, driver.StatusOnline, p.Status)
}

func TestEnsureBusyRepairsDriftedDriver(t *testing.T) {
	store := newMemPresenceStore()
	geo := newFakeGeo()
	svc := newTestRegistry(store, geo)

	registerDriver(t, svc, "driver-1", ride.VehicleEconomy)
	require.True(t, geo.indexed("driver-1"))

	// ONLINE to BUSY is not a legal driver move; the repair path forces it
	require.NoError(t, svc.EnsureBusy(context.Background(), "driver-1", "ride-1"))

	p, err := store.GetByID(context.Background(), "driver-1")
	require.NoError(t, err)
	assert.Equal(t, driver.StatusBusy, p.Status)
	assert.Equal(t, "ride-1", p.ActiveRideID)
	assert.False(t, geo.indexed("driver-1"))
}

func TestEnsureBusyIsANoOpForBusyDrivers(t *testing.T) {
	store := newMemPresenceStore()
	geo := newFakeGeo()
	svc := newTestRegistry(store, geo)
	pub := svc.pub.(*fakePublisher)

	registerDriver(t, svc, "driver-1", ride.VehicleEconomy)
	require.NoError(t, svc.MarkOffered(context.Background(), "driver-1", "ride-1"))
	require.NoError(t, svc.MarkBusy(context.Background(), "driver-1", "ride-1"))
	published := len(pub.keys)

	require.NoError(t, svc.EnsureBusy(context.Background(), "driver-1", "ride-1"))

	p, err := store.GetByID(context.Background(), "driver-1")
	require.NoError(t, err)
	assert.Equal(t, driver.StatusBusy, p.Status)
	assert.Len(t, pub.keys, published)
}

func TestMarkOfferedIsRideScoped(t *testing.T) {
	store := newMemPresenceStore()
	geo := newFakeGeo()
	svc := newTestRegistry(store, geo)

	registerDriver(t, svc, "driver-1", ride.VehicleEconomy)

	require.NoError(t, svc.MarkOffered(context.Background(), "driver-1", "ride-a"))

	// a second ride cannot take a driver who is already held
	err := svc.MarkOffered(context.Background(), "driver-1", "ride-b")
	assert.ErrorIs(t, err, driver.ErrDriverUnavailable)

	// a same-ride repeat is an idempotent success
	require.NoError(t, svc.MarkOffered(context.Background(), "driver-1", "ride-a"))

	p, _ := store.GetByID(context.Background(), "driver-1")
	assert.Equal(t, driver.StatusOffered, p.Status)
	assert.Equal(t, "ride-a", p.ActiveRideID)
}

func TestMarkBusyRequiresTheReservation(t *testing.T) {
	store := newMemPresenceStore()
	geo := newFakeGeo()
	svc := newTestRegistry(store, geo)

	registerDriver(t, svc, "driver-1", ride.VehicleEconomy)

	// no reservation at all
	err := svc.MarkBusy(context.Background(), "driver-1", "ride-a")
	assert.ErrorIs(t, err, driver.ErrDriverUnavailable)

	require.NoError(t, svc.MarkOffered(context.Background(), "driver-1", "ride-a"))

	// a different ride cannot commit someone else's reservation
	err = svc.MarkBusy(context.Background(), "driver-1", "ride-b")
	assert.ErrorIs(t, err, driver.ErrDriverUnavailable)

	require.NoError(t, svc.MarkBusy(context.Background(), "driver-1", "ride-a"))
	p, _ := store.GetByID(context.Background(), "driver-1")
	assert.Equal(t, driver.StatusBusy, p.Status)
	assert.Equal(t, "ride-a", p.ActiveRideID)
}
