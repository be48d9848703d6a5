package driver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ride-dispatch/internal/domain/ride"
)

func newTestPresence(t *testing.T) *Presence {
	t.Helper()
	p, err := NewPresence("driver-1", ride.VehicleEconomy, Location{Latitude: 55.75, Longitude: 37.61})
	require.NoError(t, err)
	return p
}

func TestParseDriverStatus(t *testing.T) {
	status, err := ParseStatus(" busy ")
	require.NoError(t, err)
	assert.Equal(t, StatusBusy, status)

	_, err = ParseStatus("SLEEPING")
	assert.ErrorIs(t, err, ErrInvalidDriverStatus)
}

func TestDriverStatusTransitions(t *testing.T) {
	cases := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusOffline, StatusOnline, true},
		{StatusOffline, StatusOffered, false},
		{StatusOffline, StatusBusy, false},

		{StatusOnline, StatusOffered, true},
		{StatusOnline, StatusOffline, true},
		// acceptance always passes through OFFERED
		{StatusOnline, StatusBusy, false},

		{StatusOffered, StatusBusy, true},
		{StatusOffered, StatusOnline, true},
		{StatusOffered, StatusOffline, true},

		{StatusBusy, StatusOnline, true},
		{StatusBusy, StatusOffline, true},
		{StatusBusy, StatusOffered, false},
	}

	for _, tc := range cases {
		got := tc.from.CanTransitionTo(tc.to)
		assert.Equal(t, tc.allowed, got, "%s -> %s", tc.from, tc.to)
	}
}

func TestDriverControlled(t *testing.T) {
	assert.True(t, StatusOnline.DriverControlled())
	assert.True(t, StatusOffline.DriverControlled())
	assert.False(t, StatusOffered.DriverControlled())
	assert.False(t, StatusBusy.DriverControlled())
}

func TestNewPresence(t *testing.T) {
	p := newTestPresence(t)

	assert.Equal(t, StatusOnline, p.Status)
	assert.False(t, p.Location.LocatedAt.IsZero())
	assert.True(t, p.Available())

	_, err := NewPresence("  ", ride.VehicleEconomy, Location{})
	assert.ErrorIs(t, err, ErrDriverIDRequired)

	_, err = NewPresence("driver-1", ride.VehicleType("SCOOTER"), Location{})
	assert.ErrorIs(t, err, ride.ErrInvalidVehicleType)
}

func TestUpdateLocationRejectsStale(t *testing.T) {
	p := newTestPresence(t)
	recorded := p.Location.LocatedAt

	newer := Location{Latitude: 55.76, Longitude: 37.62, LocatedAt: recorded.Add(time.Second)}
	require.NoError(t, p.UpdateLocation(newer))
	assert.Equal(t, 55.76, p.Location.Latitude)

	stale := Location{Latitude: 55.70, Longitude: 37.60, LocatedAt: recorded.Add(-time.Minute)}
	assert.ErrorIs(t, p.UpdateLocation(stale), ErrStaleUpdate)
	assert.Equal(t, 55.76, p.Location.Latitude)
}

func TestSetStatusIdempotentAndGuarded(t *testing.T) {
	p := newTestPresence(t)

	require.NoError(t, p.SetStatus(StatusOnline)) // same status is a no-op
	assert.Equal(t, StatusOnline, p.Status)

	assert.ErrorIs(t, p.SetStatus(StatusBusy), ErrInvalidStatusTransition)

	require.NoError(t, p.SetStatus(StatusOffered))
	require.NoError(t, p.SetStatus(StatusBusy))
	require.NoError(t, p.SetStatus(StatusOnline))

	assert.ErrorIs(t, p.SetStatus(Status("SLEEPING")), ErrInvalidDriverStatus)
}

func TestHeartbeatExpiry(t *testing.T) {
	p := newTestPresence(t)
	ttl := 30 * time.Second

	now := p.LastHeartbeat
	assert.False(t, p.HeartbeatExpired(now.Add(ttl), ttl))
	assert.True(t, p.HeartbeatExpired(now.Add(ttl+time.Second), ttl))

	p.Heartbeat()
	assert.False(t, p.HeartbeatExpired(time.Now().UTC(), ttl))
}

func TestAvailable(t *testing.T) {
	p := newTestPresence(t)
	assert.True(t, p.Available())

	require.NoError(t, p.SetStatus(StatusOffered))
	assert.False(t, p.Available())

	require.NoError(t, p.SetStatus(StatusBusy))
	assert.False(t, p.Available())

	require.NoError(t, p.SetStatus(StatusOffline))
	assert.False(t, p.Available())
}

func TestReserveHoldsDriverForOneRide(t *testing.T) {
	p := newTestPresence(t)

	require.NoError(t, p.Reserve("ride-a"))
	assert.Equal(t, StatusOffered, p.Status)
	assert.Equal(t, "ride-a", p.ActiveRideID)

	// repeat for the same ride is a no-op
	require.NoError(t, p.Reserve("ride-a"))

	// a different ride cannot steal the hold
	assert.ErrorIs(t, p.Reserve("ride-b"), ErrDriverUnavailable)
	assert.Equal(t, "ride-a", p.ActiveRideID)

	require.NoError(t, p.SetStatus(StatusOffline))
	assert.ErrorIs(t, p.Reserve("ride-a"), ErrDriverUnavailable)
}

func TestCommitBusyMatchesReservation(t *testing.T) {
	p := newTestPresence(t)

	assert.ErrorIs(t, p.CommitBusy("ride-a"), ErrDriverUnavailable)

	require.NoError(t, p.Reserve("ride-a"))
	assert.ErrorIs(t, p.CommitBusy("ride-b"), ErrDriverUnavailable)

	require.NoError(t, p.CommitBusy("ride-a"))
	assert.Equal(t, StatusBusy, p.Status)
	assert.Equal(t, "ride-a", p.ActiveRideID)

	// idempotent once committed
	require.NoError(t, p.CommitBusy("ride-a"))
}

func TestReleaseClearsHold(t *testing.T) {
	p := newTestPresence(t)

	// nothing held yet
	assert.False(t, p.Release())
	assert.Equal(t, StatusOnline, p.Status)

	require.NoError(t, p.Reserve("ride-a"))
	assert.True(t, p.Release())
	assert.Equal(t, StatusOnline, p.Status)
	assert.Empty(t, p.ActiveRideID)

	require.NoError(t, p.SetStatus(StatusOffline))
	assert.False(t, p.Release())
	assert.Equal(t, StatusOffline, p.Status)
}

func TestSetStatusClearsRideAssociation(t *testing.T) {
	p := newTestPresence(t)

	require.NoError(t, p.Reserve("ride-a"))
	require.NoError(t, p.CommitBusy("ride-a"))
	require.NoError(t, p.SetStatus(StatusOnline))
	assert.Empty(t, p.ActiveRideID)
}
