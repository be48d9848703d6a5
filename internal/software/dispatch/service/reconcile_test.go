package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ride-dispatch/internal/domain/driver"
	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/contracts"
)

func TestSweepRecoversStuckOffer(t *testing.T) {
	store := newMemRequestStore()
	reg := newFakeRegistry(candidate("driver-1", 0.5))
	gw := newFakeGateway()
	svc := newTestDispatch(store, reg, gw, testDispatchConfig())

	request := seedPendingRide(t, store)

	// an offer committed by a dispatcher that crashed before resolving it
	now := time.Now().UTC()
	record := ride.OfferRecord{
		OfferID:   "offer_orphan",
		DriverID:  "driver-1",
		OfferedAt: now.Add(-time.Minute),
		ExpiresAt: now.Add(-30 * time.Second),
		Outcome:   ride.OfferPending,
	}
	_, err := store.CompareAndTransition(context.Background(), request.ID, 0, ride.StatusOffered, ride.Mutation{
		AppendOffer: &record,
	})
	require.NoError(t, err)
	require.NoError(t, reg.MarkOffered(context.Background(), "driver-1", request.ID))

	svc.sweepStuckOffers(context.Background())

	got, err := store.GetByID(context.Background(), request.ID)
	require.NoError(t, err)
	assert.Equal(t, ride.StatusPending, got.Status)
	require.Len(t, got.OfferHistory, 1)
	assert.Equal(t, ride.OfferTimedOut, got.OfferHistory[0].Outcome)
	assert.Equal(t, driver.StatusOnline, reg.statusOf("driver-1"))
}

func TestSweepLeavesLiveOffersAlone(t *testing.T) {
	store := newMemRequestStore()
	reg := newFakeRegistry(candidate("driver-1", 0.5))
	gw := newFakeGateway()
	svc := newTestDispatch(store, reg, gw, testDispatchConfig())

	request := seedPendingRide(t, store)

	now := time.Now().UTC()
	record := ride.OfferRecord{
		OfferID:   "offer_live",
		DriverID:  "driver-1",
		OfferedAt: now,
		ExpiresAt: now.Add(time.Minute),
		Outcome:   ride.OfferPending,
	}
	_, err := store.CompareAndTransition(context.Background(), request.ID, 0, ride.StatusOffered, ride.Mutation{
		AppendOffer: &record,
	})
	require.NoError(t, err)

	// window still open
	svc.sweepStuckOffers(context.Background())

	got, err := store.GetByID(context.Background(), request.ID)
	require.NoError(t, err)
	assert.Equal(t, ride.StatusOffered, got.Status)
	assert.Equal(t, ride.OfferPending, got.OfferHistory[0].Outcome)

	// an expired window owned by a running cycle is also spared
	expired := ride.OfferRecord{
		OfferID:   "offer_owned",
		DriverID:  "driver-1",
		OfferedAt: now.Add(-time.Minute),
		ExpiresAt: now.Add(-30 * time.Second),
		Outcome:   ride.OfferPending,
	}
	other := seedPendingRide(t, store)
	_, err = store.CompareAndTransition(context.Background(), other.ID, 0, ride.StatusOffered, ride.Mutation{
		AppendOffer: &expired,
	})
	require.NoError(t, err)

	_, claimed := svc.claimRide(other.ID)
	require.True(t, claimed)
	defer svc.releaseRide(other.ID)

	svc.sweepStuckOffers(context.Background())

	got, err = store.GetByID(context.Background(), other.ID)
	require.NoError(t, err)
	assert.Equal(t, ride.StatusOffered, got.Status)
}

func TestSweepRepinsAssignedDriver(t *testing.T) {
	store := newMemRequestStore()
	reg := newFakeRegistry(candidate("driver-1", 0.5))
	gw := newFakeGateway()
	svc := newTestDispatch(store, reg, gw, testDispatchConfig())

	request := seedPendingRide(t, store)

	// accepted in the store, but the registry move to BUSY never landed
	assigned := "driver-1"
	_, err := store.CompareAndTransition(context.Background(), request.ID, 0, ride.StatusAccepted, ride.Mutation{
		AssignDriver: &assigned,
	})
	require.NoError(t, err)
	require.Equal(t, driver.StatusOnline, reg.statusOf("driver-1"))

	svc.sweepAssignedDrivers(context.Background())

	assert.Equal(t, driver.StatusBusy, reg.statusOf("driver-1"))
}

func TestSweepRedispatchesPending(t *testing.T) {
	store := newMemRequestStore()
	reg := newFakeRegistry(candidate("driver-1", 0.5))
	gw := newFakeGateway()
	svc := newTestDispatch(store, reg, gw, testDispatchConfig())

	request := seedPendingRide(t, store)

	gw.onOffer = func(driverID string, offer contracts.WSDriverRideOffer) {
		svc.HandleDriverResponse(contracts.DriverOfferResponse{
			RideID: offer.RideID, OfferID: offer.OfferID, DriverID: driverID, Accepted: true,
		})
	}

	svc.sweepPending(context.Background())

	require.Eventually(t, func() bool {
		got, err := store.GetByID(context.Background(), request.ID)
		return err == nil && got.Status == ride.StatusAccepted
	}, 2*time.Second, 10*time.Millisecond)

	got, err := store.GetByID(context.Background(), request.ID)
	require.NoError(t, err)
	assert.Equal(t, "driver-1", *got.AssignedDriver)
}
