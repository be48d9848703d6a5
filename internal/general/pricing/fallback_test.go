package pricing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/config"
	"ride-dispatch/internal/general/logger"
)

var (
	pickup      = ride.GeoPoint{Latitude: 55.75, Longitude: 37.61}
	destination = ride.GeoPoint{Latitude: 55.79, Longitude: 37.55}
)

func newRemote(t *testing.T, baseURL string) *Client {
	t.Helper()
	return NewClient(config.Pricing{BaseURL: baseURL, Timeout: time.Second}, logger.New("pricing-test"))
}

func TestClientEstimateFare(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/estimates", r.URL.Path)

		var body estimateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ECONOMY", body.VehicleType)
		assert.Equal(t, pickup.Latitude, body.PickupLat)

		json.NewEncoder(w).Encode(estimateResponse{
			DistanceKM:      5.8,
			DurationMinutes: 14,
			FareMin:         7.5,
			FareMax:         9.9,
		})
	}))
	defer server.Close()

	est, err := newRemote(t, server.URL).EstimateFare(context.Background(), pickup, destination, ride.VehicleEconomy)
	require.NoError(t, err)
	assert.Equal(t, 5.8, est.DistanceKM)
	assert.Equal(t, 14, est.DurationMinutes)
	assert.Equal(t, 7.5, est.FareMin)
	assert.Equal(t, 9.9, est.FareMax)
}

func TestClientRejectsNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newRemote(t, server.URL).EstimateFare(context.Background(), pickup, destination, ride.VehicleEconomy)
	assert.Error(t, err)
}

func TestFallbackUsesRemoteWhenHealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(estimateResponse{DistanceKM: 5.8, DurationMinutes: 14, FareMin: 7.5, FareMax: 9.9})
	}))
	defer server.Close()

	fb := NewFallback(newRemote(t, server.URL))
	est, err := fb.EstimateFare(context.Background(), pickup, destination, ride.VehicleEconomy)
	require.NoError(t, err)
	assert.Equal(t, 5.8, est.DistanceKM)
}

func TestFallbackDegradesToLocalModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	fb := NewFallback(newRemote(t, server.URL))
	est, err := fb.EstimateFare(context.Background(), pickup, destination, ride.VehicleEconomy)
	require.NoError(t, err)

	// straight-line distance for this Moscow route is roughly 5.8 km
	assert.InDelta(t, 5.8, est.DistanceKM, 0.3)
	assert.Greater(t, est.DurationMinutes, 0)
	assert.Less(t, est.FareMin, est.FareMax)
	assert.Greater(t, est.FareMin, baseFare*(1-fareBandSpread))
}

func TestFallbackRatesByVehicleType(t *testing.T) {
	fb := NewFallback(nil)

	economy, err := fb.EstimateFare(context.Background(), pickup, destination, ride.VehicleEconomy)
	require.NoError(t, err)
	xl, err := fb.EstimateFare(context.Background(), pickup, destination, ride.VehicleXL)
	require.NoError(t, err)
	premium, err := fb.EstimateFare(context.Background(), pickup, destination, ride.VehiclePremium)
	require.NoError(t, err)

	assert.Less(t, economy.FareMax, xl.FareMax)
	assert.Less(t, xl.FareMax, premium.FareMax)
	assert.Equal(t, economy.DistanceKM, premium.DistanceKM)
}

func TestHaversineZeroDistance(t *testing.T) {
	assert.InDelta(t, 0, haversineKM(55.75, 37.61, 55.75, 37.61), 1e-9)
}
