package pricing

import (
	"context"
	"math"

	"ride-dispatch/internal/domain/ride"
)

// Fallback produces a rough straight-line estimate when the pricing service
// is unreachable. Good enough to show the passenger a band; the final fare is
// settled elsewhere.
type Fallback struct {
	remote *Client
}

// NewFallback wraps the remote client; every call tries the service first.
func NewFallback(remote *Client) *Fallback {
	return &Fallback{remote: remote}
}

const (
	cityAvgSpeedKMH = 28.0
	baseFare        = 2.5
	fareBandSpread  = 0.15
)

var perKMRate = map[ride.VehicleType]float64{
	ride.VehicleEconomy: 1.2,
	ride.VehiclePremium: 2.0,
	ride.VehicleXL:      1.6,
}

// EstimateFare tries the remote service, then degrades to the local model.
func (f *Fallback) EstimateFare(ctx context.Context, pickup, destination ride.GeoPoint, vt ride.VehicleType) (*ride.FareEstimate, error) {
	if f.remote != nil {
		if est, err := f.remote.EstimateFare(ctx, pickup, destination, vt); err == nil {
			return est, nil
		}
	}

	distanceKM := haversineKM(pickup.Latitude, pickup.Longitude, destination.Latitude, destination.Longitude)
	durationMin := distanceKM / cityAvgSpeedKMH * 60

	rate, ok := perKMRate[vt]
	if !ok {
		rate = perKMRate[ride.VehicleEconomy]
	}
	mid := baseFare + distanceKM*rate

	return &ride.FareEstimate{
		DistanceKM:      round2(distanceKM),
		DurationMinutes: int(math.Ceil(durationMin)),
		FareMin:         round2(mid * (1 - fareBandSpread)),
		FareMax:         round2(mid * (1 + fareBandSpread)),
	}, nil
}

func haversineKM(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadiusKM = 6371.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }

	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKM * c
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
