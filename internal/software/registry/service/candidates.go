package service

import (
	"context"
	"sort"
	"time"

	"ride-dispatch/internal/domain/driver"
	"ride-dispatch/internal/domain/ride"
)

// geoOverfetch widens the raw geo query so that status and vehicle filtering
// still leaves enough candidates to fill the limit.
const geoOverfetch = 3

// ListCandidates returns ONLINE drivers of the requested vehicle type within
// the search radius, closest first. Ties on distance break toward the driver
// idle the longest. Drivers in exclude never come back, however close.
func (service *registryService) ListCandidates(ctx context.Context, pickup ride.GeoPoint, vt ride.VehicleType, exclude map[string]struct{}, limit int) ([]driver.Candidate, error) {
	if limit <= 0 {
		limit = service.cfg.CandidateLimit
	}

	hits, err := service.geo.Nearby(ctx, pickup.Latitude, pickup.Longitude, service.cfg.SearchRadiusKM, limit*geoOverfetch)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	distances := make(map[string]float64, len(hits))
	ids := make([]string, 0, len(hits))
	for _, hit := range hits {
		if _, skip := exclude[hit.DriverID]; skip {
			continue
		}
		distances[hit.DriverID] = hit.DistanceKM
		ids = append(ids, hit.DriverID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var presences []*driver.Presence
	err = service.uow.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		presences, err = service.presences.ListByIDs(ctx, ids)
		return err
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	candidates := make([]driver.Candidate, 0, len(presences))
	for _, p := range presences {
		if !p.Available() || p.VehicleType != vt {
			continue
		}
		if p.HeartbeatExpired(now, service.cfg.HeartbeatTTL) {
			continue
		}
		candidates = append(candidates, driver.Candidate{
			DriverID:      p.DriverID,
			VehicleType:   p.VehicleType,
			Location:      p.Location,
			DistanceKM:    distances[p.DriverID],
			LastHeartbeat: p.LastHeartbeat,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].DistanceKM != candidates[j].DistanceKM {
			return candidates[i].DistanceKM < candidates[j].DistanceKM
		}
		return candidates[i].LastHeartbeat.Before(candidates[j].LastHeartbeat)
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}
