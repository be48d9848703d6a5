package redisgeo

import (
	"context"
	"fmt"

	"ride-dispatch/internal/general/config"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/ports"

	"github.com/redis/go-redis/v9"
)

const driverGeoKey = "dispatch:drivers:geo"

// Index tracks driver positions in a Redis GEO set so proximity queries never
// touch Postgres. Postgres stays the source of truth; a missing member here
// only costs a driver one matching round.
type Index struct {
	client *redis.Client
	log    *logger.Logger
}

// NewIndex connects to Redis and verifies the connection with a ping.
func NewIndex(ctx context.Context, cfg config.Redis, log *logger.Logger) (*Index, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info(ctx, "redis_connected", "connected to redis geo index", map[string]any{
		"addr": fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	})
	return &Index{client: client, log: log}, nil
}

// Add writes or moves the driver's position in the geo set.
func (i *Index) Add(ctx context.Context, driverID string, lat, lng float64) error {
	return i.client.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      driverID,
		Latitude:  lat,
		Longitude: lng,
	}).Err()
}

// Remove evicts the driver from the geo set. Removing an absent member is a
// no-op.
func (i *Index) Remove(ctx context.Context, driverID string) error {
	return i.client.ZRem(ctx, driverGeoKey, driverID).Err()
}

// Nearby returns drivers within radiusKM of the point, closest first.
func (i *Index) Nearby(ctx context.Context, lat, lng, radiusKM float64, limit int) ([]ports.GeoHit, error) {
	locations, err := i.client.GeoSearchLocation(ctx, driverGeoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Latitude:   lat,
			Longitude:  lng,
			Radius:     radiusKM,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geo search: %w", err)
	}

	hits := make([]ports.GeoHit, 0, len(locations))
	for _, loc := range locations {
		hits = append(hits, ports.GeoHit{
			DriverID:   loc.Name,
			DistanceKM: loc.Dist,
		})
	}
	return hits, nil
}

// Close releases the underlying Redis connection.
func (i *Index) Close() error {
	return i.client.Close()
}
