package service

import (
	"context"
	"errors"

	"ride-dispatch/internal/domain/driver"
	"ride-dispatch/internal/ports"
)

// UpdateLocation records a position sample. Out-of-order samples are dropped
// silently so a flaky client cannot rewind a driver's position.
func (service *registryService) UpdateLocation(ctx context.Context, in ports.LocationInput) error {
	loc := driver.Location{
		Latitude:  in.Latitude,
		Longitude: in.Longitude,
		LocatedAt: in.LocatedAt,
	}

	err := service.uow.WithinTx(ctx, func(ctx context.Context) error {
		return service.presences.UpdateLocation(ctx, in.DriverID, loc)
	})
	if errors.Is(err, driver.ErrStaleUpdate) {
		service.logger.Debug(ctx, "driver_location_stale", "dropped out-of-order location sample", map[string]any{
			"driver_id":  in.DriverID,
			"located_at": in.LocatedAt,
		})
		return nil
	}
	if err != nil {
		service.logger.Error(ctx, "driver_location_update_failed", "failed to update driver location", err, map[string]any{
			"driver_id": in.DriverID,
		})
		return err
	}

	if err := service.geo.Add(ctx, in.DriverID, in.Latitude, in.Longitude); err != nil {
		service.logger.Error(ctx, "geo_index_add_failed", "failed to index driver position", err, map[string]any{
			"driver_id": in.DriverID,
		})
	}

	return nil
}

// Heartbeat refreshes liveness. A heartbeat that carries coordinates also
// counts as a location sample.
func (service *registryService) Heartbeat(ctx context.Context, in ports.LocationInput) error {
	if in.Latitude != 0 || in.Longitude != 0 {
		return service.UpdateLocation(ctx, in)
	}

	return service.uow.WithinTx(ctx, func(ctx context.Context) error {
		return service.presences.Heartbeat(ctx, in.DriverID)
	})
}
