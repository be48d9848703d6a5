package service

import (
	"context"
	"time"

	"ride-dispatch/internal/domain/driver"
	"ride-dispatch/internal/general/observability"
	"ride-dispatch/internal/ports"
)

// Register brings a driver ONLINE at the given position. Re-registering is
// idempotent: the presence record is refreshed in place.
func (service *registryService) Register(ctx context.Context, in ports.RegisterInput) (ports.RegisterResult, error) {
	now := time.Now().UTC()

	presence, err := driver.NewPresence(in.DriverID, in.VehicleType, driver.Location{
		Latitude:  in.Latitude,
		Longitude: in.Longitude,
		LocatedAt: now,
	})
	if err != nil {
		return ports.RegisterResult{}, err
	}

	err = service.uow.WithinTx(ctx, func(ctx context.Context) error {
		return service.presences.Upsert(ctx, presence)
	})
	if err != nil {
		service.logger.Error(ctx, "driver_register_failed", "failed to register driver presence", err, map[string]any{
			"driver_id": in.DriverID,
		})
		return ports.RegisterResult{}, err
	}

	// the geo index trails the store; a failed add only delays matching
	if err := service.geo.Add(ctx, in.DriverID, in.Latitude, in.Longitude); err != nil {
		service.logger.Error(ctx, "geo_index_add_failed", "failed to index driver position", err, map[string]any{
			"driver_id": in.DriverID,
		})
	}

	observability.DriversOnline.Inc()
	service.publishDriverStatus(ctx, in.DriverID, driver.StatusOnline, "")

	service.logger.Info(ctx, "driver_registered", "driver is online and dispatchable", map[string]any{
		"driver_id":    in.DriverID,
		"vehicle_type": in.VehicleType.String(),
		"lat":          in.Latitude,
		"lng":          in.Longitude,
	})

	return ports.RegisterResult{
		DriverID: in.DriverID,
		Status:   driver.StatusOnline.String(),
		Message:  "You are now online and ready to accept rides",
	}, nil
}
