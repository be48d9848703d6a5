package service

import (
	"context"
	"time"

	"ride-dispatch/internal/domain/driver"
	"ride-dispatch/internal/general/observability"
)

// ExpireStale forces drivers with a lapsed heartbeat to OFFLINE and evicts
// them from the geo index. BUSY drivers are left alone; an in-progress trip
// outlives a dropped connection.
func (service *registryService) ExpireStale(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-service.cfg.HeartbeatTTL)

	var expired []string
	err := service.uow.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		expired, err = service.presences.ExpireStale(ctx, cutoff)
		return err
	})
	if err != nil {
		service.logger.Error(ctx, "stale_driver_sweep_failed", "failed to expire stale drivers", err, nil)
		return 0, err
	}

	for _, driverID := range expired {
		if err := service.geo.Remove(ctx, driverID); err != nil {
			service.logger.Error(ctx, "geo_index_remove_failed", "failed to evict expired driver", err, map[string]any{
				"driver_id": driverID,
			})
		}
		observability.DriversOnline.Dec()
	}

	if len(expired) > 0 {
		observability.StaleDriversExpiredTotal.Add(float64(len(expired)))
		service.logger.Info(ctx, "stale_drivers_expired", "forced silent drivers offline", map[string]any{
			"count":  len(expired),
			"cutoff": cutoff,
		})
	}

	return len(expired), nil
}

// EnsureBusy repairs the registry side of an active ride: the assigned driver
// must be BUSY on that ride, whatever the registry drifted to in between. The
// transition table is bypassed on purpose; the ride store already committed
// the assignment.
func (service *registryService) EnsureBusy(ctx context.Context, driverID, rideID string) error {
	var current driver.Status
	err := service.uow.WithinTx(ctx, func(ctx context.Context) error {
		presence, err := service.presences.GetByID(ctx, driverID)
		if err != nil {
			return err
		}
		current = presence.Status
		if current == driver.StatusBusy && presence.ActiveRideID == rideID {
			return nil
		}
		return service.presences.ForceBusy(ctx, driverID, rideID)
	})
	if err != nil {
		service.logger.Error(ctx, "driver_busy_repair_failed", "failed to force assigned driver busy", err, map[string]any{
			"driver_id": driverID,
		})
		return err
	}
	if current == driver.StatusBusy {
		return nil
	}

	if err := service.geo.Remove(ctx, driverID); err != nil {
		service.logger.Error(ctx, "geo_index_remove_failed", "failed to evict repaired driver from geo index", err, map[string]any{
			"driver_id": driverID,
		})
	}

	service.logger.Info(ctx, "driver_busy_repaired", "assigned driver forced back to busy", map[string]any{
		"driver_id": driverID,
		"ride_id":   rideID,
		"was":       current.String(),
	})
	service.publishDriverStatus(ctx, driverID, driver.StatusBusy, rideID)
	return nil
}
