package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ride-dispatch/internal/domain/driver"
	"ride-dispatch/internal/general/contracts"
	"ride-dispatch/internal/general/observability"
)

// SetStatus applies a driver-requested availability toggle. Only ONLINE and
// OFFLINE can be requested directly; OFFERED and BUSY belong to the
// dispatcher.
func (service *registryService) SetStatus(ctx context.Context, driverID string, next driver.Status) error {
	if !next.DriverControlled() {
		return fmt.Errorf("%w: %s is not driver-controlled", driver.ErrInvalidStatusTransition, next)
	}

	if err := service.transition(ctx, driverID, next); err != nil {
		return err
	}

	switch next {
	case driver.StatusOffline:
		if err := service.geo.Remove(ctx, driverID); err != nil {
			service.logger.Error(ctx, "geo_index_remove_failed", "failed to evict driver from geo index", err, map[string]any{
				"driver_id": driverID,
			})
		}
		observability.DriversOnline.Dec()
	case driver.StatusOnline:
		service.reindex(ctx, driverID)
		observability.DriversOnline.Inc()
	}

	service.publishDriverStatus(ctx, driverID, next, "")
	return nil
}

// MarkOffered reserves the driver for one ride's offer. The reservation is
// conditional and ride-scoped: a driver already held for another ride fails
// with driver.ErrDriverUnavailable, which is how racing dispatch cycles
// settle on one winner per driver.
func (service *registryService) MarkOffered(ctx context.Context, driverID, rideID string) error {
	err := service.uow.WithinTx(ctx, func(ctx context.Context) error {
		return service.presences.Reserve(ctx, driverID, rideID)
	})
	if err != nil {
		return err
	}

	service.logger.Info(ctx, "driver_status_changed", "driver reserved for offer", map[string]any{
		"driver_id": driverID,
		"ride_id":   rideID,
		"status":    driver.StatusOffered.String(),
	})
	return nil
}

// MarkBusy commits the driver to the accepted ride and takes them out of the
// matchable pool. The driver must hold the reservation for this exact ride.
func (service *registryService) MarkBusy(ctx context.Context, driverID, rideID string) error {
	err := service.uow.WithinTx(ctx, func(ctx context.Context) error {
		return service.presences.CommitBusy(ctx, driverID, rideID)
	})
	if err != nil {
		return err
	}

	if err := service.geo.Remove(ctx, driverID); err != nil {
		service.logger.Error(ctx, "geo_index_remove_failed", "failed to evict busy driver from geo index", err, map[string]any{
			"driver_id": driverID,
		})
	}

	service.logger.Info(ctx, "driver_status_changed", "driver committed to ride", map[string]any{
		"driver_id": driverID,
		"ride_id":   rideID,
		"status":    driver.StatusBusy.String(),
	})
	return nil
}

// ReleaseToOnline returns the driver to the matchable pool after a declined
// or timed-out offer, or a finished ride. A driver who holds nothing keeps
// their state; an expired driver is not resurrected.
func (service *registryService) ReleaseToOnline(ctx context.Context, driverID string) error {
	var released bool
	err := service.uow.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		released, err = service.presences.Release(ctx, driverID)
		return err
	})
	if err != nil {
		service.logger.Error(ctx, "driver_status_change_failed", "failed to release driver", err, map[string]any{
			"driver_id": driverID,
		})
		return err
	}
	if !released {
		return nil
	}

	service.reindex(ctx, driverID)
	service.logger.Info(ctx, "driver_status_changed", "driver released to online", map[string]any{
		"driver_id": driverID,
		"status":    driver.StatusOnline.String(),
	})
	return nil
}

// transition applies one validated status move inside a transaction.
func (service *registryService) transition(ctx context.Context, driverID string, next driver.Status) error {
	err := service.uow.WithinTx(ctx, func(ctx context.Context) error {
		return service.presences.UpdateStatus(ctx, driverID, next)
	})
	if err != nil {
		service.logger.Error(ctx, "driver_status_change_failed", "failed to change driver status", err, map[string]any{
			"driver_id": driverID,
			"next":      next.String(),
		})
		return err
	}

	service.logger.Info(ctx, "driver_status_changed", "driver status changed", map[string]any{
		"driver_id": driverID,
		"status":    next.String(),
	})
	return nil
}

// reindex re-adds the driver's last known position to the geo index.
func (service *registryService) reindex(ctx context.Context, driverID string) {
	var presence *driver.Presence
	err := service.uow.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		presence, err = service.presences.GetByID(ctx, driverID)
		return err
	})
	if err != nil {
		service.logger.Error(ctx, "geo_reindex_failed", "failed to load presence for reindex", err, map[string]any{
			"driver_id": driverID,
		})
		return
	}

	if err := service.geo.Add(ctx, driverID, presence.Location.Latitude, presence.Location.Longitude); err != nil {
		service.logger.Error(ctx, "geo_index_add_failed", "failed to index driver position", err, map[string]any{
			"driver_id": driverID,
		})
	}
}

// publishDriverStatus broadcasts a status change on the driver topic
// exchange with routing key "driver.status.{driver_id}". Failures are logged
// and absorbed; the store already holds the truth.
func (service *registryService) publishDriverStatus(ctx context.Context, driverID string, status driver.Status, rideID string) {
	msg := contracts.DriverStatusMessage{
		DriverID:  driverID,
		Status:    status.String(),
		RideID:    rideID,
		Timestamp: time.Now().UTC(),
		Envelope: contracts.Envelope{
			Producer: "dispatch-service",
			SentAt:   time.Now().UTC(),
		},
	}

	body, err := json.Marshal(msg)
	if err != nil {
		service.logger.Error(ctx, "driver_status_publish_failed", "failed to marshal driver status", err, nil)
		return
	}
	if err := service.pub.Publish(contracts.ExchangeDriverTopic, contracts.RouteDriverStatusPrefix+driverID, body); err != nil {
		service.logger.Error(ctx, "driver_status_publish_failed", "failed to publish driver status", err, map[string]any{
			"driver_id": driverID,
			"status":    status.String(),
		})
	}
}
