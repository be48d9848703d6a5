package service

import (
	"context"
	"fmt"

	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/observability"
	"ride-dispatch/internal/ports"
)

// Driver-reported trip progression. Each step verifies the reporting driver
// against the assignment before committing, so a stray client cannot advance
// someone else's ride.

func (service *rideService) MarkEnRoute(ctx context.Context, rideID, driverID string) (ports.ProgressResult, error) {
	return service.progress(ctx, rideID, driverID, ride.StatusDriverEnRoute)
}

func (service *rideService) MarkArrived(ctx context.Context, rideID, driverID string) (ports.ProgressResult, error) {
	return service.progress(ctx, rideID, driverID, ride.StatusDriverArrived)
}

func (service *rideService) MarkAboard(ctx context.Context, rideID, driverID string) (ports.ProgressResult, error) {
	return service.progress(ctx, rideID, driverID, ride.StatusPassengerAboard)
}

// Complete finishes the trip and returns the driver to the matchable pool.
func (service *rideService) Complete(ctx context.Context, rideID, driverID string) (ports.ProgressResult, error) {
	out, err := service.progress(ctx, rideID, driverID, ride.StatusCompleted)
	if err != nil {
		return out, err
	}

	if err := service.registry.ReleaseToOnline(ctx, driverID); err != nil {
		service.logger.Error(ctx, "driver_release_failed", "failed to release driver after completion", err, map[string]any{
			"ride_id":   rideID,
			"driver_id": driverID,
		})
	}

	observability.RidesCompletedTotal.Inc()
	return out, nil
}

func (service *rideService) progress(ctx context.Context, rideID, driverID string, next ride.Status) (ports.ProgressResult, error) {
	correlationID := generateCorrelationID()
	ctx = service.logger.WithRideID(ctx, rideID)

	// assignment check happens before the guarded commit so the caller gets
	// a clean error instead of a transition failure
	current, err := service.GetRequest(ctx, rideID)
	if err != nil {
		return ports.ProgressResult{}, err
	}
	if current.AssignedDriver == nil {
		return ports.ProgressResult{}, ride.ErrNoDriverAssigned
	}
	if *current.AssignedDriver != driverID {
		return ports.ProgressResult{}, fmt.Errorf("%w: ride belongs to another driver", ride.ErrAlreadyAssigned)
	}

	updated, err := service.commitTransition(ctx, rideID, next, ride.Mutation{})
	if err != nil {
		service.logger.Error(ctx, "ride_progress_failed", "failed to advance ride status", err, map[string]any{
			"ride_id":    rideID,
			"driver_id":  driverID,
			"next":       next.String(),
			"request_id": correlationID,
		})
		return ports.ProgressResult{}, err
	}

	service.publishRideStatus(ctx, updated, correlationID)

	service.logger.Info(ctx, "ride_progressed", "ride advanced to next stage", map[string]any{
		"ride_id":    rideID,
		"driver_id":  driverID,
		"status":     updated.Status.String(),
		"request_id": correlationID,
	})

	return ports.ProgressResult{
		RideID: rideID,
		Status: updated.Status.String(),
	}, nil
}
