package service

import (
	"context"
	"time"

	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/ports"
)

// Cancel terminates a request on behalf of the passenger, the assigned
// driver, or the system. The caller must be a participant of the ride:
// passengers cancel only their own requests, drivers only rides assigned to
// them. Rides past DRIVER_ARRIVED refuse; the passenger is aboard and the
// trip must finish. A driver freed by the cancellation goes back to ONLINE.
func (service *rideService) Cancel(ctx context.Context, rideID string, actor ride.CancelActor, actorID, reason string) (ports.CancelResult, error) {
	correlationID := generateCorrelationID()
	ctx = service.logger.WithRideID(ctx, rideID)

	current, err := service.GetRequest(ctx, rideID)
	if err != nil {
		return ports.CancelResult{}, err
	}
	switch actor {
	case ride.CancelByPassenger:
		if current.PassengerID != actorID {
			return ports.CancelResult{}, ride.ErrNotRideParticipant
		}
	case ride.CancelByDriver:
		if current.AssignedDriver == nil || *current.AssignedDriver != actorID {
			return ports.CancelResult{}, ride.ErrNotRideParticipant
		}
	}

	updated, err := service.commitTransition(ctx, rideID, ride.StatusCancelled, ride.Mutation{
		CancelledBy:  &actor,
		CancelReason: reason,
	})
	if err != nil {
		service.logger.Error(ctx, "ride_cancel_failed", "failed to cancel ride request", err, map[string]any{
			"ride_id":    rideID,
			"actor":      string(actor),
			"request_id": correlationID,
		})
		return ports.CancelResult{}, err
	}

	// free the assigned driver, if any
	if updated.AssignedDriver != nil {
		if err := service.registry.ReleaseToOnline(ctx, *updated.AssignedDriver); err != nil {
			// the reconciliation sweep fixes drivers stuck in BUSY
			service.logger.Error(ctx, "driver_release_failed", "failed to release driver after cancellation", err, map[string]any{
				"ride_id":   rideID,
				"driver_id": *updated.AssignedDriver,
			})
		}
	}

	service.publishRideStatus(ctx, updated, correlationID)

	service.logger.Info(ctx, "ride_cancelled", "ride request cancelled", map[string]any{
		"ride_id":    rideID,
		"actor":      string(actor),
		"reason":     reason,
		"request_id": correlationID,
	})

	cancelledAt := time.Now().UTC()
	if updated.CancelledAt != nil {
		cancelledAt = *updated.CancelledAt
	}

	return ports.CancelResult{
		RideID:      rideID,
		Status:      updated.Status.String(),
		CancelledAt: cancelledAt.Format(time.RFC3339),
		Message:     "Ride cancelled",
	}, nil
}
