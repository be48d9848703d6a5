package service

import (
	"context"
	"encoding/json"
	"time"

	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/contracts"
)

// publishRideStatus broadcasts a committed transition on the ride topic
// exchange and pushes it to the passenger's socket. Both paths are
// best-effort; the store already holds the truth and GET /rides catches
// anyone up.
func (service *rideService) publishRideStatus(ctx context.Context, request *ride.Request, correlationID string) {
	driverID := ""
	if request.AssignedDriver != nil {
		driverID = *request.AssignedDriver
	}

	msg := contracts.RideStatusMessage{
		RideID:    request.ID,
		Status:    request.Status.String(),
		DriverID:  driverID,
		Timestamp: time.Now().UTC(),
		Envelope: contracts.Envelope{
			CorrelationID: correlationID,
			Producer:      "dispatch-service",
			SentAt:        time.Now().UTC(),
		},
	}

	if body, err := json.Marshal(msg); err == nil {
		if err := service.pub.Publish(contracts.ExchangeRideTopic, contracts.RouteRideStatusPrefix+request.ID, body); err != nil {
			service.logger.Error(ctx, "ride_status_publish_failed", "failed to publish ride status", err, map[string]any{
				"ride_id": request.ID,
				"status":  request.Status.String(),
			})
		}
	}

	wsMsg := contracts.WSPassengerRideStatus{
		Type:     "ride_status_update",
		RideID:   request.ID,
		Status:   request.Status.String(),
		DriverID: driverID,
		Envelope: contracts.Envelope{
			CorrelationID: correlationID,
			SentAt:        time.Now().UTC(),
		},
	}
	if err := service.passengers.NotifyRideStatus(request.PassengerID, wsMsg); err != nil {
		service.logger.Debug(ctx, "passenger_notify_failed", "failed to push status to passenger socket", map[string]any{
			"ride_id":      request.ID,
			"passenger_id": request.PassengerID,
			"error":        err.Error(),
		})
	}
}
