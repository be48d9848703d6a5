package service

import (
	"context"
	"encoding/json"
	"time"

	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/contracts"
	"ride-dispatch/internal/ports"
)

// CreateRequest persists a new PENDING ride request and hands it to the
// dispatcher via the broker. A failed fare estimate degrades the request, it
// never blocks it.
func (service *rideService) CreateRequest(ctx context.Context, in ports.CreateRequestInput) (ports.CreateRequestResult, error) {
	correlationID := generateCorrelationID()

	request, err := ride.NewRequest(in.PassengerID, in.VehicleType, in.Pickup, in.Destination)
	if err != nil {
		return ports.CreateRequestResult{}, err
	}

	estimate, err := service.estimator.EstimateFare(ctx, in.Pickup, in.Destination, in.VehicleType)
	if err != nil {
		service.logger.Error(ctx, "fare_estimate_failed", "pricing unavailable, creating request without estimate", err, map[string]any{
			"passenger_id": in.PassengerID,
			"request_id":   correlationID,
		})
	} else {
		request.Estimate = estimate
	}

	err = service.uow.WithinTx(ctx, func(ctx context.Context) error {
		return service.requests.Create(ctx, request)
	})
	if err != nil {
		service.logger.Error(ctx, "ride_request_create_failed", "failed to create ride request", err, map[string]any{
			"passenger_id": in.PassengerID,
			"request_id":   correlationID,
		})
		return ports.CreateRequestResult{}, err
	}

	ctx = service.logger.WithRideID(ctx, request.ID)

	// hand off to the dispatcher
	reqMsg := contracts.RideRequestedMessage{
		RideID:      request.ID,
		PassengerID: in.PassengerID,
		PickupLocation: contracts.GeoPoint{
			Lat:     in.Pickup.Latitude,
			Lng:     in.Pickup.Longitude,
			Address: in.Pickup.Address,
		},
		Destination: contracts.GeoPoint{
			Lat:     in.Destination.Latitude,
			Lng:     in.Destination.Longitude,
			Address: in.Destination.Address,
		},
		VehicleType: in.VehicleType.String(),
		Envelope: contracts.Envelope{
			CorrelationID: correlationID,
			Producer:      "dispatch-service",
			SentAt:        time.Now().UTC(),
		},
	}
	if request.Estimate != nil {
		reqMsg.Estimate = &contracts.FareEstimate{
			DistanceKM:      request.Estimate.DistanceKM,
			DurationMinutes: request.Estimate.DurationMinutes,
			FareMin:         request.Estimate.FareMin,
			FareMax:         request.Estimate.FareMax,
		}
	}

	if body, err := json.Marshal(reqMsg); err == nil {
		if err := service.pub.Publish(contracts.ExchangeRideTopic, contracts.RouteRideRequestPrefix+request.ID, body); err != nil {
			// the pending sweep re-dispatches requests the broker dropped
			service.logger.Error(ctx, "ride_request_publish_failed", "failed to publish ride request", err, map[string]any{
				"ride_id":    request.ID,
				"request_id": correlationID,
			})
		}
	}

	service.publishRideStatus(ctx, request, correlationID)

	service.logger.Info(ctx, "ride_request_created", "ride request created and queued for dispatch", map[string]any{
		"ride_id":      request.ID,
		"passenger_id": in.PassengerID,
		"vehicle_type": in.VehicleType.String(),
		"has_estimate": request.Estimate != nil,
		"request_id":   correlationID,
	})

	return ports.CreateRequestResult{
		RideID:   request.ID,
		Status:   request.Status.String(),
		Estimate: request.Estimate,
	}, nil
}

// GetRequest fetches a single ride request.
func (service *rideService) GetRequest(ctx context.Context, rideID string) (*ride.Request, error) {
	var out *ride.Request
	err := service.uow.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		out, err = service.requests.GetByID(ctx, rideID)
		return err
	})
	return out, err
}
