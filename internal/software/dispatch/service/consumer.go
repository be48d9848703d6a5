package service

import (
	"context"
	"encoding/json"
	"errors"

	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/contracts"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RunBackgroundConsumers starts the broker consumers and the reconciliation
// sweeps. It returns immediately; everything runs until ctx is cancelled.
func (service *dispatchService) RunBackgroundConsumers(ctx context.Context) {
	go service.consumeRideRequests(ctx)
	go service.consumeDriverResponses(ctx)
	go service.runSweeps(ctx)
}

// consumeRideRequests picks up new ride requests and starts a dispatch cycle
// for each. Requeue is unnecessary: the pending sweep retries anything the
// consumer misses.
func (service *dispatchService) consumeRideRequests(ctx context.Context) {
	err := service.mq.Consume(
		ctx,
		contracts.QueueRideRequests,
		"dispatch-ride-requests",
		10,
		func(_ context.Context, d amqp.Delivery) error {
			var msg contracts.RideRequestedMessage
			if err := json.Unmarshal(d.Body, &msg); err != nil {
				service.logger.Error(ctx, "ride_request_decode_failed", "failed to decode ride request", err,
					map[string]any{"size": len(d.Body)})
				return err
			}

			service.logger.Info(ctx, "ride_request_received", "dispatching new ride request", map[string]any{
				"ride_id":      msg.RideID,
				"vehicle_type": msg.VehicleType,
				"routing_key":  d.RoutingKey,
			})

			go func() {
				if err := service.Dispatch(ctx, msg.RideID); err != nil && !errors.Is(err, ride.ErrDispatchFailed) {
					service.logger.Error(ctx, "dispatch_failed", "dispatch cycle ended with error", err,
						map[string]any{"ride_id": msg.RideID})
				}
			}()
			return nil
		},
	)
	if err != nil && !errors.Is(err, context.Canceled) {
		service.logger.Error(ctx, "ride_request_consume_failed", "ride request consumer stopped", err, nil)
	}
}

// consumeDriverResponses feeds accept/reject answers to the waiting cycles.
func (service *dispatchService) consumeDriverResponses(ctx context.Context) {
	err := service.mq.Consume(
		ctx,
		contracts.QueueDriverResponses,
		"dispatch-driver-responses",
		20,
		func(_ context.Context, d amqp.Delivery) error {
			var msg contracts.DriverOfferResponse
			if err := json.Unmarshal(d.Body, &msg); err != nil {
				service.logger.Error(ctx, "driver_response_decode_failed", "failed to decode driver response", err,
					map[string]any{"size": len(d.Body)})
				return err
			}

			service.logger.Debug(ctx, "driver_response_received", "driver answered an offer", map[string]any{
				"ride_id":   msg.RideID,
				"driver_id": msg.DriverID,
				"accepted":  msg.Accepted,
			})

			service.HandleDriverResponse(msg)
			return nil
		},
	)
	if err != nil && !errors.Is(err, context.Canceled) {
		service.logger.Error(ctx, "driver_response_consume_failed", "driver response consumer stopped", err, nil)
	}
}
