package service

import (
	"context"
	"errors"
	"time"

	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/observability"
)

const sweepBatchSize = 100

// runSweeps periodically repairs drift between the store, the registry, and
// the in-memory dispatch cycles: stuck offers, orphaned pending requests,
// silent drivers.
func (service *dispatchService) runSweeps(ctx context.Context) {
	ticker := time.NewTicker(service.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			service.sweepStuckOffers(ctx)
			service.sweepAssignedDrivers(ctx)
			service.sweepPending(ctx)
			if _, err := service.registry.ExpireStale(ctx); err != nil {
				service.logger.Error(ctx, "stale_driver_sweep_failed", "registry sweep failed", err, nil)
			}
		}
	}
}

// sweepStuckOffers finds OFFERED requests whose window has lapsed with no
// live cycle attached, times the offer out, and requeues the request. This
// recovers rides orphaned by a crashed dispatcher.
func (service *dispatchService) sweepStuckOffers(ctx context.Context) {
	var stuck []*ride.Request
	err := service.uow.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		stuck, err = service.requests.ListByStatus(ctx, ride.StatusOffered, sweepBatchSize)
		return err
	})
	if err != nil {
		service.logger.Error(ctx, "stuck_offer_sweep_failed", "failed to list offered requests", err, nil)
		return
	}

	now := time.Now().UTC()
	for _, request := range stuck {
		service.mu.Lock()
		_, owned := service.offers[request.ID]
		service.mu.Unlock()
		if owned {
			continue // a live cycle is already waiting on this offer
		}

		pending, ok := request.PendingOffer()
		if !ok || pending.ExpiresAt.After(now) {
			continue
		}

		_, err := service.transition(ctx, request.ID, request.Version, ride.StatusPending, ride.Mutation{
			ResolveOffer: &ride.OfferResolution{DriverID: pending.DriverID, Outcome: ride.OfferTimedOut},
		})
		if err != nil {
			if !errors.Is(err, ride.ErrVersionConflict) {
				service.logger.Error(ctx, "stuck_offer_recover_failed", "failed to time out orphaned offer", err,
					map[string]any{"ride_id": request.ID})
			}
			continue
		}

		observability.OffersTotal.WithLabelValues("timed_out").Inc()
		service.releaseDriver(ctx, pending.DriverID)
		service.logger.Info(ctx, "stuck_offer_recovered", "orphaned offer timed out, ride requeued", map[string]any{
			"ride_id":   request.ID,
			"driver_id": pending.DriverID,
			"offer_id":  pending.OfferID,
		})
	}
}

// activeStatuses are the post-acceptance states in which a ride holds its
// assigned driver.
var activeStatuses = []ride.Status{
	ride.StatusAccepted,
	ride.StatusDriverEnRoute,
	ride.StatusDriverArrived,
	ride.StatusPassengerAboard,
}

// sweepAssignedDrivers re-pins the assigned driver of every active ride to
// BUSY. A crash between the store commit and the registry move leaves the
// driver ONLINE and matchable while already on a trip; this closes that gap.
func (service *dispatchService) sweepAssignedDrivers(ctx context.Context) {
	var active []*ride.Request
	err := service.uow.WithinTx(ctx, func(ctx context.Context) error {
		for _, status := range activeStatuses {
			batch, err := service.requests.ListByStatus(ctx, status, sweepBatchSize)
			if err != nil {
				return err
			}
			active = append(active, batch...)
		}
		return nil
	})
	if err != nil {
		service.logger.Error(ctx, "assigned_driver_sweep_failed", "failed to list active requests", err, nil)
		return
	}

	for _, request := range active {
		if request.AssignedDriver == nil {
			continue
		}
		if err := service.registry.EnsureBusy(ctx, *request.AssignedDriver, request.ID); err != nil {
			service.logger.Error(ctx, "assigned_driver_repair_failed", "failed to repair driver status", err,
				map[string]any{"ride_id": request.ID, "driver_id": *request.AssignedDriver})
		}
	}
}

// sweepPending restarts dispatch for PENDING requests nobody is working on,
// covering dropped broker messages and exhausted offer budgets.
func (service *dispatchService) sweepPending(ctx context.Context) {
	var pending []*ride.Request
	err := service.uow.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		pending, err = service.requests.ListPending(ctx, sweepBatchSize)
		return err
	})
	if err != nil {
		service.logger.Error(ctx, "pending_sweep_failed", "failed to list pending requests", err, nil)
		return
	}

	for _, request := range pending {
		rideID := request.ID
		go func() {
			if err := service.Dispatch(ctx, rideID); err != nil && !errors.Is(err, ride.ErrDispatchFailed) {
				service.logger.Error(ctx, "pending_redispatch_failed", "sweep dispatch cycle ended with error", err,
					map[string]any{"ride_id": rideID})
			}
		}()
	}
}
