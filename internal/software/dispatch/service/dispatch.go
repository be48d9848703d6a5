package service

import (
	"context"
	"errors"
	"time"

	"ride-dispatch/internal/domain/driver"
	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/contracts"
	"ride-dispatch/internal/general/observability"
)

// Dispatch runs the offer loop for one ride until it is resolved or the
// per-ride offer budget runs out. Exactly one driver can win: every state
// move is a compare-and-transition, so a cancellation or a second dispatcher
// racing this loop loses cleanly.
func (service *dispatchService) Dispatch(ctx context.Context, rideID string) error {
	respCh, claimed := service.claimRide(rideID)
	if !claimed {
		// another cycle already owns this ride
		return nil
	}
	defer service.releaseRide(rideID)

	ctx = service.logger.WithRideID(ctx, rideID)

	for round := 0; round < service.cfg.MaxOffersPerRide; round++ {
		request, err := service.getRequest(ctx, rideID)
		if err != nil {
			return err
		}

		switch {
		case request.Status == ride.StatusPending:
			// keep going
		case request.Status.Terminal(), request.Status.Assigned():
			// resolved while we were away
			return nil
		default:
			// OFFERED by a previous crashed cycle; the sweep untangles it
			return nil
		}

		candidate, err := service.selectCandidate(ctx, request)
		if errors.Is(err, ride.ErrNoCandidateAvailable) {
			return service.expire(ctx, request)
		}
		if err != nil {
			return err
		}

		resolved, err := service.runOffer(ctx, request, candidate.DriverID, respCh)
		if err != nil {
			return err
		}
		if resolved {
			return nil
		}
	}

	// budget exhausted; the request stays PENDING for the sweep to retry
	service.logger.Info(ctx, "dispatch_budget_exhausted", "no driver accepted within the offer budget", map[string]any{
		"ride_id":    rideID,
		"max_offers": service.cfg.MaxOffersPerRide,
	})
	return ride.ErrDispatchFailed
}

// selectCandidate returns the closest eligible driver with a live socket, or
// ride.ErrNoCandidateAvailable when nobody qualifies. Drivers already
// offered this ride are excluded through the offer history.
func (service *dispatchService) selectCandidate(ctx context.Context, request *ride.Request) (*driver.Candidate, error) {
	exclude := request.OfferedDrivers()

	candidates, err := service.registry.ListCandidates(ctx, request.Pickup, request.VehicleType, exclude, service.cfg.CandidateLimit)
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		if service.drivers.IsDriverConnected(candidates[i].DriverID) {
			return &candidates[i], nil
		}
	}
	return nil, ride.ErrNoCandidateAvailable
}

// runOffer commits one offer to one driver and waits out the window.
// Returns true when the ride left the loop (accepted or lost a race), false
// when the next round should try another driver.
func (service *dispatchService) runOffer(ctx context.Context, request *ride.Request, driverID string, respCh chan contracts.DriverOfferResponse) (bool, error) {
	rideID := request.ID

	// reserve the driver first; losing them mid-offer is worse than an
	// occasional skipped round
	if err := service.registry.MarkOffered(ctx, driverID, rideID); err != nil {
		service.logger.Debug(ctx, "driver_reserve_failed", "candidate no longer reservable, trying next", map[string]any{
			"ride_id":   rideID,
			"driver_id": driverID,
			"error":     err.Error(),
		})
		return false, nil
	}

	offer, err := ride.NewOffer(genOfferID(), rideID, driverID, service.cfg.OfferWindow)
	if err != nil {
		service.releaseDriver(ctx, driverID)
		return false, err
	}

	record := offer.Record()
	updated, err := service.transition(ctx, rideID, request.Version, ride.StatusOffered, ride.Mutation{
		AppendOffer: &record,
	})
	if err != nil {
		service.releaseDriver(ctx, driverID)
		if errors.Is(err, ride.ErrVersionConflict) {
			// someone moved the ride under us (likely a cancellation);
			// the next round re-reads and decides
			observability.VersionConflictsTotal.Inc()
			return false, nil
		}
		return false, err
	}

	if err := service.sendOffer(ctx, updated, offer); err != nil {
		service.logger.Error(ctx, "offer_send_failed", "failed to push offer to driver", err, map[string]any{
			"ride_id":   rideID,
			"driver_id": driverID,
			"offer_id":  offer.OfferID,
		})
		service.resolveOffer(ctx, updated, driverID, ride.OfferTimedOut)
		return false, nil
	}

	service.logger.Info(ctx, "ride_offer_sent", "offer pushed to driver", map[string]any{
		"ride_id":    rideID,
		"driver_id":  driverID,
		"offer_id":   offer.OfferID,
		"expires_at": offer.ExpiresAt.Format(time.RFC3339),
	})

	timer := time.NewTimer(time.Until(offer.ExpiresAt))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			service.resolveOffer(ctx, updated, driverID, ride.OfferTimedOut)
			return true, ctx.Err()

		case <-timer.C:
			observability.OffersTotal.WithLabelValues("timed_out").Inc()
			service.logger.Info(ctx, "ride_offer_timed_out", "driver did not answer within the window", map[string]any{
				"ride_id":   rideID,
				"driver_id": driverID,
				"offer_id":  offer.OfferID,
			})
			service.resolveOffer(ctx, updated, driverID, ride.OfferTimedOut)
			return false, nil

		case resp := <-respCh:
			// answers for other drivers or stale offers are ignored
			if resp.DriverID != driverID {
				continue
			}
			if resp.OfferID != "" && resp.OfferID != offer.OfferID {
				continue
			}

			if !resp.Accepted {
				observability.OffersTotal.WithLabelValues("rejected").Inc()
				service.resolveOffer(ctx, updated, driverID, ride.OfferRejected)
				return false, nil
			}
			return service.accept(ctx, updated, driverID, offer.OfferID)
		}
	}
}

// accept commits the assignment. A version conflict here means a concurrent
// cancellation (or duplicate accept) won; the driver goes back to ONLINE and
// is told the request was already resolved.
func (service *dispatchService) accept(ctx context.Context, request *ride.Request, driverID, offerID string) (bool, error) {
	assigned, err := service.transition(ctx, request.ID, request.Version, ride.StatusAccepted, ride.Mutation{
		AssignDriver: &driverID,
		ResolveOffer: &ride.OfferResolution{DriverID: driverID, Outcome: ride.OfferAccepted},
	})
	if err != nil {
		service.releaseDriver(ctx, driverID)
		if errors.Is(err, ride.ErrVersionConflict) {
			observability.VersionConflictsTotal.Inc()
			service.logger.Info(ctx, "ride_accept_lost_race", "accept lost to a concurrent transition", map[string]any{
				"ride_id":   request.ID,
				"driver_id": driverID,
			})
			service.notifyOfferClosed(ctx, request.ID, driverID, offerID)
			return true, nil
		}
		return true, err
	}

	if err := service.registry.MarkBusy(ctx, driverID, request.ID); err != nil {
		// store says assigned; the reconciliation sweep repairs the registry
		service.logger.Error(ctx, "driver_busy_mark_failed", "failed to mark winning driver busy", err, map[string]any{
			"ride_id":   request.ID,
			"driver_id": driverID,
		})
	}

	observability.OffersTotal.WithLabelValues("accepted").Inc()
	observability.DispatchLatency.Observe(time.Since(assigned.CreatedAt).Seconds())

	service.publishRideStatus(ctx, assigned, "")

	service.logger.Info(ctx, "ride_assigned", "driver accepted the ride", map[string]any{
		"ride_id":   request.ID,
		"driver_id": driverID,
		"version":   assigned.Version,
	})
	return true, nil
}

// notifyOfferClosed tells a driver whose accept arrived too late that the
// request was already resolved. Best-effort: the authoritative outcome is in
// the store either way.
func (service *dispatchService) notifyOfferClosed(ctx context.Context, rideID, driverID, offerID string) {
	err := service.drivers.SendOfferClosed(driverID, contracts.WSDriverOfferClosed{
		Type:    "offer_closed",
		OfferID: offerID,
		RideID:  rideID,
		Reason:  "request_already_resolved",
		Envelope: contracts.Envelope{
			Producer: "dispatch-service",
			SentAt:   time.Now().UTC(),
		},
	})
	if err != nil {
		service.logger.Debug(ctx, "offer_closed_notify_failed", "could not tell driver the offer was settled", map[string]any{
			"ride_id":   rideID,
			"driver_id": driverID,
			"error":     err.Error(),
		})
	}
}

// resolveOffer closes the pending offer entry and returns the ride to
// PENDING. Conflicts are expected when a cancellation raced the resolution.
func (service *dispatchService) resolveOffer(ctx context.Context, request *ride.Request, driverID string, outcome ride.OfferOutcome) {
	_, err := service.transition(ctx, request.ID, request.Version, ride.StatusPending, ride.Mutation{
		ResolveOffer: &ride.OfferResolution{DriverID: driverID, Outcome: outcome},
	})
	if err != nil && !errors.Is(err, ride.ErrVersionConflict) {
		service.logger.Error(ctx, "offer_resolve_failed", "failed to resolve offer", err, map[string]any{
			"ride_id":   request.ID,
			"driver_id": driverID,
			"outcome":   outcome.String(),
		})
	}

	service.releaseDriver(ctx, driverID)
}

// releaseDriver puts a non-winning driver back in the pool.
func (service *dispatchService) releaseDriver(ctx context.Context, driverID string) {
	if err := service.registry.ReleaseToOnline(ctx, driverID); err != nil {
		service.logger.Error(ctx, "driver_release_failed", "failed to release driver to online", err, map[string]any{
			"driver_id": driverID,
		})
	}
}

// expire terminates a request no one can serve.
func (service *dispatchService) expire(ctx context.Context, request *ride.Request) error {
	expired, err := service.transition(ctx, request.ID, request.Version, ride.StatusExpired, ride.Mutation{})
	if err != nil {
		if errors.Is(err, ride.ErrVersionConflict) {
			return nil
		}
		return err
	}

	observability.RequestsExpiredTotal.Inc()
	service.publishRideStatus(ctx, expired, "")

	service.logger.Info(ctx, "ride_expired", "no eligible drivers, request expired", map[string]any{
		"ride_id":      request.ID,
		"offers_tried": len(request.OfferHistory),
	})
	return nil
}

// sendOffer builds and pushes the offer frame to the driver socket.
func (service *dispatchService) sendOffer(ctx context.Context, request *ride.Request, offer *ride.Offer) error {
	msg := contracts.WSDriverRideOffer{
		Type:    "ride_offer",
		OfferID: offer.OfferID,
		RideID:  request.ID,
		Pickup: contracts.GeoPoint{
			Lat:     request.Pickup.Latitude,
			Lng:     request.Pickup.Longitude,
			Address: request.Pickup.Address,
		},
		Destination: contracts.GeoPoint{
			Lat:     request.Destination.Latitude,
			Lng:     request.Destination.Longitude,
			Address: request.Destination.Address,
		},
		VehicleType: request.VehicleType.String(),
		ExpiresAt:   offer.ExpiresAt.Format(time.RFC3339),
		Envelope: contracts.Envelope{
			Producer: "dispatch-service",
			SentAt:   time.Now().UTC(),
		},
	}
	if request.Estimate != nil {
		mid := (request.Estimate.FareMin + request.Estimate.FareMax) / 2
		msg.EstimatedFare = &mid
	}

	return service.drivers.SendOffer(offer.DriverID, msg)
}
