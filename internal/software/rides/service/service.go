package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/config"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/general/observability"
	"ride-dispatch/internal/ports"
)

// rideService owns request creation and the post-acceptance lifecycle.
// Every state change goes through the store's compare-and-transition, so two
// racing writers resolve to exactly one committed winner.
type rideService struct {
	logger     *logger.Logger
	uow        ports.UnitOfWork
	requests   ports.RideRequestRepository
	registry   ports.RegistryService
	estimator  ports.FareEstimator
	pub        ports.MessagePublisher
	passengers ports.PassengerNotifier
	cfg        config.Dispatch
}

// NewRideService constructs the service with required dependencies.
func NewRideService(
	log *logger.Logger,
	uow ports.UnitOfWork,
	requests ports.RideRequestRepository,
	registry ports.RegistryService,
	estimator ports.FareEstimator,
	pub ports.MessagePublisher,
	passengers ports.PassengerNotifier,
	cfg config.Dispatch,
) ports.RideService {
	return &rideService{
		logger:     log,
		uow:        uow,
		requests:   requests,
		registry:   registry,
		estimator:  estimator,
		pub:        pub,
		passengers: passengers,
		cfg:        cfg,
	}
}

// generateCorrelationID creates a simple correlation ID for tracing requests.
func generateCorrelationID() string {
	var b [3]byte // 6 hex chars
	_, _ = rand.Read(b[:])
	ts := time.Now().UTC().Format("20060102T150405")
	return "req_" + ts + "_" + hex.EncodeToString(b[:])
}

// commitTransition applies one lifecycle move through compare-and-transition,
// retrying version conflicts with a short backoff. Guard failures abort
// immediately; only losing a race is worth retrying.
func (service *rideService) commitTransition(ctx context.Context, rideID string, next ride.Status, mut ride.Mutation) (*ride.Request, error) {
	var updated *ride.Request

	attempts := service.cfg.StoreRetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		err := service.uow.WithinTx(ctx, func(ctx context.Context) error {
			current, err := service.requests.GetByID(ctx, rideID)
			if err != nil {
				return err
			}
			updated, err = service.requests.CompareAndTransition(ctx, rideID, current.Version, next, mut)
			return err
		})
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, ride.ErrVersionConflict) {
			return nil, err
		}

		observability.VersionConflictsTotal.Inc()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(service.cfg.StoreRetryBackoff):
		}
	}

	return nil, ride.ErrVersionConflict
}
