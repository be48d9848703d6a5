package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/config"
	"ride-dispatch/internal/general/contracts"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/general/rabbitmq"
	"ride-dispatch/internal/ports"

	"github.com/google/uuid"
)

// dispatchService runs the offer/response cycle: pick the closest eligible
// driver, commit an exclusive offer, wait out the window, and either assign
// the ride or move on. One goroutine owns each ride's cycle; responses reach
// it through the channel registered in offers.
type dispatchService struct {
	logger     *logger.Logger
	uow        ports.UnitOfWork
	requests   ports.RideRequestRepository
	registry   ports.RegistryService
	drivers    ports.DriverNotifier
	passengers ports.PassengerNotifier
	pub        ports.MessagePublisher
	mq         *rabbitmq.Client
	cfg        config.Dispatch

	mu     sync.Mutex
	offers map[string]chan contracts.DriverOfferResponse // rideID -> response channel
}

// NewDispatchService constructs the coordinator with required dependencies.
func NewDispatchService(
	log *logger.Logger,
	uow ports.UnitOfWork,
	requests ports.RideRequestRepository,
	registry ports.RegistryService,
	drivers ports.DriverNotifier,
	passengers ports.PassengerNotifier,
	pub ports.MessagePublisher,
	mq *rabbitmq.Client,
	cfg config.Dispatch,
) ports.DispatchService {
	return &dispatchService{
		logger:     log,
		uow:        uow,
		requests:   requests,
		registry:   registry,
		drivers:    drivers,
		passengers: passengers,
		pub:        pub,
		mq:         mq,
		cfg:        cfg,
		offers:     make(map[string]chan contracts.DriverOfferResponse),
	}
}

// claimRide registers the response channel for a ride's dispatch cycle.
// A second claim for the same ride reports false so the cycle never runs
// twice concurrently.
func (service *dispatchService) claimRide(rideID string) (chan contracts.DriverOfferResponse, bool) {
	service.mu.Lock()
	defer service.mu.Unlock()

	if _, exists := service.offers[rideID]; exists {
		return nil, false
	}
	ch := make(chan contracts.DriverOfferResponse, 4)
	service.offers[rideID] = ch
	return ch, true
}

func (service *dispatchService) releaseRide(rideID string) {
	service.mu.Lock()
	delete(service.offers, rideID)
	service.mu.Unlock()
}

// HandleDriverResponse routes an accept/reject to the cycle waiting on this
// ride. Late or duplicate answers find no channel, or a full one, and are
// dropped: the compare-and-transition guard has already decided.
func (service *dispatchService) HandleDriverResponse(resp contracts.DriverOfferResponse) {
	service.mu.Lock()
	ch, ok := service.offers[resp.RideID]
	service.mu.Unlock()
	if !ok {
		return
	}

	select {
	case ch <- resp:
	default:
	}
}

func genOfferID() string {
	return "offer_" + uuid.NewString()
}

// getRequest loads a fresh request snapshot outside any ongoing transaction.
func (service *dispatchService) getRequest(ctx context.Context, rideID string) (*ride.Request, error) {
	var out *ride.Request
	err := service.uow.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		out, err = service.requests.GetByID(ctx, rideID)
		return err
	})
	return out, err
}

// transition commits one guarded move against the expected version.
func (service *dispatchService) transition(ctx context.Context, rideID string, expectedVersion int64, next ride.Status, mut ride.Mutation) (*ride.Request, error) {
	var out *ride.Request
	err := service.uow.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		out, err = service.requests.CompareAndTransition(ctx, rideID, expectedVersion, next, mut)
		return err
	})
	return out, err
}

// publishRideStatus announces a committed transition to the broker and the
// passenger socket. Best effort on both.
func (service *dispatchService) publishRideStatus(ctx context.Context, request *ride.Request, correlationID string) {
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
