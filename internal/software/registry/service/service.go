package service

import (
	"ride-dispatch/internal/general/config"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/ports"
)

// registryService is the authoritative record of driver reachability. It
// keeps Postgres (source of truth) and the Redis geo index in step: Postgres
// commits first, geo follows.
type registryService struct {
	logger    *logger.Logger
	uow       ports.UnitOfWork
	presences ports.DriverPresenceRepository
	geo       ports.GeoIndex
	pub       ports.MessagePublisher
	cfg       config.Dispatch
}

// NewRegistryService constructs the service with required dependencies.
func NewRegistryService(
	log *logger.Logger,
	uow ports.UnitOfWork,
	presences ports.DriverPresenceRepository,
	geo ports.GeoIndex,
	pub ports.MessagePublisher,
	cfg config.Dispatch,
) ports.RegistryService {
	return &registryService{
		logger:    log,
		uow:       uow,
		presences: presences,
		geo:       geo,
		pub:       pub,
		cfg:       cfg,
	}
}
