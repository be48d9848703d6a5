package contracts

import "time"

// RideStatusMessage notifies collaborators about a committed lifecycle transition.
// Routing key: "ride.status.{status}" on ExchangeRideTopic.
type RideStatusMessage struct {
	RideID    string    `json:"ride_id"`
	Status    string    `json:"status"` // PENDING|OFFERED|ACCEPTED|DRIVER_EN_ROUTE|DRIVER_ARRIVED|PASSENGER_ABOARD|COMPLETED|CANCELLED|EXPIRED
	DriverID  string    `json:"driver_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Envelope
}

// DriverStatusMessage notifies collaborators about a committed registry transition.
// Routing key: "driver.status.{driver_id}" on ExchangeDriverTopic.
type DriverStatusMessage struct {
	DriverID  string    `json:"driver_id"`
	Status    string    `json:"status"` // OFFLINE|ONLINE|OFFERED|BUSY
	RideID    string    `json:"ride_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Envelope
}
