package contracts

// RideRequestedMessage is published when a new ride request is created.
// Routing key: "ride.request.{vehicle_type}" on ExchangeRideTopic; the
// dispatch coordinator consumes it from QueueRideRequests.
type RideRequestedMessage struct {
	RideID         string        `json:"ride_id"` // UUID
	PassengerID    string        `json:"passenger_id"`
	PickupLocation GeoPoint      `json:"pickup_location"`
	Destination    GeoPoint      `json:"destination_location"`
	VehicleType    string        `json:"vehicle_type"` // ECONOMY|PREMIUM|XL
	Estimate       *FareEstimate `json:"estimate,omitempty"`
	Envelope
}
