package contracts

// DriverOfferResponse is a driver's answer to a ride offer, published to
// QueueDriverResponses with routing key "driver.response.{ride_id}".
// Delivery is not exactly-once: the coordinator tolerates duplicates because
// resolution is guarded by the store's compare-and-transition.
type DriverOfferResponse struct {
	RideID   string `json:"ride_id"`
	OfferID  string `json:"offer_id,omitempty"`
	DriverID string `json:"driver_id"`
	Accepted bool   `json:"accepted"`
	Envelope
}
