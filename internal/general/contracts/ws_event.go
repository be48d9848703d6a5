package contracts

import "time"

// WSDriverRideOffer is the "ride_offer" frame pushed to a driver socket.
// ExpiresAt mirrors the server-side offer window; a silent driver past it is
// treated as a timeout regardless of any client countdown.
type WSDriverRideOffer struct {
	Type          string   `json:"type"` // "ride_offer"
	OfferID       string   `json:"offer_id"`
	RideID        string   `json:"ride_id"`
	Pickup        GeoPoint `json:"pickup_location"`
	Destination   GeoPoint `json:"destination_location"`
	VehicleType   string   `json:"vehicle_type"`
	EstimatedFare *float64 `json:"estimated_fare,omitempty"`
	ExpiresAt     string   `json:"expires_at"` // ISO-8601
	Envelope
}

// WSPassengerRideStatus is the "ride_status_update" frame pushed to a
// passenger socket after a committed transition.
type WSPassengerRideStatus struct {
	Type     string `json:"type"` // "ride_status_update"
	RideID   string `json:"ride_id"`
	Status   string `json:"status"`
	DriverID string `json:"driver_id,omitempty"`
	Envelope
}

// WSDriverOfferClosed is the "offer_closed" frame pushed to a driver whose
// answer arrived after the ride was settled by someone else, typically an
// accept that lost to a concurrent cancellation.
type WSDriverOfferClosed struct {
	Type    string `json:"type"` // "offer_closed"
	OfferID string `json:"offer_id"`
	RideID  string `json:"ride_id"`
	Reason  string `json:"reason"` // "request_already_resolved"
	Envelope
}

// WSDriverHeartbeat is the inbound "heartbeat" frame from a driver socket,
// carrying the current position.
type WSDriverHeartbeat struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	LocatedAt time.Time `json:"located_at"`
}

// WSOfferResponse is the inbound "offer_response" frame from a driver socket.
type WSOfferResponse struct {
	RideID   string `json:"ride_id"`
	OfferID  string `json:"offer_id,omitempty"`
	Accepted bool   `json:"accepted"`
}
