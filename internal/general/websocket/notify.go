package websocket

import (
	"fmt"

	"ride-dispatch/internal/general/contracts"
	"ride-dispatch/internal/ports"

	"github.com/gorilla/websocket"
)

var (
	_ ports.DriverNotifier    = (*Gateway)(nil)
	_ ports.PassengerNotifier = (*Gateway)(nil)
)

// IsDriverConnected reports whether the driver currently holds a live socket.
// The coordinator checks this before committing an offer: no socket, no
// offer.
func (g *Gateway) IsDriverConnected(driverID string) bool {
	_, ok := g.drivers.Load(driverID)
	return ok
}

// SendOffer pushes a ride offer frame to the driver's socket.
func (g *Gateway) SendOffer(driverID string, offer contracts.WSDriverRideOffer) error {
	v, ok := g.drivers.Load(driverID)
	if !ok {
		return fmt.Errorf("driver %s not connected", driverID)
	}
	return g.writeJSON(v.(*websocket.Conn), offer)
}

// SendOfferClosed tells the driver their answer landed after the ride was
// already settled. A gone socket is fine; the driver is released either way.
func (g *Gateway) SendOfferClosed(driverID string, msg contracts.WSDriverOfferClosed) error {
	v, ok := g.drivers.Load(driverID)
	if !ok {
		return nil
	}
	return g.writeJSON(v.(*websocket.Conn), msg)
}

// NotifyRideStatus pushes a status frame to the passenger's socket. A
// disconnected passenger is not an error; they catch up over HTTP.
func (g *Gateway) NotifyRideStatus(passengerID string, msg contracts.WSPassengerRideStatus) error {
	v, ok := g.passengers.Load(passengerID)
	if !ok {
		return nil
	}
	return g.writeJSON(v.(*websocket.Conn), msg)
}
