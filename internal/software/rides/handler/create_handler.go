package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/jwt"
	"ride-dispatch/internal/ports"
)

// ----- Handler: POST /rides -----

type geoPointBody struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

type createRideRequest struct {
	VehicleType string       `json:"vehicle_type"`
	Pickup      geoPointBody `json:"pickup_location"`
	Destination geoPointBody `json:"destination_location"`
}

func (handler *RideHTTPHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	claims := jwt.RequireClaims(r)
	if claims == nil || strings.TrimSpace(claims.Subject) == "" {
		handler.httpError(ctx, w, http.StatusUnauthorized, "missing auth claims", nil)
		return
	}
	passengerID := claims.Subject

	var req createRideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	vt, err := ride.ParseVehicleType(req.VehicleType)
	if err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "invalid vehicle_type", err)
		return
	}
	if !validCoords(req.Pickup.Latitude, req.Pickup.Longitude) ||
		!validCoords(req.Destination.Latitude, req.Destination.Longitude) {
		handler.httpError(ctx, w, http.StatusBadRequest, "coordinates out of range", nil)
		return
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res, err := handler.svc.CreateRequest(ctxWithTimeout, ports.CreateRequestInput{
		PassengerID: passengerID,
		VehicleType: vt,
		Pickup: ride.GeoPoint{
			Latitude:  req.Pickup.Latitude,
			Longitude: req.Pickup.Longitude,
			Address:   req.Pickup.Address,
		},
		Destination: ride.GeoPoint{
			Latitude:  req.Destination.Latitude,
			Longitude: req.Destination.Longitude,
			Address:   req.Destination.Address,
		},
	})
	if err != nil {
		handler.rideError(ctxWithTimeout, w, err)
		return
	}

	handler.jsonResponse(ctxWithTimeout, w, http.StatusCreated, res)
}

func validCoords(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
