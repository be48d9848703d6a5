package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/jwt"
)

// ----- Handler: GET /rides/{ride_id} -----

type rideView struct {
	RideID         string             `json:"ride_id"`
	Status         string             `json:"status"`
	PassengerID    string             `json:"passenger_id"`
	AssignedDriver *string            `json:"assigned_driver,omitempty"`
	VehicleType    string             `json:"vehicle_type"`
	Pickup         geoPointBody       `json:"pickup_location"`
	Destination    geoPointBody       `json:"destination_location"`
	Estimate       *ride.FareEstimate `json:"estimate,omitempty"`
	OfferCount     int                `json:"offer_count"`
	CreatedAt      string             `json:"created_at"`
	UpdatedAt      string             `json:"updated_at"`
}

func (handler *RideHTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	rideID := strings.TrimSpace(r.PathValue("ride_id"))
	if rideID == "" {
		handler.httpError(ctx, w, http.StatusBadRequest, "missing ride_id in path", nil)
		return
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	request, err := handler.svc.GetRequest(ctxWithTimeout, rideID)
	if err != nil {
		handler.rideError(ctxWithTimeout, w, err)
		return
	}

	// passengers see only their own rides; drivers only assigned ones
	claims := jwt.RequireClaims(r)
	if claims != nil {
		switch claims.Role {
		case jwt.RolePassenger:
			if request.PassengerID != claims.Subject {
				handler.httpError(ctxWithTimeout, w, http.StatusForbidden, "not your ride", nil)
				return
			}
		case jwt.RoleDriver:
			if request.AssignedDriver == nil || *request.AssignedDriver != claims.Subject {
				handler.httpError(ctxWithTimeout, w, http.StatusForbidden, "ride is not assigned to you", nil)
				return
			}
		}
	}

	handler.jsonResponse(ctxWithTimeout, w, http.StatusOK, rideView{
		RideID:         request.ID,
		Status:         request.Status.String(),
		PassengerID:    request.PassengerID,
		AssignedDriver: request.AssignedDriver,
		VehicleType:    request.VehicleType.String(),
		Pickup: geoPointBody{
			Latitude:  request.Pickup.Latitude,
			Longitude: request.Pickup.Longitude,
			Address:   request.Pickup.Address,
		},
		Destination: geoPointBody{
			Latitude:  request.Destination.Latitude,
			Longitude: request.Destination.Longitude,
			Address:   request.Destination.Address,
		},
		Estimate:   request.Estimate,
		OfferCount: len(request.OfferHistory),
		CreatedAt:  request.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  request.UpdatedAt.Format(time.RFC3339),
	})
}
