package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/ports"
)

// ----- Handler: POST /drivers/{driver_id}/register -----

type registerRequest struct {
	VehicleType string  `json:"vehicle_type"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

func (handler *RegistryHTTPHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	driverID := strings.TrimSpace(r.PathValue("driver_id"))
	if driverID == "" {
		handler.httpError(ctx, w, http.StatusBadRequest, "missing driver_id in path", nil)
		return
	}
	if !subjectMatches(r, driverID) {
		handler.httpError(ctx, w, http.StatusForbidden, "driver_id does not match token subject", nil)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	vt, err := ride.ParseVehicleType(req.VehicleType)
	if err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "invalid vehicle_type", err)
		return
	}
	if !validCoords(req.Latitude, req.Longitude) {
		handler.httpError(ctx, w, http.StatusBadRequest, "coordinates out of range", nil)
		return
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := handler.svc.Register(ctxWithTimeout, ports.RegisterInput{
		DriverID:    driverID,
		VehicleType: vt,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
	})
	if err != nil {
		handler.httpError(ctxWithTimeout, w, http.StatusInternalServerError, "failed to register driver", err)
		return
	}

	handler.jsonResponse(ctxWithTimeout, w, http.StatusOK, res)
}

func validCoords(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
