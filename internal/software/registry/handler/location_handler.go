package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"ride-dispatch/internal/domain/driver"
	"ride-dispatch/internal/ports"
)

// ----- Handler: POST /drivers/{driver_id}/location -----

type locationRequest struct {
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	LocatedAt *time.Time `json:"located_at,omitempty"`
}

func (handler *RegistryHTTPHandler) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
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

	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if !validCoords(req.Latitude, req.Longitude) {
		handler.httpError(ctx, w, http.StatusBadRequest, "coordinates out of range", nil)
		return
	}

	locatedAt := time.Now().UTC()
	if req.LocatedAt != nil {
		locatedAt = req.LocatedAt.UTC()
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := handler.svc.UpdateLocation(ctxWithTimeout, ports.LocationInput{
		DriverID:  driverID,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		LocatedAt: locatedAt,
	})
	if err != nil {
		if errors.Is(err, driver.ErrDriverNotFound) {
			handler.httpError(ctxWithTimeout, w, http.StatusNotFound, "driver is not registered", err)
			return
		}
		handler.httpError(ctxWithTimeout, w, http.StatusInternalServerError, "failed to update location", err)
		return
	}

	handler.jsonResponse(ctxWithTimeout, w, http.StatusOK, map[string]any{
		"driver_id":  driverID,
		"updated_at": locatedAt.Format(time.RFC3339),
	})
}

// ----- Handler: POST /drivers/{driver_id}/heartbeat -----

func (handler *RegistryHTTPHandler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
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

	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := handler.svc.Heartbeat(ctxWithTimeout, ports.LocationInput{
		DriverID:  driverID,
		LocatedAt: time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, driver.ErrDriverNotFound) {
			handler.httpError(ctxWithTimeout, w, http.StatusNotFound, "driver is not registered", err)
			return
		}
		handler.httpError(ctxWithTimeout, w, http.StatusInternalServerError, "failed to record heartbeat", err)
		return
	}

	handler.jsonResponse(ctxWithTimeout, w, http.StatusOK, map[string]string{"status": "ok"})
}
