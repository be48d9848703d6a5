package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/jwt"
)

// ----- Handler: POST /rides/{ride_id}/cancel -----

type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (handler *RideHTTPHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	rideID := strings.TrimSpace(r.PathValue("ride_id"))
	if rideID == "" {
		handler.httpError(ctx, w, http.StatusBadRequest, "missing ride_id in path", nil)
		return
	}

	claims := jwt.RequireClaims(r)
	if claims == nil {
		handler.httpError(ctx, w, http.StatusUnauthorized, "missing auth claims", nil)
		return
	}

	var actor ride.CancelActor
	switch claims.Role {
	case jwt.RolePassenger:
		actor = ride.CancelByPassenger
	case jwt.RoleDriver:
		actor = ride.CancelByDriver
	default:
		handler.httpError(ctx, w, http.StatusForbidden, "role cannot cancel rides", nil)
		return
	}

	var req cancelRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // reason is optional
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := handler.svc.Cancel(ctxWithTimeout, rideID, actor, claims.Subject, req.Reason)
	if err != nil {
		handler.rideError(ctxWithTimeout, w, err)
		return
	}

	handler.jsonResponse(ctxWithTimeout, w, http.StatusOK, res)
}
