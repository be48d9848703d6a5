package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"ride-dispatch/internal/general/jwt"
	"ride-dispatch/internal/ports"
)

// progressFn is one of the RideService trip progression methods.
type progressFn func(ctx context.Context, rideID, driverID string) (ports.ProgressResult, error)

// progressHandler builds the handler for one driver progress endpoint
// (enroute, arrived, aboard, complete). They differ only in the service call.
func (handler *RideHTTPHandler) progressHandler(fn progressFn) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := handler.withReqID(r.Context(), r)

		rideID := strings.TrimSpace(r.PathValue("ride_id"))
		if rideID == "" {
			handler.httpError(ctx, w, http.StatusBadRequest, "missing ride_id in path", nil)
			return
		}

		claims := jwt.RequireClaims(r)
		if claims == nil || strings.TrimSpace(claims.Subject) == "" {
			handler.httpError(ctx, w, http.StatusUnauthorized, "missing auth claims", nil)
			return
		}

		ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		res, err := fn(ctxWithTimeout, rideID, claims.Subject)
		if err != nil {
			handler.rideError(ctxWithTimeout, w, err)
			return
		}

		handler.jsonResponse(ctxWithTimeout, w, http.StatusOK, res)
	}
}
