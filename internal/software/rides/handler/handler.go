package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/jwt"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/ports"
)

// RideHTTPHandler adapts HTTP requests to the RideService.
type RideHTTPHandler struct {
	svc    ports.RideService
	logger *logger.Logger
	auth   *jwt.Manager
}

// NewRideHTTPHandler wires an HTTP handler around the RideService.
func NewRideHTTPHandler(svc ports.RideService, log *logger.Logger, auth *jwt.Manager) *RideHTTPHandler {
	return &RideHTTPHandler{svc: svc, logger: log, auth: auth}
}

// RegisterRoutes mounts ride endpoints on the provided mux.
func (handler *RideHTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /rides",
		jwt.AuthMiddlewareFunc(handler.auth, jwt.RolePassenger)(handler.handleCreate),
	)
	mux.HandleFunc("GET /rides/{ride_id}",
		jwt.AuthMiddlewareFunc(handler.auth, jwt.RolePassenger, jwt.RoleDriver)(handler.handleGet),
	)
	mux.HandleFunc("POST /rides/{ride_id}/cancel",
		jwt.AuthMiddlewareFunc(handler.auth, jwt.RolePassenger, jwt.RoleDriver)(handler.handleCancel),
	)

	mux.HandleFunc("POST /rides/{ride_id}/enroute",
		jwt.AuthMiddlewareFunc(handler.auth, jwt.RoleDriver)(handler.progressHandler(handler.svc.MarkEnRoute)),
	)
	mux.HandleFunc("POST /rides/{ride_id}/arrived",
		jwt.AuthMiddlewareFunc(handler.auth, jwt.RoleDriver)(handler.progressHandler(handler.svc.MarkArrived)),
	)
	mux.HandleFunc("POST /rides/{ride_id}/aboard",
		jwt.AuthMiddlewareFunc(handler.auth, jwt.RoleDriver)(handler.progressHandler(handler.svc.MarkAboard)),
	)
	mux.HandleFunc("POST /rides/{ride_id}/complete",
		jwt.AuthMiddlewareFunc(handler.auth, jwt.RoleDriver)(handler.progressHandler(handler.svc.Complete)),
	)

	mux.HandleFunc("GET /rides/health", handler.handleHealth)
}

func (handler *RideHTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	handler.jsonResponse(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

// ----- shared helpers -----

func (handler *RideHTTPHandler) jsonResponse(ctx context.Context, w http.ResponseWriter, status int, data any) {
	buf := []byte("{}")
	if data != nil {
		var err error
		buf, err = json.Marshal(data)
		if err != nil {
			handler.logger.Error(ctx, "response_encode_failed", "failed to encode response", err, nil)
			http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf)
}

func (handler *RideHTTPHandler) httpError(ctx context.Context, w http.ResponseWriter, status int, msg string, err error) {
	action := "request_failed"
	if status >= 500 {
		action = "http_internal_error"
	} else if status == http.StatusBadRequest {
		action = "validation_failed"
	}
	handler.logger.Error(ctx, action, msg, err, nil)

	type errBody struct {
		Error string `json:"error"`
	}
	handler.jsonResponse(ctx, w, status, errBody{Error: msg})
}

// rideError maps the domain error taxonomy to HTTP status codes.
func (handler *RideHTTPHandler) rideError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ride.ErrRequestNotFound):
		handler.httpError(ctx, w, http.StatusNotFound, "ride not found", err)
	case errors.Is(err, ride.ErrCancellationNotAllowed):
		handler.httpError(ctx, w, http.StatusConflict, "ride can no longer be cancelled", err)
	case errors.Is(err, ride.ErrInvalidTransition),
		errors.Is(err, ride.ErrRequestAlreadyResolved),
		errors.Is(err, ride.ErrVersionConflict):
		handler.httpError(ctx, w, http.StatusConflict, "ride state changed, retry", err)
	case errors.Is(err, ride.ErrAlreadyAssigned),
		errors.Is(err, ride.ErrNoDriverAssigned):
		handler.httpError(ctx, w, http.StatusForbidden, "ride is not assigned to this driver", err)
	case errors.Is(err, ride.ErrNotRideParticipant):
		handler.httpError(ctx, w, http.StatusForbidden, "not your ride", err)
	default:
		handler.httpError(ctx, w, http.StatusInternalServerError, "internal error", err)
	}
}

func (handler *RideHTTPHandler) withReqID(ctx context.Context, r *http.Request) context.Context {
	reqID := r.Header.Get("X-Request-ID")
	if strings.TrimSpace(reqID) == "" {
		var b [12]byte
		_, _ = rand.Read(b[:])
		reqID = hex.EncodeToString(b[:])
	}
	return handler.logger.WithRequestID(ctx, reqID)
}
