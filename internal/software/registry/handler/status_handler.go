package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"ride-dispatch/internal/domain/driver"
)

// ----- Handler: POST /drivers/{driver_id}/status -----

type statusRequest struct {
	Status string `json:"status"`
}

func (handler *RegistryHTTPHandler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
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

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	next, err := driver.ParseStatus(req.Status)
	if err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "invalid status", err)
		return
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := handler.svc.SetStatus(ctxWithTimeout, driverID, next); err != nil {
		switch {
		case errors.Is(err, driver.ErrDriverNotFound):
			handler.httpError(ctxWithTimeout, w, http.StatusNotFound, "driver is not registered", err)
		case errors.Is(err, driver.ErrInvalidStatusTransition):
			handler.httpError(ctxWithTimeout, w, http.StatusConflict, "status change not allowed", err)
		default:
			handler.httpError(ctxWithTimeout, w, http.StatusInternalServerError, "failed to change status", err)
		}
		return
	}

	handler.jsonResponse(ctxWithTimeout, w, http.StatusOK, map[string]string{
		"driver_id": driverID,
		"status":    next.String(),
	})
}
