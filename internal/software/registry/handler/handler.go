package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"ride-dispatch/internal/general/jwt"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/general/websocket"
	"ride-dispatch/internal/ports"
)

// RegistryHTTPHandler adapts HTTP requests to the RegistryService.
type RegistryHTTPHandler struct {
	svc     ports.RegistryService
	logger  *logger.Logger
	auth    *jwt.Manager
	gateway *websocket.Gateway
}

// NewRegistryHTTPHandler wires an HTTP handler around the RegistryService.
func NewRegistryHTTPHandler(
	svc ports.RegistryService,
	log *logger.Logger,
	auth *jwt.Manager,
	gateway *websocket.Gateway,
) *RegistryHTTPHandler {
	return &RegistryHTTPHandler{svc: svc, logger: log, auth: auth, gateway: gateway}
}

// RegisterRoutes mounts driver registry endpoints on the provided mux.
func (handler *RegistryHTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /drivers/{driver_id}/register",
		jwt.AuthMiddlewareFunc(handler.auth, jwt.RoleDriver)(handler.handleRegister),
	)
	mux.HandleFunc("POST /drivers/{driver_id}/location",
		jwt.AuthMiddlewareFunc(handler.auth, jwt.RoleDriver)(handler.handleUpdateLocation),
	)
	mux.HandleFunc("POST /drivers/{driver_id}/heartbeat",
		jwt.AuthMiddlewareFunc(handler.auth, jwt.RoleDriver)(handler.handleHeartbeat),
	)
	mux.HandleFunc("POST /drivers/{driver_id}/status",
		jwt.AuthMiddlewareFunc(handler.auth, jwt.RoleDriver)(handler.handleSetStatus),
	)

	// WebSocket endpoints authenticate with a first frame, not middleware
	mux.HandleFunc("GET /ws/driver/{driver_id}", handler.gateway.ConnectDriver)
	mux.HandleFunc("GET /ws/passenger/{passenger_id}", handler.gateway.ConnectPassenger)

	mux.HandleFunc("GET /drivers/health", handler.handleHealth)
	mux.HandleFunc("POST /tokens", handler.handleCreateToken)
}

func (handler *RegistryHTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	handler.jsonResponse(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

// ----- token minting (development convenience) -----

type TokenRequest struct {
	UserID string   `json:"user_id"`
	Role   jwt.Role `json:"role"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id"`
	Role      jwt.Role  `json:"role"`
}

func (handler *RegistryHTTPHandler) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		handler.httpError(ctx, w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	tokenString, claims, err := handler.auth.IssueToken(req.UserID, req.Role)
	if err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "failed to generate token", err)
		return
	}

	handler.jsonResponse(ctx, w, http.StatusCreated, TokenResponse{
		Token:     tokenString,
		ExpiresAt: claims.ExpiresAt.Time,
		UserID:    req.UserID,
		Role:      req.Role,
	})
}

// ----- shared helpers -----

// jsonResponse encodes data to the HTTP response, buffering first so a
// marshal failure can still change the status code.
func (handler *RegistryHTTPHandler) jsonResponse(ctx context.Context, w http.ResponseWriter, status int, data any) {
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

// httpError sends a JSON error response with a message.
func (handler *RegistryHTTPHandler) httpError(ctx context.Context, w http.ResponseWriter, status int, msg string, err error) {
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

// withReqID extracts or generates a request ID and adds it to the context.
func (handler *RegistryHTTPHandler) withReqID(ctx context.Context, r *http.Request) context.Context {
	reqID := r.Header.Get("X-Request-ID")
	if strings.TrimSpace(reqID) == "" {
		reqID = randID()
	}
	return handler.logger.WithRequestID(ctx, reqID)
}

// randID generates a random 24-char hex string suitable for request IDs.
func randID() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// subjectMatches verifies the path id against the token subject.
func subjectMatches(r *http.Request, pathID string) bool {
	claims := jwt.RequireClaims(r)
	if claims == nil {
		return false
	}
	sub := strings.TrimSpace(claims.Subject)
	return sub != "" && sub == pathID
}
