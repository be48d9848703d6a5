package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"ride-dispatch/internal/domain/driver"
	"ride-dispatch/internal/general/contracts"
	"ride-dispatch/internal/general/jwt"
	"ride-dispatch/internal/ports"

	"github.com/gorilla/websocket"
)

// ConnectDriver handles WebSocket connections from drivers with first-frame
// JWT auth. While connected, the driver can answer offers and stream
// heartbeats with position.
func (g *Gateway) ConnectDriver(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error(r.Context(), "websocket_upgrade_failed", "failed to upgrade to websocket", err, nil)
		return
	}
	defer conn.Close()
	defer g.writeLocks.Delete(conn)

	driverID, err := g.authenticate(conn, jwt.RoleDriver)
	if err != nil {
		g.logger.Error(r.Context(), "ws_auth_failed", "driver auth failed", err, nil)
		return
	}

	// path param must match the token subject
	if pathID := r.PathValue("driver_id"); pathID != "" && pathID != driverID {
		g.logger.Error(r.Context(), "ws_auth_failed", "driver id mismatch", nil, map[string]any{
			"path_driver_id": pathID,
			"token_subject":  driverID,
		})
		g.sendAuthError(conn, "driver id mismatch")
		return
	}

	if err := g.sendAuthSuccess(conn, "driver_id", driverID); err != nil {
		return
	}
	g.logger.Info(r.Context(), "ws_connected", "driver websocket connected",
		map[string]any{"driver_id": driverID})

	_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	conn.SetPongHandler(func(_ string) error {
		return conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go g.pingLoop(conn, done)

	g.drivers.Store(driverID, conn)
	defer g.drivers.Delete(driverID)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				g.logger.Error(r.Context(), "ws_unexpected_close", "driver connection closed unexpectedly", err,
					map[string]any{"driver_id": driverID})
			} else {
				g.logger.Info(r.Context(), "ws_connection_closed", "driver connection closed",
					map[string]any{"driver_id": driverID})
				g.writeClose(conn, websocket.CloseNormalClosure, "bye")
			}
			break
		}

		var msg struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil {
			_ = g.writeMessage(conn, websocket.TextMessage, []byte(`{"type":"error","error":"bad json"}`))
			continue
		}

		switch msg.Type {
		case "offer_response":
			if err := g.handleOfferResponse(driverID, msg.Data); err != nil {
				g.logger.Error(r.Context(), "driver_ws_message_failed", "offer response publish failed", err,
					map[string]any{"driver_id": driverID})
				_ = g.writeMessage(conn, websocket.TextMessage, []byte(`{"type":"error","error":"failed to submit response"}`))
			}

		case "heartbeat":
			if err := g.handleHeartbeat(r.Context(), driverID, msg.Data); err != nil {
				g.logger.Debug(r.Context(), "driver_heartbeat_failed", "heartbeat handling failed",
					map[string]any{"driver_id": driverID, "error": err.Error()})
			}

		case "status":
			if err := g.handleStatusChange(r.Context(), driverID, msg.Data); err != nil {
				g.logger.Error(r.Context(), "driver_ws_message_failed", "status change failed", err,
					map[string]any{"driver_id": driverID})
				_ = g.writeMessage(conn, websocket.TextMessage, []byte(`{"type":"error","error":"failed to change status"}`))
			}

		default:
			_ = g.writeMessage(conn, websocket.TextMessage, []byte(`{"type":"error","error":"unknown message type"}`))
		}
	}
}

// handleOfferResponse publishes a driver's accept or reject to the broker.
// The coordinator, not the gateway, decides whether the answer still counts.
func (g *Gateway) handleOfferResponse(driverID string, data json.RawMessage) error {
	var in contracts.WSOfferResponse
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	out := contracts.DriverOfferResponse{
		RideID:   in.RideID,
		OfferID:  in.OfferID,
		DriverID: driverID,
		Accepted: in.Accepted,
		Envelope: contracts.Envelope{
			Producer: "dispatch-service",
			SentAt:   time.Now().UTC(),
		},
	}
	body, err := json.Marshal(out)
	if err != nil {
		return err
	}

	return g.pub.Publish(contracts.ExchangeDriverTopic, contracts.RouteDriverRespPrefix+in.RideID, body)
}

// handleHeartbeat refreshes liveness and, when present, the position.
func (g *Gateway) handleHeartbeat(ctx context.Context, driverID string, data json.RawMessage) error {
	var in contracts.WSDriverHeartbeat
	if len(data) > 0 {
		if err := json.Unmarshal(data, &in); err != nil {
			return err
		}
	}
	if in.LocatedAt.IsZero() {
		in.LocatedAt = time.Now().UTC()
	}

	return g.registry.Heartbeat(ctx, ports.LocationInput{
		DriverID:  driverID,
		Latitude:  in.Latitude,
		Longitude: in.Longitude,
		LocatedAt: in.LocatedAt,
	})
}

// handleStatusChange applies a driver-requested ONLINE/OFFLINE toggle.
func (g *Gateway) handleStatusChange(ctx context.Context, driverID string, data json.RawMessage) error {
	var in struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	next, err := driver.ParseStatus(in.Status)
	if err != nil {
		return err
	}
	return g.registry.SetStatus(ctx, driverID, next)
}
