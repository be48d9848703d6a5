package websocket

import (
	"net/http"
	"time"

	"ride-dispatch/internal/general/jwt"

	"github.com/gorilla/websocket"
)

// ConnectPassenger handles WebSocket connections from passengers. The socket
// is receive-mostly: the passenger gets ride status pushes and only ever
// sends keepalive traffic.
func (g *Gateway) ConnectPassenger(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error(r.Context(), "websocket_upgrade_failed", "failed to upgrade to websocket", err, nil)
		return
	}
	defer conn.Close()
	defer g.writeLocks.Delete(conn)

	passengerID, err := g.authenticate(conn, jwt.RolePassenger)
	if err != nil {
		g.logger.Error(r.Context(), "ws_auth_failed", "passenger auth failed", err, nil)
		return
	}

	if pathID := r.PathValue("passenger_id"); pathID != "" && pathID != passengerID {
		g.logger.Error(r.Context(), "ws_auth_failed", "passenger id mismatch", nil, map[string]any{
			"path_passenger_id": pathID,
			"token_subject":     passengerID,
		})
		g.sendAuthError(conn, "passenger id mismatch")
		return
	}

	if err := g.sendAuthSuccess(conn, "passenger_id", passengerID); err != nil {
		return
	}
	g.logger.Info(r.Context(), "ws_connected", "passenger websocket connected",
		map[string]any{"passenger_id": passengerID})

	_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	conn.SetPongHandler(func(_ string) error {
		return conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go g.pingLoop(conn, done)

	g.passengers.Store(passengerID, conn)
	defer g.passengers.Delete(passengerID)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				g.logger.Error(r.Context(), "ws_unexpected_close", "passenger connection closed unexpectedly", err,
					map[string]any{"passenger_id": passengerID})
			} else {
				g.logger.Info(r.Context(), "ws_connection_closed", "passenger connection closed",
					map[string]any{"passenger_id": passengerID})
				g.writeClose(conn, websocket.CloseNormalClosure, "bye")
			}
			return
		}
	}
}
