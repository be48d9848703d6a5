package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"ride-dispatch/internal/general/jwt"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/ports"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout   = 5 * time.Second
	wsCloseAckWindow = 2 * time.Second
	ctrlTimeout      = 5 * time.Second
	readIdleTimeout  = 60 * time.Second
	pingInterval     = 30 * time.Second
	authWindow       = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Gateway owns the live driver and passenger sockets. Auth is the first
// frame; after that the registries below are the only lookup path for
// outbound pushes.
type Gateway struct {
	logger   *logger.Logger
	jwtMgr   *jwt.Manager
	pub      ports.MessagePublisher
	registry ports.RegistryService

	writeLocks sync.Map // *websocket.Conn -> *sync.Mutex
	drivers    sync.Map // driverID(string) -> *websocket.Conn
	passengers sync.Map // passengerID(string) -> *websocket.Conn
}

// NewGateway creates the WebSocket gateway.
func NewGateway(log *logger.Logger, jwtMgr *jwt.Manager, pub ports.MessagePublisher, registry ports.RegistryService) *Gateway {
	return &Gateway{
		logger:   log,
		jwtMgr:   jwtMgr,
		pub:      pub,
		registry: registry,
	}
}

// lockOf returns the writer mutex for a specific connection.
func (g *Gateway) lockOf(conn *websocket.Conn) *sync.Mutex {
	if v, ok := g.writeLocks.Load(conn); ok {
		if mu, ok := v.(*sync.Mutex); ok && mu != nil {
			return mu
		}
	}
	mu := &sync.Mutex{}
	actual, _ := g.writeLocks.LoadOrStore(conn, mu)
	return actual.(*sync.Mutex)
}

// writeMessage sets a short write deadline and writes a single frame under
// the per-connection lock.
func (g *Gateway) writeMessage(conn *websocket.Conn, mt int, payload []byte) error {
	mu := g.lockOf(conn)
	mu.Lock()
	defer mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(mt, payload)
}

// writeJSON marshals v and writes it as one text frame.
func (g *Gateway) writeJSON(conn *websocket.Conn, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return g.writeMessage(conn, websocket.TextMessage, payload)
}

// writeClose sends a close control frame with the given code and reason.
func (g *Gateway) writeClose(conn *websocket.Conn, code int, reason string) {
	mu := g.lockOf(conn)
	mu.Lock()
	defer mu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(wsCloseAckWindow),
	)
	g.writeLocks.Delete(conn)
}

func (g *Gateway) sendAuthError(conn *websocket.Conn, message string) {
	_ = g.writeJSON(conn, map[string]any{
		"type":    "auth_error",
		"error":   message,
		"success": false,
	})
}

func (g *Gateway) sendAuthSuccess(conn *websocket.Conn, idField, id string) error {
	return g.writeJSON(conn, map[string]any{
		"type":      "auth_success",
		"success":   true,
		idField:     id,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// authenticate runs the first-frame handshake and returns the token subject.
func (g *Gateway) authenticate(conn *websocket.Conn, role jwt.Role) (string, error) {
	conn.SetReadLimit(1 << 20) // 1 MiB
	if err := conn.SetReadDeadline(time.Now().Add(authWindow)); err != nil {
		g.sendAuthError(conn, "internal server error")
		return "", err
	}

	msgType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		g.sendAuthError(conn, "authentication timeout: send auth message within 5 seconds")
		return "", err
	}
	if msgType != websocket.TextMessage {
		g.sendAuthError(conn, "auth message must be in text format")
		return "", jwt.ErrBadAuthMsg
	}

	res, err := jwt.ValidateWSAuth(firstFrame, g.jwtMgr, role)
	if err != nil {
		g.sendAuthError(conn, "authentication failed: invalid token")
		return "", err
	}

	return res.Claims.Subject, nil
}

// pingLoop keeps the connection alive until a write fails, then closes the
// socket to unblock the reader.
func (g *Gateway) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			mu := g.lockOf(conn)
			mu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(ctrlTimeout))
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctrlTimeout))
			mu.Unlock()
			if err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
