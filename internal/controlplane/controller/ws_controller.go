package controller

import (
	"encoding/json"
	"net/http"
	"time"

	"sandboxd/internal/controlplane/hub"
	"sandboxd/internal/controlplane/service"
	"sandboxd/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	readLimit = 32 * 1024
	pongWait  = 90 * time.Second
)

// RealtimeController upgrades HTTP connections to WebSocket and bridges
// client messages into the hub and terminal sessions.
type RealtimeController struct {
	hub          *hub.Hub
	environments *service.EnvironmentService
	upgrader     websocket.Upgrader
	log          *zap.Logger
}

// NewRealtimeController creates a new RealtimeController. checkOrigin nil
// means same-origin only, gorilla's default.
func NewRealtimeController(h *hub.Hub, environments *service.EnvironmentService, checkOrigin func(r *http.Request) bool, log *zap.Logger) *RealtimeController {
	if log == nil {
		log = zap.NewNop()
	}
	return &RealtimeController{
		hub:          h,
		environments: environments,
		log:          log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Attach upgrades the request and services the connection until the client
// disconnects.
func (h *RealtimeController) Attach(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	clientID := uuid.NewString()
	h.hub.Register(clientID, callerID(c), conn)
	h.log.Info("websocket client connected",
		zap.String("client_id", clientID),
		zap.String("remote", conn.RemoteAddr().String()))

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		h.hub.RecordLiveness(clientID, time.Now())
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	h.readLoop(clientID, conn)

	h.hub.Unregister(clientID)
	_ = conn.Close()
	h.log.Info("websocket client disconnected", zap.String("client_id", clientID))
}

func (h *RealtimeController) readLoop(clientID string, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("websocket read error",
					zap.String("client_id", clientID), zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		h.hub.RecordLiveness(clientID, time.Now())

		var msg hub.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.hub.SendError(clientID, "malformed message")
			continue
		}
		h.dispatch(clientID, msg)
	}
}

// Stats reports current hub occupancy.
func (h *RealtimeController) Stats(c *gin.Context) {
	response.Success(c, h.hub.Stats())
}

func (h *RealtimeController) dispatch(clientID string, msg hub.ClientMessage) {
	switch msg.Type {
	case hub.ClientSubscribeEnvironment:
		if msg.EnvironmentID == "" {
			h.hub.SendError(clientID, "environmentId required")
			return
		}
		if _, err := h.environments.Get(msg.EnvironmentID); err != nil {
			h.hub.SendError(clientID, "unknown environment "+msg.EnvironmentID)
			return
		}
		h.hub.SubscribeEnvironment(clientID, msg.EnvironmentID)
	case hub.ClientUnsubscribeEnvironment:
		h.hub.UnsubscribeEnvironment(clientID, msg.EnvironmentID)
	case hub.ClientSubscribeSession:
		if msg.SessionID == "" {
			h.hub.SendError(clientID, "sessionId required")
			return
		}
		h.hub.SubscribeSession(clientID, msg.SessionID)
	case hub.ClientUnsubscribeSession:
		h.hub.UnsubscribeSession(clientID, msg.SessionID)
	case hub.ClientTerminalInput:
		if err := h.environments.WriteTerminal(msg.SessionID, []byte(msg.Data)); err != nil {
			h.hub.SendError(clientID, "terminal write failed")
		}
	case hub.ClientPing:
		// liveness already recorded on receipt
	default:
		h.hub.SendError(clientID, "unknown message type "+msg.Type)
	}
}
