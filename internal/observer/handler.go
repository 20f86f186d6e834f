package observer

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/battysh/batty/internal/common/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// local dashboard only, no cross-origin concern
		return true
	},
}

// Handler upgrades inbound HTTP connections to dashboard websockets.
type Handler struct {
	hub    *Hub
	logger *logger.Logger
}

// NewHandler returns a Handler bound to hub.
func NewHandler(hub *Hub, log *logger.Logger) *Handler {
	return &Handler{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "observer_handler")),
	}
}

// HandleConnection upgrades the request and registers the resulting
// client with the hub.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade observer connection", zap.Error(err))
		return
	}

	clientID := uuid.New().String()
	h.logger.Debug("observer client connected", zap.String("client_id", clientID))

	client := NewClient(clientID, conn, h.hub, h.logger)
	h.hub.Register(client)

	go client.WritePump()
	client.ReadPump(c.Request.Context())
}
