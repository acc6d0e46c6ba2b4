package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mtchat/mtchat/internal/apperr"
	"github.com/mtchat/mtchat/internal/pkg/response"
	"github.com/mtchat/mtchat/internal/presence"
	"github.com/mtchat/mtchat/internal/ws"
	"go.uber.org/zap"
)

// WSHandler upgrades HTTP connections to the chat hub's WebSocket
// protocol and keeps presence in step with connection lifecycle.
type WSHandler struct {
	hub      *ws.Hub
	presence *presence.Service
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(hub *ws.Hub, pres *presence.Service, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		hub:      hub,
		presence: pres,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Embeddable widget is served cross-origin by design; the
			// actual access check happens at the scope-auth layer on
			// every dialog operation, not at the socket handshake.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Serve handles GET /ws
func (h *WSHandler) Serve(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		response.Error(c, apperr.Validation("user_id is required"))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := ws.NewClient(h.hub, conn, userID, h.logger)

	ctx := c.Request.Context()
	if h.presence != nil {
		h.presence.MarkOnline(ctx, userID)
	}

	client.Send(ws.Event{Type: "connected", UserID: userID})

	client.Serve()
}
