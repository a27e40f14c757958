// Websocket entry point.
//
// This file upgrades GET /ws into a relay session. Identity binding happens
// inside the socket protocol (the register event), not at upgrade time, so
// the upgrade itself only needs a working websocket handshake.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/lessonlink/go-notify-backend/internal/http/middleware"
	"github.com/lessonlink/go-notify-backend/internal/relay"
)

// WSHandler upgrades HTTP connections into relay sessions.
type WSHandler struct {
	Hub      *relay.Hub
	upgrader websocket.Upgrader
}

// NewWSHandler constructs a WSHandler for hub. Origin checking is delegated
// to the CORS layer; the upgrader accepts any origin.
func NewWSHandler(hub *relay.Hub) *WSHandler {
	return &WSHandler{
		Hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 << 10,
			WriteBufferSize: 4 << 10,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Serve performs the upgrade and runs the session pumps until disconnect.
func (h *WSHandler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote its own HTTP error; just log.
		middleware.LoggerFrom(c).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := relay.NewClient(h.Hub, conn, log.Logger)
	client.Run(c.Request.Context())
}
