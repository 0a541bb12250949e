package httpgin

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/avelinsk/seatwave/internal/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The browser client lives on a different origin; the messages carry no
	// credentials and every write path is re-validated server side.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// @Summary  Seat-map websocket
// @Success  101 {string} string "switching protocols"
// @Router   /ws [get]
func handleWebsocket(hub *realtime.Hub, dispatcher *realtime.Dispatcher, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the error response.
			logger.Warn("websocket upgrade failed",
				slog.String("ip", c.ClientIP()),
				slog.Any("error", err),
			)
			return
		}

		client := realtime.NewClient(uuid.NewString(), conn, hub, dispatcher)

		logger.Debug("websocket connected", slog.String("conn_id", client.ID()))
		client.Run(c.Request.Context())
		logger.Debug("websocket disconnected", slog.String("conn_id", client.ID()))
	}
}
