package announce

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	hub *Hub
	log *logrus.Logger
}

func NewHandler(hub *Hub, log *logrus.Logger) *Handler {
	return &Handler{hub: hub, log: log}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/ws/slots", h.Subscribe)
}

// Subscribe godoc
// @Summary      Slot state announcements
// @Description  Upgrades to a WebSocket that receives hold, booking and release events
// @Tags         Announcements
// @Router       /ws/slots [get]
func (h *Handler) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	h.hub.ServeWS(conn)
}
