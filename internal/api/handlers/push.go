package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// WebsocketServer upgrades and serves one push client.
type WebsocketServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}

type PushHandler struct {
	hub WebsocketServer
}

func NewPushHandler(hub WebsocketServer) *PushHandler {
	return &PushHandler{hub: hub}
}

// Connect godoc
// @Summary Push channel
// @Description Websocket carrying connected, initial_data, analytics_update, detection_event, alert and threshold_updated messages
// @Tags push
// @Success 101 {string} string "Switching Protocols"
// @Router /ws [get]
func (h *PushHandler) Connect(c *gin.Context) {
	h.hub.ServeWS(c.Writer, c.Request)
}
