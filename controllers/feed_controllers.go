package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/yeremiapane/settlement-engine/hub"
	"github.com/yeremiapane/settlement-engine/middlewares"
	"github.com/yeremiapane/settlement-engine/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// FeedHandler upgrades the operator connection and keeps it registered until
// the client goes away.
func FeedHandler(h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			utils.ErrorLogger.Printf("Websocket upgrade failed: %v", err)
			return
		}

		userID := middlewares.CurrentUserID(c)
		h.Register(ws, userID)
		utils.InfoLogger.Printf("Operator %d joined the feed", userID)

		defer h.Unregister(ws)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}
}
