package handlers

import (
	"context"
	"net/http"
	"time"

	"branch-orders-api/config"
	"branch-orders-api/logger"
	"branch-orders-api/middleware"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = (feedPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // tablets connect from native apps without an Origin
	},
}

// OrderFeed streams the branch's order change events over a WebSocket
func OrderFeed(c *gin.Context) {
	branchID := middleware.GetBranchID(c)
	log := logger.For("feed").WithField("branch_id", branchID)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Subscribe before upgrading so a broker failure is still an HTTP error.
	sub, err := config.Events.Subscribe(ctx, branchID)
	if err != nil {
		log.WithError(err).Error("failed to subscribe to order events")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Change feed unavailable"})
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()
	log.Info("feed subscriber connected")

	// The reader only handles control frames and notices the peer leaving.
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(feedPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(feedPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(feedWriteWait))
			log.Info("feed subscriber disconnected")
			return
		case ev, ok := <-sub.Events():
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"),
					time.Now().Add(feedWriteWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.WithError(err).Warn("failed to write change event")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
