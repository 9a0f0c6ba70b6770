// README: WebSocket endpoints registering driver and tenant-admin sessions with the notification hub.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"fleetdispatch/internal/logger"
	"fleetdispatch/internal/modules/notify"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

type WSHandler struct {
	hub      *notify.Hub
	upgrader websocket.Upgrader
	log      logger.Logger
}

func NewWSHandler(hub *notify.Hub, log logger.Logger) *WSHandler {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log,
	}
}

func (h *WSHandler) Driver(c *gin.Context) {
	h.serve(c, notify.DriverKey(c.Param("id")))
}

func (h *WSHandler) Admins(c *gin.Context) {
	h.serve(c, notify.AdminKey(c.Param("id")))
}

// serve upgrades the request and keeps the session registered until the
// peer goes away. Inbound frames are discarded.
func (h *WSHandler) serve(c *gin.Context, key string) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warnf("websocket upgrade for %s: %v", key, err)
		return
	}
	remove := h.hub.Add(key, conn)
	defer remove()

	done := make(chan struct{})
	defer close(done)
	go h.ping(conn, done)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WSHandler) ping(conn *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
