package handlers

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/flowscript/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for now (TODO: configure CORS properly in production)
		return true
	},
}

// StreamEvents upgrades to a WebSocket and streams one execution's event
// lane: buffered events first (drain), then everything published live,
// exactly the subscribe contract internal/bridge implements.
func (h *Handlers) StreamEvents(c echo.Context) error {
	executionID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "executionId", executionID, "error", err)
		return nil
	}
	defer conn.Close()

	var writeMu sync.Mutex
	deliver := func(ev events.Event) {
		payload, err := json.Marshal(ev)
		if err != nil {
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.WriteMessage(websocket.TextMessage, payload)
	}

	unsubscribe, err := h.manager.Subscribe(executionID, deliver, nil)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, err.Error()))
		return nil
	}
	defer unsubscribe()

	// The connection only needs to stay open for delivery; the client never
	// sends anything meaningful back, so read until it closes the socket.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}
