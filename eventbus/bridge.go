package eventbus

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebsocketBridge relays every published Event to connected websocket
// clients as a JSON frame, for external observers such as a desktop UI: one
// upgrade handler, a read loop kept alive only to notice disconnects, and a
// write deadline so a stalled client gets dropped instead of stalling the
// bridge.
type WebsocketBridge struct {
	bus *Bus
}

// NewWebsocketBridge returns a bridge publishing bus's events to subscribers.
func NewWebsocketBridge(bus *Bus) *WebsocketBridge {
	return &WebsocketBridge{bus: bus}
}

// Handle upgrades the request to a websocket and streams events to it until
// the client disconnects or falls behind.
func (w *WebsocketBridge) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("eventbus: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := w.bus.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			frame, err := json.Marshal(evt)
			if err != nil {
				log.Printf("eventbus: marshal event %s: %v", evt.Kind, err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Printf("eventbus: websocket write error: %v", err)
				return
			}
		case <-done:
			return
		}
	}
}
