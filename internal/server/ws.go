package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/palmreader/internal/log"
	"github.com/ayusman/palmreader/internal/session"
)

const (
	writeWait  = 5 * time.Second
	clientSend = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// ViewSource publishes view changes.
type ViewSource interface {
	View() session.View
	Subscribe(fn session.Observer) func()
}

// event is one message on /api/events.
type event struct {
	Type string       `json:"type"`
	View session.View `json:"view"`
	At   int64        `json:"timestamp"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// EventsHandler pushes every view change to connected WebSocket clients.
type EventsHandler struct {
	source      ViewSource
	clients     map[*client]bool
	mu          sync.Mutex
	seq         uint64
	unsubscribe func()
}

// NewEventsHandler subscribes to source and fans its views out to clients.
func NewEventsHandler(source ViewSource) *EventsHandler {
	h := &EventsHandler{
		source:  source,
		clients: make(map[*client]bool),
	}
	h.unsubscribe = source.Subscribe(h.publish)
	return h
}

// ServeHTTP handles WebSocket upgrade requests. The current view is sent
// first, then every change.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn(log.Fields{"error": err.Error()}, "websocket upgrade failed")
		return
	}
	defer conn.Close()

	c := &client{conn: conn, send: make(chan []byte, clientSend)}
	c.send <- encodeEvent(h.source.View())

	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range c.send {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	<-done
}

// publish queues v for every client. Slow clients miss updates rather
// than stalling the session. Views older than one already published are
// dropped.
func (h *EventsHandler) publish(v session.View) {
	msg := encodeEvent(v)

	h.mu.Lock()
	defer h.mu.Unlock()
	if !v.Newer(h.seq) {
		log.Debug(log.Fields{"state": string(v.State), "seq": v.Seq, "latest": h.seq}, "dropping stale view")
		return
	}
	h.seq = v.Seq
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			log.Debug(log.Fields{"state": string(v.State)}, "dropping view update for slow client")
		}
	}
}

// Clients returns the number of connected clients.
func (h *EventsHandler) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close stops listening for view changes.
func (h *EventsHandler) Close() {
	h.unsubscribe()
}

func encodeEvent(v session.View) []byte {
	msg, _ := json.Marshal(event{Type: "view", View: v, At: time.Now().UnixMilli()})
	return msg
}
