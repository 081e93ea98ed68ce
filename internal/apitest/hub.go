package apitest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// event is a realtime message as it travels on the wire.
type event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// roomEvent routes an event to one restaurant's room.
type roomEvent struct {
	RestaurantID int64
	Event        event
}

// hub maintains the set of connected subscribers per restaurant room and
// fans broadcasts out to them.
type hub struct {
	rooms map[int64]map[*wsClient]bool

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan *roomEvent

	mu sync.RWMutex
}

func newHub() *hub {
	return &hub{
		rooms:      make(map[int64]map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan *roomEvent, 256),
	}
}

// run is the hub's main loop, started as a goroutine.
func (h *hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.restaurantID] == nil {
				h.rooms[client.restaurantID] = make(map[*wsClient]bool)
			}
			h.rooms[client.restaurantID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.rooms[client.restaurantID]; ok {
				if _, exists := clients[client]; exists {
					delete(clients, client)
					close(client.send)
					if len(clients) == 0 {
						delete(h.rooms, client.restaurantID)
					}
				}
			}
			h.mu.Unlock()

		case ev := <-h.broadcast:
			h.mu.Lock()
			clients := h.rooms[ev.RestaurantID]

			message, err := json.Marshal(ev.Event)
			if err != nil {
				h.mu.Unlock()
				continue
			}

			for client := range clients {
				select {
				case client.send <- message:
				default:
					// Send buffer full, drop the client.
					close(client.send)
					delete(h.rooms[ev.RestaurantID], client)
					if len(h.rooms[ev.RestaurantID]) == 0 {
						delete(h.rooms, ev.RestaurantID)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// broadcastTo sends an event to every subscriber of one restaurant's room.
func (h *hub) broadcastTo(restaurantID int64, eventType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logrus.WithError(err).Error("apitest: marshal event payload")
		return
	}
	h.broadcast <- &roomEvent{
		RestaurantID: restaurantID,
		Event:        event{Type: eventType, Payload: raw},
	}
}

// wsClient is a single subscriber connection.
type wsClient struct {
	hub          *hub
	conn         *websocket.Conn
	restaurantID int64
	send         chan []byte
}

// readPump waits for disconnects; subscribers never send application
// messages on this channel.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump pumps hub messages to the connection, batching queued events
// into one frame separated by newlines.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// serveWS upgrades a request on /ws/restaurants/{rid} and registers the
// subscriber in that restaurant's room. The room is public; customers
// tracking their order have no credentials.
func serveWS(h *hub, w http.ResponseWriter, r *http.Request) {
	restaurantID, err := strconv.ParseInt(chi.URLParam(r, "rid"), 10, 64)
	if err != nil {
		http.Error(w, "invalid restaurant id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Error("apitest: websocket upgrade")
		return
	}

	client := &wsClient{
		hub:          h,
		conn:         conn,
		restaurantID: restaurantID,
		send:         make(chan []byte, 256),
	}
	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}
