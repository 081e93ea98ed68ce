// Package ws is the client end of the realtime event channel. A
// Subscriber joins one restaurant's room and dispatches incoming events to
// registered handlers. The channel is a redundancy layer over polling, so
// every failure path here degrades silently instead of propagating.
package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// If no message (including the server's pings) arrives within this
	// window the connection is considered dead
	pongWait = 60 * time.Second
)

// Event is the wire shape of a realtime message.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Handler consumes one event payload. Handlers run on the read goroutine;
// keep them short.
type Handler = func(payload json.RawMessage)

// Subscriber is a live subscription to one restaurant's event room.
type Subscriber struct {
	conn *websocket.Conn

	mu       sync.Mutex
	handlers map[string][]Handler

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the event channel and joins the room for restaurantID.
// The returned Subscriber is already reading; register handlers with On.
func Dial(ctx context.Context, wsBaseURL string, restaurantID int64) (*Subscriber, error) {
	url := fmt.Sprintf("%s/ws/restaurants/%d", wsBaseURL, restaurantID)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	s := &Subscriber{
		conn:     conn,
		handlers: make(map[string][]Handler),
		done:     make(chan struct{}),
	}
	go s.readPump()
	return s, nil
}

// On registers a handler for an event type. Multiple handlers per type
// are allowed and run in registration order.
func (s *Subscriber) On(eventType string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[eventType] = append(s.handlers[eventType], h)
}

// Done closes when the subscription ends, whether by Close or by the
// server going away.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Close tears the subscription down. Safe to call more than once and
// concurrently with a server-side disconnect.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		// Best effort: tell the server we are leaving before dropping
		// the connection.
		deadline := time.Now().Add(writeWait)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = s.conn.Close()
		close(s.done)
	})
}

// readPump reads frames until the connection dies. The server batches
// queued events into one frame separated by newlines, so each frame may
// hold several events.
func (s *Subscriber) readPump() {
	defer s.Close()

	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPingHandler(func(appData string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return s.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logrus.WithError(err).Debug("ws: connection lost")
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		for _, frame := range bytes.Split(message, []byte{'\n'}) {
			if len(bytes.TrimSpace(frame)) == 0 {
				continue
			}
			var event Event
			if err := json.Unmarshal(frame, &event); err != nil {
				logrus.WithError(err).Debug("ws: dropping malformed event")
				continue
			}
			s.dispatch(event)
		}
	}
}

func (s *Subscriber) dispatch(event Event) {
	s.mu.Lock()
	handlers := make([]Handler, len(s.handlers[event.Type]))
	copy(handlers, s.handlers[event.Type])
	s.mu.Unlock()

	for _, h := range handlers {
		h(event.Payload)
	}
}
