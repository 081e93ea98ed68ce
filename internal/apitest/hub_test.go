package apitest

import (
	"encoding/json"
	"testing"
	"time"
)

func testClient(h *hub, restaurantID int64) *wsClient {
	return &wsClient{
		hub:          h,
		restaurantID: restaurantID,
		send:         make(chan []byte, 256),
	}
}

func TestHubRegistration(t *testing.T) {
	h := newHub()
	go h.run()

	client := testClient(h, 1)
	h.register <- client
	time.Sleep(10 * time.Millisecond)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.rooms[1] == nil || !h.rooms[1][client] {
		t.Fatal("client not registered in restaurant room")
	}
}

func TestHubUnregisterCleansEmptyRoom(t *testing.T) {
	h := newHub()
	go h.run()

	client := testClient(h, 1)
	h.register <- client
	time.Sleep(10 * time.Millisecond)

	h.unregister <- client
	time.Sleep(10 * time.Millisecond)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.rooms[1] != nil {
		t.Fatal("room should be deleted when the last client leaves")
	}
}

func TestBroadcastStaysInRoom(t *testing.T) {
	h := newHub()
	go h.run()

	client1 := testClient(h, 1)
	client2 := testClient(h, 2)
	h.register <- client1
	h.register <- client2
	time.Sleep(10 * time.Millisecond)

	h.broadcastTo(1, "order_status_updated", map[string]any{"id": 7, "status": "PAID"})

	select {
	case msg := <-client1.send:
		var received event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if received.Type != "order_status_updated" {
			t.Errorf("type = %s", received.Type)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("room member did not receive broadcast")
	}

	select {
	case <-client2.send:
		t.Fatal("broadcast leaked into another restaurant's room")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastReachesAllRoomMembers(t *testing.T) {
	h := newHub()
	go h.run()

	clients := []*wsClient{testClient(h, 1), testClient(h, 1), testClient(h, 1)}
	for _, c := range clients {
		h.register <- c
	}
	time.Sleep(10 * time.Millisecond)

	h.broadcastTo(1, "new_order", map[string]any{"id": 3})

	for i, c := range clients {
		select {
		case <-c.send:
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("client %d did not receive broadcast", i)
		}
	}
}

func TestBroadcastToEmptyRoomIsSafe(t *testing.T) {
	h := newHub()
	go h.run()

	client := testClient(h, 1)
	h.register <- client
	time.Sleep(10 * time.Millisecond)

	h.broadcastTo(99, "new_order", map[string]any{"id": 1})

	select {
	case <-client.send:
		t.Fatal("client received broadcast for a different room")
	case <-time.After(50 * time.Millisecond):
	}
}
