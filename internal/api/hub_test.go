package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// ─── Feed Hub Tests ─────────────────────────────────────────────────────────

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, got %d", n, hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_BroadcastAndSubscribe(t *testing.T) {
	hub := NewHub()

	ch, unsub := hub.Subscribe()
	defer unsub()

	if hub.ClientCount() != 1 {
		t.Errorf("expected 1 client, got %d", hub.ClientCount())
	}

	hub.Broadcast(FeedEvent{Type: "visit", Data: map[string]int{"points": 90}, Timestamp: 1000})

	select {
	case data := <-ch:
		var received struct {
			Type string         `json:"type"`
			Data map[string]int `json:"data"`
		}
		if err := json.Unmarshal(data, &received); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if received.Type != "visit" {
			t.Errorf("expected type visit, got %s", received.Type)
		}
		if received.Data["points"] != 90 {
			t.Errorf("expected points 90, got %d", received.Data["points"])
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
	}
}

func TestHub_MultipleClients(t *testing.T) {
	hub := NewHub()

	ch1, unsub1 := hub.Subscribe()
	ch2, unsub2 := hub.Subscribe()
	defer unsub1()
	defer unsub2()

	if hub.ClientCount() != 2 {
		t.Errorf("expected 2 clients, got %d", hub.ClientCount())
	}

	hub.Broadcast(FeedEvent{Type: "level_up"})

	// Both should receive
	select {
	case <-ch1:
	case <-time.After(time.Second):
		t.Error("client 1 timeout")
	}
	select {
	case <-ch2:
	case <-time.After(time.Second):
		t.Error("client 2 timeout")
	}
}

func TestHub_UnsubscribeIdempotent(t *testing.T) {
	hub := NewHub()

	_, unsub := hub.Subscribe()
	unsub()
	unsub()
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 after unsub, got %d", hub.ClientCount())
	}
	hub.Broadcast(FeedEvent{Type: "visit"}) // must not panic on a closed channel
}

func TestHub_SlowClientDropsMessages(t *testing.T) {
	hub := NewHub()
	ch, unsub := hub.Subscribe()
	defer unsub()

	for i := 0; i < 100; i++ {
		hub.Broadcast(FeedEvent{Type: "position"})
	}
	if len(ch) != cap(ch) {
		t.Errorf("expected a full buffer of %d, got %d", cap(ch), len(ch))
	}
}

func TestHub_SSE_Endpoint(t *testing.T) {
	hub := NewHub()
	server := httptest.NewServer(http.HandlerFunc(hub.HandleSSE))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %s", resp.Header.Get("Content-Type"))
	}

	waitForClients(t, hub, 1)
	hub.Broadcast(FeedEvent{Type: "visit"})

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(line, "data: ") || !strings.Contains(line, `"type":"visit"`) {
		t.Errorf("unexpected SSE line %q", line)
	}
}

func TestHub_WebSocket_Endpoint(t *testing.T) {
	hub := NewHub()
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitForClients(t, hub, 1)
	hub.Broadcast(FeedEvent{Type: "level_up", Data: map[string]int{"current": 2}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != websocket.TextMessage {
		t.Errorf("expected text message, got %d", kind)
	}
	var ev FeedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != "level_up" {
		t.Errorf("expected level_up, got %s", ev.Type)
	}

	conn.Close()
	waitForClients(t, hub, 0)
}
