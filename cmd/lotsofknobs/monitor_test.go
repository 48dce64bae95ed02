package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// httpHandler mounts the hub's WebSocket endpoint the way main does.
func httpHandler(hub *monitorHub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.handleMonitorWS)
	return mux
}

func readEnvelope(t *testing.T, conn *websocket.Conn) monitorEnvelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env monitorEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("unmarshal %s: %v", msg, err)
	}
	return env
}

func TestMonitorHub_SnapshotOnConnect(t *testing.T) {
	hub := newMonitorHub(discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	snap := monitorSnapshot{Layer: 1, LayerName: "Default", Channel: 1}
	for i := range snap.Values {
		snap.Values[i] = defaultInitialValue
	}
	hub.SetSnapshot(snap)

	srv := httptest.NewServer(httpHandler(hub))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	env := readEnvelope(t, conn)
	if env.Type != "state_init" {
		t.Fatalf("first frame type = %q, want state_init", env.Type)
	}

	data, _ := json.Marshal(env.Data)
	var got monitorSnapshot
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("snapshot decode: %v", err)
	}
	if got.LayerName != "Default" || got.Values[0] != defaultInitialValue {
		t.Fatalf("snapshot = %+v", got)
	}
}

func TestMonitorHub_BroadcastsEvents(t *testing.T) {
	hub := newMonitorHub(discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(httpHandler(hub))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// Give the hub a moment to register the client before broadcasting.
	waitForClients(t, hub, 1)

	hub.Publish(monitorKeyPressed{Key: 4, Note: 64})
	hub.Publish(monitorValueChanged{Key: 4, Controller: 5, Value: 70})

	env := readEnvelope(t, conn)
	if env.Type != "key_pressed" {
		t.Fatalf("frame 1 type = %q, want key_pressed", env.Type)
	}
	env = readEnvelope(t, conn)
	if env.Type != "value_changed" {
		t.Fatalf("frame 2 type = %q, want value_changed", env.Type)
	}
}

func TestMonitorHub_PublishNeverBlocks(t *testing.T) {
	hub := newMonitorHub(discardLogger())
	// Hub not running: the broadcast queue fills, then frames drop.

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			hub.Publish(monitorValueChanged{Key: 0, Controller: 1, Value: i % 128})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked with no consumer")
	}
}

func waitForClients(t *testing.T, hub *monitorHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.mu.Lock()
		got := len(hub.clients)
		hub.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("hub never reached %d clients", n)
}
