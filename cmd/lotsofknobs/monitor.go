package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// State monitor: WebSocket hub + per-client pumps
// ============================================================================
//
// An optional observability surface: when enabled, the controller publishes
// key presses, releases and value changes over a WebSocket endpoint so a
// browser page (or a test client) can watch the board live.
//
// Constraints:
//   - The control loop never blocks on the monitor. Publish is fire-and-
//     forget; a full queue drops the frame.
//   - Per-client write pumps so one slow client doesn't block others; a
//     client whose send buffer fills is disconnected.
//   - Messages are JSON text frames with an envelope: {type, ts, data}.
//     New clients receive a "state_init" snapshot frame first.
// ============================================================================

// monitorEvent is a state change the controller wants published.
type monitorEvent interface {
	eventType() string
}

type monitorKeyPressed struct {
	Key  int `json:"key"`
	Note int `json:"note"`
}

func (monitorKeyPressed) eventType() string { return "key_pressed" }

type monitorKeyReleased struct {
	Key  int `json:"key"`
	Note int `json:"note"`
}

func (monitorKeyReleased) eventType() string { return "key_released" }

type monitorValueChanged struct {
	Key        int `json:"key"`
	Controller int `json:"controller"`
	Value      int `json:"value"`
}

func (monitorValueChanged) eventType() string { return "value_changed" }

// monitorSnapshot is the full board state sent to newly connected clients.
type monitorSnapshot struct {
	Layer     int                  `json:"layer"`
	LayerName string               `json:"layer_name"`
	Channel   int                  `json:"channel"`
	Values    [numPlayableKeys]int `json:"values"`
	Pressed   []int                `json:"pressed"`
}

func (monitorSnapshot) eventType() string { return "state_init" }

// monitorEnvelope is the wire format for monitor frames.
type monitorEnvelope struct {
	Type string      `json:"type"`
	Ts   time.Time   `json:"ts"`
	Data interface{} `json:"data,omitempty"`
}

// ============================================================================
// Hub
// ============================================================================

type monitorHub struct {
	logger *slog.Logger

	broadcast  chan []byte
	register   chan *monitorClient
	unregister chan *monitorClient

	mu      sync.Mutex
	clients map[*monitorClient]struct{}

	// lastSnapshot is the most recent serialized state_init frame,
	// handed to clients on connect.
	snapMu       sync.Mutex
	lastSnapshot []byte

	sendBuf int
}

func newMonitorHub(logger *slog.Logger) *monitorHub {
	return &monitorHub{
		logger:     logger,
		broadcast:  make(chan []byte, 128),
		register:   make(chan *monitorClient, 16),
		unregister: make(chan *monitorClient, 16),
		clients:    make(map[*monitorClient]struct{}),
		sendBuf:    32,
	}
}

// Run processes hub events until ctx is canceled, then disconnects all
// clients.
func (h *monitorHub) Run(ctx context.Context) {
	h.logger.Info("monitor hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("monitor hub stopping")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("monitor client connected", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			// Collect slow clients while holding the lock, drop them
			// after.
			var slow []*monitorClient

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

func (h *monitorHub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.conn.Close()
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *monitorHub) removeClient(c *monitorClient, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		_ = c.conn.Close()
		close(c.send)
		h.logger.Info("monitor client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

// Publish serializes an event and enqueues it for broadcast. Never blocks;
// a full hub queue drops the frame.
func (h *monitorHub) Publish(ev monitorEvent) {
	msg, err := json.Marshal(monitorEnvelope{
		Type: ev.eventType(),
		Ts:   time.Now().UTC(),
		Data: ev,
	})
	if err != nil {
		h.logger.Warn("monitor marshal failed", "type", ev.eventType(), "error", err)
		return
	}

	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("monitor broadcast queue full, dropping frame", "type", ev.eventType())
	}
}

// SetSnapshot stores the state handed to newly connecting clients.
func (h *monitorHub) SetSnapshot(snap monitorSnapshot) {
	msg, err := json.Marshal(monitorEnvelope{
		Type: snap.eventType(),
		Ts:   time.Now().UTC(),
		Data: snap,
	})
	if err != nil {
		h.logger.Warn("monitor snapshot marshal failed", "error", err)
		return
	}

	h.snapMu.Lock()
	h.lastSnapshot = msg
	h.snapMu.Unlock()
}

func (h *monitorHub) snapshot() []byte {
	h.snapMu.Lock()
	defer h.snapMu.Unlock()
	return h.lastSnapshot
}

// ============================================================================
// Client
// ============================================================================

type monitorClient struct {
	hub *monitorHub

	conn *websocket.Conn
	send chan []byte

	remoteAddr string
	logger     *slog.Logger
}

const (
	monitorWriteWait  = 5 * time.Second
	monitorPongWait   = 30 * time.Second
	monitorPingPeriod = 20 * time.Second
)

// writePump writes queued frames to the websocket. It exits on write error
// or when send is closed by the hub.
func (c *monitorClient) writePump() {
	ticker := time.NewTicker(monitorPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(monitorWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.logger.Debug("monitor write pump exiting", "remote_addr", c.remoteAddr, "error", err)
				}
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(monitorWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.logger.Debug("monitor write pump exiting", "remote_addr", c.remoteAddr, "error", err)
				}
				return
			}
		}
	}
}

// readPump reads and discards incoming frames to detect disconnects and
// service control frames, then unregisters the client on error.
func (c *monitorClient) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(monitorPongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(monitorPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.hub.unregister <- c
			return
		}
	}
}

// ============================================================================
// HTTP server
// ============================================================================

var monitorUpgrader = websocket.Upgrader{
	// The monitor binds to localhost by default; origin checks are the
	// deployment's concern.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleMonitorWS upgrades a connection, registers it with the hub, and
// sends the current state snapshot.
func (h *monitorHub) handleMonitorWS(w http.ResponseWriter, r *http.Request) {
	conn, err := monitorUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("monitor upgrade failed", "error", err)
		return
	}

	client := &monitorClient{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, h.sendBuf),
		remoteAddr: r.RemoteAddr,
		logger:     h.logger,
	}

	h.register <- client

	// Pumps outlive the handler; the connection lifetime is managed by
	// the hub and by read/write errors, not the request context.
	go client.writePump()
	go client.readPump()

	if snap := h.snapshot(); snap != nil {
		select {
		case client.send <- snap:
		default:
			h.unregister <- client
		}
	}
}

// runMonitorServer serves the hub's WebSocket endpoint on addr until ctx is
// canceled.
func runMonitorServer(ctx context.Context, addr string, logger *slog.Logger, hub *monitorHub) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.handleMonitorWS)

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("monitor server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("monitor server shutdown: %w", err)
		}
		return <-errCh

	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("monitor server: %w", err)
		}
		return nil
	}
}
