// Package testutil provides an in-process websocket backend that tests
// script to exercise the monitoring channel end to end.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Backend is a scripted stand-in for the workflow event stream. It
// accepts websocket upgrades on any path, records every command frame
// the client sends, and pushes whatever event frames the test enqueues.
type Backend struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	connects int
	received []map[string]interface{}

	// writeMu serializes frame writes; pushes race with auto-pong replies
	// otherwise.
	writeMu sync.Mutex

	// AutoPong answers every ping command with a pong frame, keeping the
	// heartbeat watchdog quiet during long scenarios.
	AutoPong bool
}

// NewBackend starts the backend on an ephemeral port.
func NewBackend() *Backend {
	b := &Backend{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	b.server = httptest.NewServer(http.HandlerFunc(b.handle))
	return b
}

// Close shuts the backend down, dropping any live connection.
func (b *Backend) Close() {
	b.CloseActive()
	b.server.Close()
}

// URL returns the ws:// base URL of the backend, suitable as the
// monitoring channel's BaseURL.
func (b *Backend) URL() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http")
}

func (b *Backend) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.mu.Lock()
	if b.conn != nil {
		b.conn.Close()
	}
	b.conn = conn
	b.connects++
	b.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame map[string]interface{}
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		b.mu.Lock()
		b.received = append(b.received, frame)
		autoPong := b.AutoPong && frame["type"] == "ping"
		b.mu.Unlock()
		if autoPong {
			b.Push(map[string]interface{}{"type": "pong"})
		}
	}
}

// Push sends one frame to the connected client. It is a no-op when no
// client is connected.
func (b *Backend) Push(frame interface{}) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	b.writeMu.Lock()
	conn.WriteMessage(websocket.TextMessage, data)
	b.writeMu.Unlock()
}

// PushRaw sends raw bytes, letting tests deliver malformed frames.
func (b *Backend) PushRaw(data []byte) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return
	}
	b.writeMu.Lock()
	conn.WriteMessage(websocket.TextMessage, data)
	b.writeMu.Unlock()
}

// CloseActive drops the live connection, simulating a network cut.
func (b *Backend) CloseActive() {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Connects reports how many upgrades the backend has accepted, which
// tests use to observe reconnects.
func (b *Backend) Connects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects
}

// Received returns a copy of every command frame seen so far.
func (b *Backend) Received() []map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]map[string]interface{}, len(b.received))
	copy(out, b.received)
	return out
}

// WaitForConnection polls until a client is connected or the timeout
// elapses. Returns false on timeout.
func (b *Backend) WaitForConnection(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		b.mu.Lock()
		connected := b.conn != nil
		b.mu.Unlock()
		if connected {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

// WaitForCommand polls until a command of the given type arrives or the
// timeout elapses. Returns the frame and whether it was seen.
func (b *Backend) WaitForCommand(cmdType string, timeout time.Duration) (map[string]interface{}, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		b.mu.Lock()
		for _, frame := range b.received {
			if frame["type"] == cmdType {
				b.mu.Unlock()
				return frame, true
			}
		}
		b.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	return nil, false
}
