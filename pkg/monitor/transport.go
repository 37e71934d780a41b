package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is one open socket to the backend.
type Transport interface {
	// ReadMessage blocks until the next text frame or a read error.
	ReadMessage() ([]byte, error)
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer opens a Transport to the given URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// NewWebSocketDialer returns the production Dialer backed by
// gorilla/websocket.
func NewWebSocketDialer() Dialer {
	return &wsDialer{
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

type wsDialer struct {
	dialer *websocket.Dialer
}

func (d *wsDialer) Dial(ctx context.Context, url string) (Transport, error) {
	conn, _, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) WriteJSON(v interface{}) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteJSON(v)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
