package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 20 // 4 MB; state dumps can be large.
)

var transportSeq atomic.Uint64

// WebSocketDialer opens gorilla/websocket connections.
type WebSocketDialer struct {
	logger *slog.Logger
	dialer *websocket.Dialer
}

// NewWebSocketDialer creates a Dialer backed by gorilla/websocket.
func NewWebSocketDialer(logger *slog.Logger) *WebSocketDialer {
	return &WebSocketDialer{
		logger: logger.With("component", "transport"),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 15 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
	}
}

// Dial opens a WebSocket connection and starts its read pump.
func (d *WebSocketDialer) Dial(ctx context.Context, rawURL string, header http.Header) (Transport, error) {
	conn, _, err := d.dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", rawURL, err)
	}

	t := &wsTransport{
		id:      transportSeq.Add(1),
		conn:    conn,
		logger:  d.logger,
		inbound: make(chan Message, 64),
		done:    make(chan struct{}),
	}

	go t.readPump()
	go t.pingLoop()

	d.logger.Debug("transport opened", "id", t.id, "url", rawURL)
	return t, nil
}

// wsTransport wraps one gorilla connection. Writes are serialized with a
// mutex; the read pump owns the inbound channel and closes it on exit.
type wsTransport struct {
	id      uint64
	conn    *websocket.Conn
	logger  *slog.Logger
	inbound chan Message

	writeMu sync.Mutex

	mu     sync.Mutex
	err    error
	closed bool
	done   chan struct{}
}

func (t *wsTransport) ID() uint64 {
	return t.id
}

func (t *wsTransport) Inbound() <-chan Message {
	return t.inbound
}

func (t *wsTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *wsTransport) SendText(ctx context.Context, text string) error {
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.conn.SetWriteDeadline(deadline)
	if err := t.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

func (t *wsTransport) Cancel(reason error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	if t.err == nil {
		t.err = reason
	}
	close(t.done)
	t.mu.Unlock()

	t.writeMu.Lock()
	t.conn.SetWriteDeadline(time.Now().Add(time.Second))
	t.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()

	t.conn.Close()
}

// readPump reads frames into the inbound channel until the connection ends.
func (t *wsTransport) readPump() {
	defer close(t.inbound)

	t.conn.SetReadLimit(maxMessageSize)
	t.conn.SetReadDeadline(time.Now().Add(pongWait))
	t.conn.SetPongHandler(func(string) error {
		t.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			if !t.closed && t.err == nil && !isExpectedClose(err) {
				t.err = err
			}
			t.mu.Unlock()
			return
		}

		switch kind {
		case websocket.TextMessage:
			t.inbound <- Message{Type: TextMessage, Text: string(data)}
		case websocket.BinaryMessage:
			t.inbound <- Message{Type: BinaryMessage, Data: data}
		}
	}
}

// pingLoop keeps the connection alive; the server drops idle peers.
func (t *wsTransport) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.writeMu.Lock()
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := t.conn.WriteMessage(websocket.PingMessage, nil)
			t.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-t.done:
			return
		}
	}
}

func isExpectedClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNoStatusReceived
}
