package wsrelay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Post on a closed medium.
var ErrClosed = errors.New("wsrelay medium closed")

// Medium is a replica's connection to a relay. It implements
// broadcast.Medium. The relay never echoes a connection's own frames.
//
// Thread-safety: all methods are safe for concurrent use.
type Medium struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.RWMutex
	handler func([]byte)
	closed  bool

	done chan struct{}
}

// Option configures a Medium.
type Option func(*Medium)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Medium) {
		if l != nil {
			m.logger = l
		}
	}
}

// Dial connects to a relay's /ws endpoint, e.g. ws://127.0.0.1:8089/ws.
func Dial(ctx context.Context, url string, opts ...Option) (*Medium, error) {
	if url == "" {
		return nil, errors.New("relay url is required")
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}
	conn.SetReadLimit(maxFrameSize)

	m := &Medium{
		conn:   conn,
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.readLoop()
	return m, nil
}

// Post sends data to the relay.
func (m *Medium) Post(ctx context.Context, data []byte) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.conn.SetWriteDeadline(deadline)
	if err := m.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write to relay: %w", err)
	}
	return nil
}

// OnMessage sets the receiver.
func (m *Medium) OnMessage(handler func([]byte)) {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
}

// Done is closed when the connection to the relay is gone.
func (m *Medium) Done() <-chan struct{} {
	return m.done
}

// Close says goodbye to the relay and waits for the read loop to exit.
// Close is idempotent.
func (m *Medium) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.writeMu.Lock()
	m.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = m.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	m.writeMu.Unlock()

	err := m.conn.Close()
	<-m.done
	return err
}

func (m *Medium) readLoop() {
	defer close(m.done)
	for {
		_, data, err := m.conn.ReadMessage()
		if err != nil {
			m.mu.RLock()
			closed := m.closed
			m.mu.RUnlock()
			if !closed {
				m.logger.Warn("relay connection lost", "error", err)
			}
			return
		}

		m.mu.RLock()
		h := m.handler
		m.mu.RUnlock()
		if h != nil {
			h(data)
		}
	}
}
