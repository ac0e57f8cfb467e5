// Package memory provides an in-process broadcast medium. A Hub plays the
// role of one origin-scoped channel; every replica joins it and gets its
// own Medium.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-peer inbox capacity.
const DefaultBuffer = 256

// ErrClosed is returned by Post on a closed medium.
var ErrClosed = errors.New("memory medium closed")

// Hub fans each posted message out to every other joined peer.
//
// By default delivery is asynchronous: each peer drains its own bounded
// inbox on a dedicated goroutine, preserving per-sender FIFO order. When a
// peer's inbox is full the message is dropped for that peer only. Peers
// are visited in join order.
//
// Thread-safety: all methods are safe for concurrent use.
type Hub struct {
	mu          sync.RWMutex
	peers       []*Medium
	buffer      int
	synchronous bool
	loopback    bool
	logger      *slog.Logger
	dropped     atomic.Int64
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBuffer sets the per-peer inbox capacity.
func WithBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithSynchronous delivers on the posting goroutine before Post returns.
// Deterministic; intended for tests and scenario runs.
func WithSynchronous() HubOption {
	return func(h *Hub) {
		h.synchronous = true
	}
}

// WithLoopback also delivers a peer's posts back to itself, like media
// that do not exclude the sender.
func WithLoopback() HubOption {
	return func(h *Hub) {
		h.loopback = true
	}
}

// WithLogger sets the logger used to report dropped messages.
func WithLogger(l *slog.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		buffer: DefaultBuffer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Join attaches a new peer to the hub.
func (h *Hub) Join() *Medium {
	m := &Medium{
		hub:  h,
		done: make(chan struct{}),
	}
	if !h.synchronous {
		m.inbox = newInbox(h.buffer)
		go m.run()
	} else {
		close(m.done)
	}

	h.mu.Lock()
	h.peers = append(h.peers, m)
	h.mu.Unlock()
	return m
}

// Peers returns the number of joined peers.
func (h *Hub) Peers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Dropped returns how many per-peer deliveries were discarded because an
// inbox was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub) leave(m *Medium) {
	h.mu.Lock()
	h.peers = slices.DeleteFunc(h.peers, func(p *Medium) bool { return p == m })
	h.mu.Unlock()
}

func (h *Hub) fanOut(from *Medium, data []byte) {
	h.mu.RLock()
	targets := make([]*Medium, 0, len(h.peers))
	for _, p := range h.peers {
		if p == from && !h.loopback {
			continue
		}
		targets = append(targets, p)
	}
	h.mu.RUnlock()

	for _, p := range targets {
		// Each peer gets its own copy so no receiver can alias another's bytes.
		msg := append([]byte(nil), data...)
		if h.synchronous {
			p.dispatch(msg)
			continue
		}
		if !p.inbox.Enqueue(msg) {
			h.dropped.Add(1)
			h.logger.Warn("memory medium inbox full, dropping message", "buffer", h.buffer)
		}
	}
}

// Medium is one peer's view of a Hub. It implements broadcast.Medium.
type Medium struct {
	hub     *Hub
	inbox   *inbox
	mu      sync.RWMutex
	handler func([]byte)
	closed  atomic.Bool
	done    chan struct{}
}

// Post sends data to every other peer on the hub.
func (m *Medium) Post(ctx context.Context, data []byte) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.hub.fanOut(m, data)
	return nil
}

// OnMessage sets the receiver. Messages that arrive before a receiver is
// set are discarded.
func (m *Medium) OnMessage(handler func([]byte)) {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
}

// Close leaves the hub and stops delivery. Queued messages are discarded.
// Close is idempotent.
func (m *Medium) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.hub.leave(m)
	if m.inbox != nil {
		m.inbox.Close()
		<-m.done
	}
	return nil
}

func (m *Medium) dispatch(data []byte) {
	if m.closed.Load() {
		return
	}
	m.mu.RLock()
	h := m.handler
	m.mu.RUnlock()
	if h != nil {
		h(data)
	}
}

// run drains the inbox until it is closed.
func (m *Medium) run() {
	defer close(m.done)
	for {
		for {
			msg, ok := m.inbox.TryDequeue()
			if !ok {
				break
			}
			m.dispatch(msg)
		}
		if _, open := <-m.inbox.Wait(); !open {
			return
		}
	}
}
