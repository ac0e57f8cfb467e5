// Package wsrelay provides a broadcast medium for replicas in separate
// processes that share no Redis: each replica dials a small WebSocket relay,
// and the relay forwards every frame to every other connection.
//
// The relay is content-agnostic. It never decodes envelopes, so it cannot
// filter or reorder them; all protocol rules stay in the broadcaster.
package wsrelay

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// sendBuffer is the per-connection outbound queue length.
	sendBuffer = 64

	writeWait = 10 * time.Second

	// maxFrameSize bounds an incoming frame; envelopes are small.
	maxFrameSize = 1 << 20
)

// RelayMetrics counts relay traffic.
type RelayMetrics struct {
	Peers         prometheus.Gauge
	FramesRelayed prometheus.Counter
	FramesDropped prometheus.Counter
}

// NewRelayMetrics registers the relay metrics with reg. A nil reg creates
// unregistered metrics.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	f := promauto.With(reg)
	return &RelayMetrics{
		Peers: f.NewGauge(prometheus.GaugeOpts{
			Name: "patientdb_relay_peers",
			Help: "Current number of replicas connected to the relay",
		}),
		FramesRelayed: f.NewCounter(prometheus.CounterOpts{
			Name: "patientdb_relay_frames_relayed_total",
			Help: "Total number of frames forwarded to a peer",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "patientdb_relay_frames_dropped_total",
			Help: "Total number of frames dropped because a peer's queue was full",
		}),
	}
}

// Relay is the WebSocket fan-out server.
//
// Thread-safety: all methods are safe for concurrent use.
type Relay struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *RelayMetrics
	gatherer prometheus.Gatherer

	mu    sync.RWMutex
	peers map[*peer]struct{}
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithRelayLogger sets the logger.
func WithRelayLogger(l *slog.Logger) RelayOption {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRegistry registers relay metrics on reg and serves reg's metrics
// (including any other collectors on it) at /metrics.
func WithRegistry(reg *prometheus.Registry) RelayOption {
	return func(r *Relay) {
		r.metrics = NewRelayMetrics(reg)
		r.gatherer = reg
	}
}

// NewRelay creates a relay with no connections.
func NewRelay(opts ...RelayOption) *Relay {
	r := &Relay{
		upgrader: websocket.Upgrader{
			// Replicas are not browsers; there is no Origin to check.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: slog.Default(),
		peers:  make(map[*peer]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		reg := prometheus.NewRegistry()
		r.metrics = NewRelayMetrics(reg)
		r.gatherer = reg
	}
	return r
}

// Handler returns the HTTP surface: /ws, /healthz and /metrics.
func (r *Relay) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/ws", r.serveWS)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "peers": r.Peers()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})))
	return router
}

// Peers returns the number of connected replicas.
func (r *Relay) Peers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Close disconnects every peer.
func (r *Relay) Close() {
	r.mu.Lock()
	peers := make([]*peer, 0, len(r.peers))
	for p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.Unlock()

	for _, p := range peers {
		p.conn.Close()
	}
}

func (r *Relay) serveWS(c *gin.Context) {
	conn, err := r.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "remote", c.Request.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(maxFrameSize)

	p := &peer{conn: conn, send: make(chan []byte, sendBuffer)}
	r.join(p)
	r.logger.Info("replica connected", "remote", conn.RemoteAddr().String(), "peers", r.Peers())

	go p.writeLoop()
	r.readLoop(p)
}

func (r *Relay) join(p *peer) {
	r.mu.Lock()
	r.peers[p] = struct{}{}
	r.mu.Unlock()
	r.metrics.Peers.Inc()
}

func (r *Relay) leave(p *peer) {
	r.mu.Lock()
	_, ok := r.peers[p]
	delete(r.peers, p)
	r.mu.Unlock()
	if ok {
		r.metrics.Peers.Dec()
		close(p.send)
	}
}

func (r *Relay) readLoop(p *peer) {
	defer func() {
		r.leave(p)
		p.conn.Close()
		r.logger.Info("replica disconnected", "remote", p.conn.RemoteAddr().String(), "peers", r.Peers())
	}()

	for {
		msgType, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		r.fanOut(p, data)
	}
}

// fanOut forwards data to every peer except from. A peer whose queue is
// full misses the frame.
func (r *Relay) fanOut(from *peer, data []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for p := range r.peers {
		if p == from {
			continue
		}
		select {
		case p.send <- data:
			r.metrics.FramesRelayed.Inc()
		default:
			r.metrics.FramesDropped.Inc()
			r.logger.Warn("relay peer queue full, dropping frame", "remote", p.conn.RemoteAddr().String())
		}
	}
}

type peer struct {
	conn *websocket.Conn
	send chan []byte
}

func (p *peer) writeLoop() {
	for data := range p.send {
		p.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			p.conn.Close()
			return
		}
	}
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = p.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
