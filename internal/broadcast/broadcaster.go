package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/patientdb/internal/patient"
)

// DefaultChannel is the medium channel name shared by every replica.
const DefaultChannel = "patient-db-sync"

// DefaultSeenCapacity bounds the envelope-id dedupe cache.
const DefaultSeenCapacity = 4096

// Publisher is the slice of the Local Event Registry the broadcaster needs.
type Publisher interface {
	Publish(ev patient.Event) int
	HasSubscribers(kind patient.Kind) bool
}

// Broadcaster couples a replica's registry to a shared medium.
//
// Thread-safety: Emit may be called from any goroutine. Incoming messages
// are handled on the medium's delivery goroutine.
type Broadcaster struct {
	origin   string
	registry Publisher
	medium   Medium
	ids      IDGenerator
	now      func() time.Time
	seen     *lru.Cache[string, struct{}]
	metrics  *Metrics
	logger   *slog.Logger

	seenCapacity int
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithOrigin sets the replica id stamped on outgoing envelopes.
// Defaults to a fresh UUIDv7.
func WithOrigin(origin string) Option {
	return func(b *Broadcaster) {
		b.origin = origin
	}
}

// WithIDGenerator overrides the envelope id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(b *Broadcaster) {
		b.ids = g
	}
}

// WithClock overrides the clock used for SentAt.
func WithClock(now func() time.Time) Option {
	return func(b *Broadcaster) {
		b.now = now
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(b *Broadcaster) {
		b.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broadcaster) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithSeenCapacity bounds how many envelope ids are remembered for dedupe.
func WithSeenCapacity(n int) Option {
	return func(b *Broadcaster) {
		b.seenCapacity = n
	}
}

// New creates a broadcaster and registers it as the medium's receiver.
func New(registry Publisher, medium Medium, opts ...Option) (*Broadcaster, error) {
	if registry == nil {
		return nil, errors.New("broadcast: registry is required")
	}
	if medium == nil {
		return nil, errors.New("broadcast: medium is required")
	}

	b := &Broadcaster{
		registry:     registry,
		medium:       medium,
		ids:          UUIDv7Generator{},
		now:          time.Now,
		logger:       slog.Default(),
		seenCapacity: DefaultSeenCapacity,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.origin == "" {
		b.origin = UUIDv7Generator{}.Generate()
	}
	if b.metrics == nil {
		b.metrics = NewMetrics(nil)
	}

	seen, err := lru.New[string, struct{}](b.seenCapacity)
	if err != nil {
		return nil, err
	}
	b.seen = seen
	b.logger = b.logger.With("origin", b.origin)

	medium.OnMessage(b.receive)
	return b, nil
}

// Origin returns the replica id stamped on outgoing envelopes.
func (b *Broadcaster) Origin() string {
	return b.origin
}

// Emit publishes ev to the local registry and then posts it to the medium.
//
// Local delivery always happens first and is never undone. Encoding and
// post failures are logged and counted; the event is then lost for remote
// replicas only.
func (b *Broadcaster) Emit(ctx context.Context, ev patient.Event) {
	b.registry.Publish(ev)

	env, err := NewEnvelope(b.ids.Generate(), b.origin, ev, b.now())
	if err != nil {
		b.metrics.IncrementPostFailures()
		b.logger.Error("envelope encoding failed", "kind", ev.Kind(), "error", err)
		return
	}
	data, err := Encode(env)
	if err != nil {
		b.metrics.IncrementPostFailures()
		b.logger.Error("envelope encoding failed", "kind", ev.Kind(), "error", err)
		return
	}

	if err := b.medium.Post(ctx, data); err != nil {
		b.metrics.IncrementPostFailures()
		b.logger.Warn("envelope post failed",
			"kind", ev.Kind(),
			"envelope_id", env.ID,
			"error", err,
		)
		return
	}

	b.metrics.IncrementPosted(string(ev.Kind()))
	b.logger.Debug("envelope posted", "kind", ev.Kind(), "envelope_id", env.ID)
}

// receive handles one incoming message. It never posts.
func (b *Broadcaster) receive(data []byte) {
	env, err := Decode(data)
	if err != nil {
		b.metrics.IncrementReceived(ResultMalformed)
		b.logger.Warn("dropping malformed envelope", "error", err)
		return
	}

	if env.Origin == b.origin {
		b.metrics.IncrementReceived(ResultSelf)
		return
	}

	if found, _ := b.seen.ContainsOrAdd(env.ID, struct{}{}); found {
		b.metrics.IncrementReceived(ResultDuplicate)
		b.logger.Debug("dropping duplicate envelope", "envelope_id", env.ID)
		return
	}

	if !b.registry.HasSubscribers(env.Kind) {
		b.metrics.IncrementReceived(ResultIdle)
		return
	}

	ev, err := env.Event()
	if err != nil {
		b.metrics.IncrementReceived(ResultMalformed)
		b.logger.Warn("dropping envelope with bad payload",
			"envelope_id", env.ID,
			"kind", env.Kind,
			"error", err,
		)
		return
	}

	b.registry.Publish(ev)
	b.metrics.IncrementReceived(ResultDelivered)
	b.logger.Debug("envelope delivered",
		"envelope_id", env.ID,
		"from", env.Origin,
		"kind", env.Kind,
		"patient_id", ev.PatientID(),
	)
}

// Done is closed when the medium's connection is gone. It returns nil, a
// channel that never closes, for media without a connection to lose.
func (b *Broadcaster) Done() <-chan struct{} {
	if c, ok := b.medium.(Connection); ok {
		return c.Done()
	}
	return nil
}

// Close closes the underlying medium.
func (b *Broadcaster) Close() error {
	return b.medium.Close()
}
