// Package replica is the composition root for one replica: a record store,
// its mutation gateway, a local event registry, a broadcaster on a shared
// medium, and a projection view kept current from events.
//
// Replicas do not share memory. Remote mutations reach a replica only as
// envelopes on the medium, and they update the replica's view, never its
// store. When several replicas open the same database file, the store is a
// shared durable resource: each mutation is written once, by the replica
// whose gateway ran it.
package replica

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/patientdb/internal/broadcast"
	"github.com/roach88/patientdb/internal/broadcast/memory"
	"github.com/roach88/patientdb/internal/broadcast/redis"
	"github.com/roach88/patientdb/internal/broadcast/wsrelay"
	"github.com/roach88/patientdb/internal/config"
	"github.com/roach88/patientdb/internal/events"
	"github.com/roach88/patientdb/internal/gateway"
	"github.com/roach88/patientdb/internal/projection"
	"github.com/roach88/patientdb/internal/store"
)

// Replica wires the synchronization core for one execution context.
type Replica struct {
	id          string
	store       *store.Store
	registry    *events.Registry
	broadcaster *broadcast.Broadcaster
	gateway     *gateway.Gateway
	view        *projection.View
	logger      *slog.Logger

	ownsStore bool
}

type settings struct {
	id          string
	logger      *slog.Logger
	registerer  prometheus.Registerer
	envelopeIDs broadcast.IDGenerator
	now         func() time.Time
}

// Option configures a Replica.
type Option func(*settings)

// WithID sets the replica (origin) id. Defaults to a UUIDv7.
func WithID(id string) Option {
	return func(s *settings) {
		s.id = id
	}
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		s.logger = l
	}
}

// WithRegisterer registers broadcaster metrics on reg. Only one replica
// per registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *settings) {
		s.registerer = reg
	}
}

// WithEnvelopeIDs overrides the envelope id generator.
func WithEnvelopeIDs(g broadcast.IDGenerator) Option {
	return func(s *settings) {
		s.envelopeIDs = g
	}
}

// WithClock overrides the clock used for envelope timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		s.now = now
	}
}

// New assembles a replica over an open store. A nil medium makes the
// replica local-only: events reach its own subscribers and nothing else.
// The caller keeps ownership of st; the medium is closed with the replica.
func New(ctx context.Context, st *store.Store, medium broadcast.Medium, opts ...Option) (*Replica, error) {
	if st == nil {
		return nil, errors.New("replica: store is required")
	}

	s := settings{logger: slog.Default()}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.id == "" {
		s.id = broadcast.UUIDv7Generator{}.Generate()
	}
	logger := s.logger.With("replica", s.id)

	r := &Replica{
		id:       s.id,
		store:    st,
		registry: events.New(events.WithLogger(logger)),
		view:     projection.New(),
		logger:   logger,
	}

	var emitter gateway.Emitter = r.registry
	if medium != nil {
		bopts := []broadcast.Option{
			broadcast.WithOrigin(s.id),
			broadcast.WithLogger(logger),
			broadcast.WithMetrics(broadcast.NewMetrics(s.registerer)),
		}
		if s.envelopeIDs != nil {
			bopts = append(bopts, broadcast.WithIDGenerator(s.envelopeIDs))
		}
		if s.now != nil {
			bopts = append(bopts, broadcast.WithClock(s.now))
		}
		b, err := broadcast.New(r.registry, medium, bopts...)
		if err != nil {
			return nil, err
		}
		r.broadcaster = b
		emitter = b
	}
	r.gateway = gateway.New(st, emitter, gateway.WithLogger(logger))

	// Subscribe before seeding so no event between the snapshot and the
	// subscription is lost; the view tolerates the overlap.
	r.view.Attach(r.registry)
	snapshot, err := st.ListPatients(ctx)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("seed view: %w", err)
	}
	r.view.Load(snapshot)

	return r, nil
}

// Open opens the configured store and medium and assembles a replica that
// owns both. hub is used when cfg.Medium is memory; a nil hub makes the
// replica local-only.
func Open(ctx context.Context, cfg config.Config, hub *memory.Hub, opts ...Option) (*Replica, error) {
	st, err := store.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	medium, err := OpenMedium(ctx, cfg, hub)
	if err != nil {
		st.Close()
		return nil, err
	}

	r, err := New(ctx, st, medium, opts...)
	if err != nil {
		if medium != nil {
			medium.Close()
		}
		st.Close()
		return nil, err
	}
	r.ownsStore = true
	return r, nil
}

// OpenMedium connects the medium selected by cfg.Medium. It returns a nil
// medium for memory with a nil hub.
func OpenMedium(ctx context.Context, cfg config.Config, hub *memory.Hub) (broadcast.Medium, error) {
	switch cfg.Medium {
	case config.MediumMemory:
		if hub == nil {
			return nil, nil
		}
		return hub.Join(), nil
	case config.MediumRedis:
		m, err := redis.Dial(ctx, cfg.Redis.URL, cfg.Channel)
		if err != nil {
			return nil, fmt.Errorf("open redis medium: %w", err)
		}
		return m, nil
	case config.MediumWS:
		m, err := wsrelay.Dial(ctx, cfg.Relay.URL)
		if err != nil {
			return nil, fmt.Errorf("open relay medium: %w", err)
		}
		return m, nil
	}
	return nil, fmt.Errorf("unknown medium %q", cfg.Medium)
}

// ID returns the replica's origin id.
func (r *Replica) ID() string { return r.id }

// Gateway returns the mutation gateway.
func (r *Replica) Gateway() *gateway.Gateway { return r.gateway }

// Events returns the local event registry.
func (r *Replica) Events() *events.Registry { return r.registry }

// View returns the projection kept current from local and remote events.
func (r *Replica) View() *projection.View { return r.view }

// Store returns the record store.
func (r *Replica) Store() *store.Store { return r.store }

// Disconnected is closed when the replica loses its medium and stops
// seeing remote events. It is nil, and never fires, for a local-only
// replica or a medium without a connection.
func (r *Replica) Disconnected() <-chan struct{} {
	if r.broadcaster == nil {
		return nil
	}
	return r.broadcaster.Done()
}

// Close detaches the view, closes the medium and, when the replica opened
// it, the store.
func (r *Replica) Close() error {
	r.view.Detach()

	var errs []error
	if r.broadcaster != nil {
		errs = append(errs, r.broadcaster.Close())
	}
	if r.ownsStore {
		errs = append(errs, r.store.Close())
	}
	return errors.Join(errs...)
}
