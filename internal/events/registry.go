package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/patientdb/internal/patient"
)

// Handler receives a published event. A returned error is logged by the
// registry and never reaches the publisher.
type Handler func(ev patient.Event) error

// Subscription identifies one registered handler. It is the removal token
// returned by Subscribe; subscribing the same func twice yields two
// independent subscriptions.
type Subscription struct {
	kind patient.Kind
	id   uint64
}

// Kind returns the event kind the subscription listens to.
func (s Subscription) Kind() patient.Kind {
	return s.kind
}

type entry struct {
	id      uint64
	handler Handler
}

// Registry is the Local Event Registry of one replica.
//
// Thread-safety: all methods are safe for concurrent use. Subscriber lists
// are copy-on-write, so Publish iterates an immutable snapshot without
// holding the lock while handlers run.
type Registry struct {
	mu     sync.RWMutex
	subs   map[patient.Kind][]entry
	nextID uint64
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used to report failing handlers.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		subs:   make(map[patient.Kind][]entry),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe appends h to the ordered handler list for kind.
func (r *Registry) Subscribe(kind patient.Kind, h Handler) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	sub := Subscription{kind: kind, id: r.nextID}

	current := r.subs[kind]
	next := make([]entry, len(current), len(current)+1)
	copy(next, current)
	r.subs[kind] = append(next, entry{id: sub.id, handler: h})
	return sub
}

// Unsubscribe removes the subscription. Removing an unknown or already
// removed subscription is a no-op.
func (r *Registry) Unsubscribe(sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.subs[sub.kind]
	for i, e := range current {
		if e.id != sub.id {
			continue
		}
		next := make([]entry, 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		if len(next) == 0 {
			delete(r.subs, sub.kind)
		} else {
			r.subs[sub.kind] = next
		}
		return
	}
}

// On subscribes a handler that cannot fail.
func (r *Registry) On(kind patient.Kind, fn func(patient.Event)) Subscription {
	return r.Subscribe(kind, func(ev patient.Event) error {
		fn(ev)
		return nil
	})
}

// Off is Unsubscribe.
func (r *Registry) Off(sub Subscription) {
	r.Unsubscribe(sub)
}

// Publish delivers ev to every handler registered for ev.Kind() at the
// moment of the call, in registration order, and returns how many handlers
// ran without error or panic.
func (r *Registry) Publish(ev patient.Event) int {
	if ev == nil {
		return 0
	}

	r.mu.RLock()
	snapshot := r.subs[ev.Kind()]
	r.mu.RUnlock()

	delivered := 0
	for _, e := range snapshot {
		if err := r.invoke(e, ev); err != nil {
			r.logger.Error("event handler failed",
				"kind", ev.Kind(),
				"patient_id", ev.PatientID(),
				"subscription", e.id,
				"error", err,
			)
			continue
		}
		delivered++
	}
	return delivered
}

// invoke runs one handler, converting a panic into an error.
func (r *Registry) invoke(e entry, ev patient.Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return e.handler(ev)
}

// HasSubscribers reports whether at least one handler is registered for kind.
func (r *Registry) HasSubscribers(kind patient.Kind) bool {
	return r.Len(kind) > 0
}

// Len returns the number of active subscriptions for kind.
func (r *Registry) Len(kind patient.Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[kind])
}

// Emit publishes ev locally. It lets a Registry stand in for a Broadcaster
// when a replica has no medium.
func (r *Registry) Emit(_ context.Context, ev patient.Event) {
	r.Publish(ev)
}
