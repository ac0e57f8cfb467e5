package broadcast

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/roach88/patientdb/internal/events"
	"github.com/roach88/patientdb/internal/patient"
	"github.com/roach88/patientdb/internal/testutil"
)

// fakeMedium records posts and lets tests inject incoming messages.
type fakeMedium struct {
	mu      sync.Mutex
	posts   [][]byte
	handler func([]byte)
	postErr error
	closed  bool
}

func (m *fakeMedium) Post(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postErr != nil {
		return m.postErr
	}
	m.posts = append(m.posts, append([]byte(nil), data...))
	return nil
}

func (m *fakeMedium) OnMessage(h func([]byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

func (m *fakeMedium) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *fakeMedium) deliver(data []byte) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	h(data)
}

func (m *fakeMedium) posted() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.posts...)
}

type fixture struct {
	registry *events.Registry
	medium   *fakeMedium
	b        *Broadcaster
	metrics  *Metrics
	logs     *bytes.Buffer
}

func newFixture(t *testing.T, origin string) *fixture {
	t.Helper()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	f := &fixture{
		registry: events.New(events.WithLogger(logger)),
		medium:   &fakeMedium{},
		metrics:  NewMetrics(prometheus.NewRegistry()),
		logs:     &logs,
	}
	b, err := New(f.registry, f.medium,
		WithOrigin(origin),
		WithIDGenerator(testutil.NewSequenceIDGenerator("env-"+origin)),
		WithClock(testutil.NewStepClock(testutil.Epoch, 0).Now),
		WithMetrics(f.metrics),
		WithLogger(logger),
	)
	require.NoError(t, err)
	f.b = b
	return f
}

func alice() patient.Patient {
	return patient.Patient{
		ID:        "p-0001",
		Name:      "Alice",
		DOB:       "1990-01-01",
		Phone:     "555-0100",
		CreatedAt: testutil.Epoch,
		UpdatedAt: testutil.Epoch,
	}
}

func mustEncode(t *testing.T, id, origin string, ev patient.Event) []byte {
	t.Helper()
	env, err := NewEnvelope(id, origin, ev, testutil.Epoch)
	require.NoError(t, err)
	data, err := Encode(env)
	require.NoError(t, err)
	return data
}
