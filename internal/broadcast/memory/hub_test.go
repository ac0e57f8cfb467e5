package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector records messages delivered to a medium.
type collector struct {
	mu   sync.Mutex
	msgs []string
}

func (c *collector) handle(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, string(data))
}

func (c *collector) got() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

func join(h *Hub) (*Medium, *collector) {
	m := h.Join()
	c := &collector{}
	m.OnMessage(c.handle)
	return m, c
}

func TestHub_SynchronousFanOutExcludesSender(t *testing.T) {
	h := NewHub(WithSynchronous())
	a, ca := join(h)
	_, cb := join(h)
	_, cc := join(h)

	require.NoError(t, a.Post(context.Background(), []byte("hello")))

	assert.Empty(t, ca.got())
	assert.Equal(t, []string{"hello"}, cb.got())
	assert.Equal(t, []string{"hello"}, cc.got())
}

func TestHub_SynchronousDeliversInJoinOrder(t *testing.T) {
	h := NewHub(WithSynchronous())
	sender := h.Join()

	var mu sync.Mutex
	var order []string
	for _, name := range []string{"b", "c", "d", "e"} {
		m := h.Join()
		m.OnMessage(func([]byte) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		})
	}

	require.NoError(t, sender.Post(context.Background(), []byte("x")))
	assert.Equal(t, []string{"b", "c", "d", "e"}, order)
}

func TestHub_Loopback(t *testing.T) {
	h := NewHub(WithSynchronous(), WithLoopback())
	a, ca := join(h)

	require.NoError(t, a.Post(context.Background(), []byte("echo")))
	assert.Equal(t, []string{"echo"}, ca.got())
}

func TestHub_AsyncPreservesSenderOrder(t *testing.T) {
	h := NewHub()
	a, _ := join(h)
	b, cb := join(h)
	defer a.Close()
	defer b.Close()

	want := []string{"1", "2", "3", "4", "5"}
	for _, msg := range want {
		require.NoError(t, a.Post(context.Background(), []byte(msg)))
	}

	require.Eventually(t, func() bool { return len(cb.got()) == len(want) },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, want, cb.got())
}

func TestHub_FullInboxDrops(t *testing.T) {
	h := NewHub(WithBuffer(1))
	a := h.Join()
	b := h.Join()
	defer a.Close()
	defer b.Close()

	release := make(chan struct{})
	var mu sync.Mutex
	delivered := 0
	b.OnMessage(func([]byte) {
		<-release
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	// First message parks the delivery goroutine, second fills the inbox,
	// the rest overflow.
	require.NoError(t, a.Post(context.Background(), []byte("1")))
	require.Eventually(t, func() bool { return b.inbox.Len() == 0 }, time.Second, time.Millisecond)
	for _, msg := range []string{"2", "3", "4"} {
		require.NoError(t, a.Post(context.Background(), []byte(msg)))
	}

	assert.Equal(t, int64(2), h.Dropped())
	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered == 2
	}, time.Second, 5*time.Millisecond)
}

func TestMedium_CloseLeavesHub(t *testing.T) {
	h := NewHub(WithSynchronous())
	a, _ := join(h)
	b, cb := join(h)
	require.Equal(t, 2, h.Peers())

	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "Close is idempotent")
	assert.Equal(t, 1, h.Peers())

	require.NoError(t, a.Post(context.Background(), []byte("gone")))
	assert.Empty(t, cb.got())

	assert.ErrorIs(t, b.Post(context.Background(), []byte("x")), ErrClosed)
}

func TestMedium_PostHonoursCancelledContext(t *testing.T) {
	h := NewHub(WithSynchronous())
	a, _ := join(h)
	_, cb := join(h)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, a.Post(ctx, []byte("late")), context.Canceled)
	assert.Empty(t, cb.got())
}

func TestMedium_NoHandlerDiscards(t *testing.T) {
	h := NewHub(WithSynchronous())
	a := h.Join()
	h.Join()

	assert.NotPanics(t, func() {
		_ = a.Post(context.Background(), []byte("nobody listening"))
	})
}

func TestMedium_ReceiversGetIndependentCopies(t *testing.T) {
	h := NewHub(WithSynchronous())
	a := h.Join()
	b := h.Join()
	var got []byte
	b.OnMessage(func(data []byte) { got = data })

	payload := []byte("abc")
	require.NoError(t, a.Post(context.Background(), payload))
	payload[0] = 'X'

	assert.Equal(t, "abc", string(got))
}
