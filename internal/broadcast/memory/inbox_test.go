package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInbox_FIFO(t *testing.T) {
	q := newInbox(4)
	q.Enqueue([]byte("a"))
	q.Enqueue([]byte("b"))

	msg, ok := q.TryDequeue()
	assert.True(t, ok)
	assert.Equal(t, "a", string(msg))

	msg, ok = q.TryDequeue()
	assert.True(t, ok)
	assert.Equal(t, "b", string(msg))

	_, ok = q.TryDequeue()
	assert.False(t, ok)
}

func TestInbox_Bounded(t *testing.T) {
	q := newInbox(1)
	assert.True(t, q.Enqueue([]byte("a")))
	assert.False(t, q.Enqueue([]byte("b")))
	assert.Equal(t, 1, q.Len())
}

func TestInbox_CloseRejectsAndWakes(t *testing.T) {
	q := newInbox(1)
	q.Close()
	q.Close() // idempotent

	assert.False(t, q.Enqueue([]byte("a")))
	_, open := <-q.Wait()
	assert.False(t, open)
}
