package broadcast

import "context"

// Medium is an origin-scoped broadcast channel shared by every replica.
//
// Post is fire-and-forget: no acknowledgement, no delivery receipt. A medium
// may or may not deliver a replica's own posts back to it; the Broadcaster
// filters echoes either way.
//
// OnMessage registers the receiver for incoming messages. Media call it
// from their own goroutine; the Broadcaster registers exactly one receiver.
type Medium interface {
	Post(ctx context.Context, data []byte) error
	OnMessage(handler func(data []byte))
	Close() error
}

// Connection is implemented by media that hold a connection which can be
// lost. Done is closed once the medium will deliver no more messages,
// whether it was closed or the connection dropped.
type Connection interface {
	Done() <-chan struct{}
}
