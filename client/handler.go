package client

import (
	"github.com/panjf2000/ants/v2"

	"github.com/axmq/axon/encoding"
)

// Handler receives user-facing events from the runner: delivered publishes,
// acknowledgements, and received DISCONNECT, AUTH and PINGRESP packets.
//
// Handle is invoked serially from the runner goroutine and must not block;
// long work should be dispatched to another goroutine, for example by
// wrapping the handler with NewPoolHandler.
type Handler interface {
	Handle(pkt encoding.Packet)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(pkt encoding.Packet)

// Handle calls f(pkt).
func (f HandlerFunc) Handle(pkt encoding.Packet) { f(pkt) }

// NopHandler discards every event.
func NopHandler() Handler {
	return HandlerFunc(func(encoding.Packet) {})
}

// Interceptor wraps a Handler with a cross-cutting concern such as logging,
// metrics or tracing. Interceptors are applied in order, the first wrapping
// outermost.
type Interceptor func(next Handler) Handler

// chain applies interceptors around a handler.
func chain(h Handler, interceptors []Interceptor) Handler {
	for i := len(interceptors) - 1; i >= 0; i-- {
		h = interceptors[i](h)
	}
	return h
}

// PoolHandler dispatches events to a goroutine pool so a slow consumer
// cannot stall the runner. Events are processed concurrently, so the serial
// delivery guarantee of the plain Handler does not hold behind a PoolHandler.
type PoolHandler struct {
	pool *ants.Pool
	next Handler
}

// NewPoolHandler wraps next with a pool of at most size goroutines.
func NewPoolHandler(size int, next Handler) (*PoolHandler, error) {
	pool, err := ants.NewPool(size, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	return &PoolHandler{pool: pool, next: next}, nil
}

// Handle submits the event to the pool, falling back to inline delivery when
// the pool is saturated.
func (h *PoolHandler) Handle(pkt encoding.Packet) {
	if err := h.pool.Submit(func() { h.next.Handle(pkt) }); err != nil {
		h.next.Handle(pkt)
	}
}

// Release shuts the pool down. Pending tasks are abandoned.
func (h *PoolHandler) Release() {
	h.pool.Release()
}
