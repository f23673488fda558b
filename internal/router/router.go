// Package router implements the Message Router: it parses raw inbound
// frames, swallows protocol-level control frames, and forwards everything
// else to the single registered consumer handler in arrival order.
package router

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/codearena/realtime-go/internal/protocol"
)

// Handler receives every routed (non-control) event.
type Handler func(ev protocol.ServerEvent)

// Stats contains routing counters.
type Stats struct {
	Received    int64
	Routed      int64
	ParseErrors int64
	Pongs       int64
}

// Router dispatches inbound frames to one registered handler. Malformed
// frames are logged and dropped; pong frames are consumed and never
// forwarded.
type Router struct {
	logger  *slog.Logger
	handler atomic.Pointer[Handler]

	mu          sync.Mutex
	received    int64
	routed      int64
	parseErrors int64
	pongs       int64
}

// New creates a Router.
func New(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{logger: logger}
}

// SetHandler registers the consumer handler, replacing any previous one.
func (r *Router) SetHandler(h Handler) {
	r.handler.Store(&h)
}

// Dispatch parses one raw frame and routes it. Called from the connection
// read loop, one frame at a time, so delivery order is arrival order.
func (r *Router) Dispatch(data []byte) {
	r.mu.Lock()
	r.received++
	r.mu.Unlock()

	ev, err := protocol.ParseServerEvent(data)
	if err != nil {
		r.logger.Warn("dropping malformed frame", "error", err)
		r.mu.Lock()
		r.parseErrors++
		r.mu.Unlock()
		return
	}

	if ev.Event == protocol.EventPong {
		r.mu.Lock()
		r.pongs++
		r.mu.Unlock()
		return
	}

	h := r.handler.Load()
	if h == nil {
		r.logger.Debug("no handler registered, dropping frame", "event", ev.Event)
		return
	}
	(*h)(ev)

	r.mu.Lock()
	r.routed++
	r.mu.Unlock()
}

// Stats returns current routing counters.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Received:    r.received,
		Routed:      r.routed,
		ParseErrors: r.parseErrors,
		Pongs:       r.pongs,
	}
}
