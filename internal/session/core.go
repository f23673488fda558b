package session

import (
	"log/slog"
	"strings"

	"github.com/codearena/realtime-go/internal/connection"
	"github.com/codearena/realtime-go/internal/router"
)

// Core bundles the Connection Manager with a Message Router and keeps the
// two wired: every raw inbound frame flows through the router, never to
// the consumer directly.
type Core struct {
	Manager *connection.Manager
	Router  *router.Router

	logger *slog.Logger
}

// NewCore creates the manager/router pair for one feature endpoint.
// cfg.URL must be the complete endpoint URL (see Endpoint).
func NewCore(cfg connection.Config, logger *slog.Logger) *Core {
	if logger == nil {
		logger = slog.Default()
	}
	return &Core{
		Manager: connection.NewManager(cfg, logger),
		Router:  router.New(logger),
		logger:  logger,
	}
}

// Bind installs the consumer handler set. The raw-frame hook is always
// the router; the routed-event handler goes through SetHandler.
func (c *Core) Bind(h connection.Handlers, onEvent router.Handler) {
	c.Router.SetHandler(onEvent)
	h.OnFrame = c.Router.Dispatch
	c.Manager.SetHandlers(h)
}

// Connect starts the connection cycle.
func (c *Core) Connect() { c.Manager.Connect() }

// Disconnect tears the connection down.
func (c *Core) Disconnect() { c.Manager.Disconnect() }

// Resume forces an immediate reconnect retry if one is pending.
func (c *Core) Resume() { c.Manager.Resume() }

// Send forwards an outbound frame to the manager.
func (c *Core) Send(v any) error { return c.Manager.Send(v) }

// Status returns the connection status.
func (c *Core) Status() connection.Status { return c.Manager.Status() }

// Endpoint joins a WebSocket base URL and a feature path.
func Endpoint(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
