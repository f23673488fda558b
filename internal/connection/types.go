package connection

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAuthRequired     = errors.New("authentication required")
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
)

// Status is the lifecycle state of the managed connection. StatusError is
// terminal: it is entered only after backoff exhaustion and left only by
// an explicit Connect.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// TokenSource provides a short-lived connection token before each dial.
// A nil TokenSource means the feature endpoint requires no authentication.
type TokenSource interface {
	FetchToken(ctx context.Context) (string, error)
}

// Handlers is the consumer callback set. The manager keeps the current set
// in a mutable cell and always invokes through it, so callers can swap
// handlers at any time without racing in-flight callbacks against stale
// captures.
type Handlers struct {
	// OnFrame receives every raw inbound frame in arrival order.
	OnFrame func(data []byte)

	// OnConnected fires after each successful open, once the status is
	// already StatusConnected.
	OnConnected func()

	// OnDisconnected fires when an open socket goes away. err is nil for
	// an intentional Disconnect, the close error otherwise.
	OnDisconnected func(err error)

	// OnStatus fires on every status transition. err is non-nil for the
	// authentication-required signal and the terminal retries-exhausted
	// error; both are raised exactly once per occurrence.
	OnStatus func(status Status, err error)
}

// Config configures a Manager.
type Config struct {
	URL                  string        // WebSocket URL for the feature endpoint
	TokenSource          TokenSource   // nil = no token parameter added
	HandshakeTimeout     time.Duration // connection-establishment timeout
	WriteTimeout         time.Duration // write deadline for sends
	PingInterval         time.Duration // application-level heartbeat interval
	ReconnectBaseDelay   time.Duration // first backoff delay
	ReconnectMaxDelay    time.Duration // backoff cap
	MaxReconnectAttempts int           // attempts before the terminal error
}

// DefaultConfig returns sensible defaults for the given endpoint.
func DefaultConfig(url string) Config {
	return Config{
		URL:                  url,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
		PingInterval:         30 * time.Second,
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		MaxReconnectAttempts: 5,
	}
}

// applyDefaults fills zero timing fields so a URL-only Config is usable.
func (c *Config) applyDefaults() {
	def := DefaultConfig(c.URL)
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		c.ReconnectMaxDelay = c.ReconnectBaseDelay
	}
	if c.MaxReconnectAttempts < 1 {
		c.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
}

// Stats is a point-in-time snapshot of the manager.
type Stats struct {
	Status            Status
	ReconnectAttempts int
	Generation        uint64
}

// retryable is implemented by errors that know whether retrying can help.
// Errors without the method are treated as transient.
type retryable interface {
	Retryable() bool
}
