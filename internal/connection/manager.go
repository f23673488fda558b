package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codearena/realtime-go/internal/protocol"
)

// Manager owns one WebSocket connection and its full lifecycle:
// authenticate, dial, heartbeat, detect failure, reconnect with backoff,
// terminal failure. All methods are safe for concurrent use.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	// Current handler set. Invocations always go through this cell so a
	// handler swap takes effect for every later callback.
	handlers atomic.Pointer[Handlers]

	mu             sync.Mutex
	status         Status
	gen            uint64 // bumped by Connect, Disconnect, and Resume
	conn           *websocket.Conn
	connDone       chan struct{} // closed when the current socket is torn down
	intentional    bool          // Disconnect was called; suppress reconnects
	attempts       int
	reconnectTimer *time.Timer
	cycleCtx       context.Context
	cycleCancel    context.CancelFunc

	// Write serialization (heartbeat vs consumer sends)
	writeMu sync.Mutex
}

// NewManager creates a Connection Manager. It does not connect. Zero
// timing fields in cfg fall back to the DefaultConfig values.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	m := &Manager{
		cfg:    cfg,
		logger: logger,
		status: StatusDisconnected,
	}
	m.handlers.Store(&Handlers{})
	return m
}

// SetHandlers replaces the consumer callback set.
func (m *Manager) SetHandlers(h Handlers) {
	m.handlers.Store(&h)
}

// Status returns the current lifecycle status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Stats returns a snapshot of the manager state.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Status:            m.status,
		ReconnectAttempts: m.attempts,
		Generation:        m.gen,
	}
}

// Connect starts a connection cycle. It is a no-op while already
// connecting or connected. It returns immediately; progress is reported
// through the handler set.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.status == StatusConnecting || m.status == StatusConnected {
		m.mu.Unlock()
		return
	}
	m.stopReconnectLocked()
	if m.cycleCancel != nil {
		m.cycleCancel()
	}
	m.gen++
	g := m.gen
	m.intentional = false
	m.attempts = 0
	m.cycleCtx, m.cycleCancel = context.WithCancel(context.Background())
	ctx := m.cycleCtx
	notify := m.setStatusLocked(StatusConnecting, nil)
	m.mu.Unlock()

	notify()
	go m.attempt(ctx, g)
}

// Disconnect tears the connection down and invalidates every in-flight
// asynchronous step of the current cycle. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	m.intentional = true
	m.stopReconnectLocked()
	if m.cycleCancel != nil {
		m.cycleCancel()
		m.cycleCancel = nil
	}
	conn := m.conn
	m.conn = nil
	m.closeConnDoneLocked()
	notify := m.setStatusLocked(StatusDisconnected, nil)
	m.mu.Unlock()

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}
	notify()
	if conn != nil {
		if h := m.handlers.Load(); h.OnDisconnected != nil {
			h.OnDisconnected(nil)
		}
	}
}

// Resume forces an immediate retry while a reconnect wait is pending,
// with the attempt counter reset. Intended for external wake signals
// (e.g. the page became visible again). No-op otherwise.
func (m *Manager) Resume() {
	m.mu.Lock()
	if m.intentional || m.reconnectTimer == nil {
		m.mu.Unlock()
		return
	}
	m.stopReconnectLocked()
	// Supersede the timer's generation: if it fired concurrently and its
	// callback has not taken the lock yet, the callback becomes a no-op
	// instead of launching a second attempt.
	m.gen++
	g := m.gen
	m.attempts = 0
	ctx := m.cycleCtx
	notify := m.setStatusLocked(StatusConnecting, nil)
	m.mu.Unlock()

	m.logger.Info("resume signal, retrying immediately")
	notify()
	go m.attempt(ctx, g)
}

// Send marshals v to JSON and writes it to the connection.
func (m *Manager) Send(v any) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.status == StatusConnected
	m.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// attempt runs one connection attempt under generation g: token fetch,
// dial, open. Every step re-checks g before touching shared state.
func (m *Manager) attempt(ctx context.Context, g uint64) {
	target := m.cfg.URL

	if m.cfg.TokenSource != nil {
		tok, err := m.cfg.TokenSource.FetchToken(ctx)
		if m.stale(g) {
			return
		}
		if err != nil {
			if isRetryable(err) {
				m.scheduleReconnect(g, err)
			} else {
				m.failAuth(g, err)
			}
			return
		}
		target, err = withToken(target, tok)
		if err != nil {
			m.failAuth(g, err)
			return
		}
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: m.cfg.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		if m.stale(g) {
			return
		}
		// Handshake timeout and refused dials are transient.
		m.scheduleReconnect(g, err)
		return
	}

	m.mu.Lock()
	if g != m.gen || m.intentional {
		m.mu.Unlock()
		// Disconnect ran during the token fetch or the handshake. The
		// socket opened too late to matter: close it unread.
		conn.Close()
		return
	}
	m.conn = conn
	m.connDone = make(chan struct{})
	done := m.connDone
	m.attempts = 0
	notify := m.setStatusLocked(StatusConnected, nil)
	m.mu.Unlock()

	m.logger.Info("connected", "url", m.cfg.URL, "generation", g)
	notify()
	if h := m.handlers.Load(); h.OnConnected != nil {
		h.OnConnected()
	}

	go m.readLoop(conn, g)
	go m.heartbeatLoop(done)
}

// readLoop forwards inbound frames in arrival order until the socket dies.
func (m *Manager) readLoop(conn *websocket.Conn, g uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleReadError(conn, g, err)
			return
		}
		if h := m.handlers.Load(); h.OnFrame != nil {
			h.OnFrame(data)
		}
	}
}

// handleReadError processes a socket failure: tear down, notify, and
// schedule a reconnect unless the close was intentional or auth-class.
func (m *Manager) handleReadError(conn *websocket.Conn, g uint64, err error) {
	m.mu.Lock()
	if g != m.gen || m.intentional {
		// Disconnect already ran; it owns the teardown.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.closeConnDoneLocked()
	notify := m.setStatusLocked(StatusDisconnected, nil)
	m.mu.Unlock()

	conn.Close()
	m.logger.Warn("connection lost", "error", err)
	notify()
	if h := m.handlers.Load(); h.OnDisconnected != nil {
		h.OnDisconnected(err)
	}

	if isAuthClose(err) {
		m.failAuth(g, err)
		return
	}
	m.scheduleReconnect(g, err)
}

// scheduleReconnect arms the backoff timer, or surfaces the terminal
// error once the attempt budget is spent. The attempt counter is
// incremented when the timer fires, not when it is armed.
func (m *Manager) scheduleReconnect(g uint64, cause error) {
	m.mu.Lock()
	if g != m.gen || m.intentional {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		notify := m.setStatusLocked(StatusError, fmt.Errorf("%w: %v", ErrRetriesExhausted, cause))
		m.mu.Unlock()
		m.logger.Error("reconnect attempts exhausted", "attempts", m.cfg.MaxReconnectAttempts, "error", cause)
		notify()
		return
	}

	delay := backoffDelay(m.attempts, m.cfg.ReconnectBaseDelay, m.cfg.ReconnectMaxDelay)
	attempt := m.attempts
	notify := m.setStatusLocked(StatusDisconnected, nil)
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		if g != m.gen || m.intentional {
			m.mu.Unlock()
			return
		}
		m.reconnectTimer = nil
		m.attempts++
		ctx := m.cycleCtx
		n := m.setStatusLocked(StatusConnecting, nil)
		m.mu.Unlock()
		n()
		m.attempt(ctx, g)
	})
	m.mu.Unlock()

	m.logger.Info("reconnect scheduled",
		"delay", delay,
		"attempt", attempt,
		"error", cause,
	)
	notify()
}

// failAuth surfaces a non-retryable authentication failure. No reconnect
// is scheduled; the consumer must call Connect again.
func (m *Manager) failAuth(g uint64, cause error) {
	m.mu.Lock()
	if g != m.gen || m.intentional {
		m.mu.Unlock()
		return
	}
	notify := m.setStatusLocked(StatusDisconnected, fmt.Errorf("%w: %v", ErrAuthRequired, cause))
	m.mu.Unlock()

	m.logger.Warn("authentication failed", "error", cause)
	notify()
}

// heartbeatLoop sends the application ping frame until the socket is
// torn down.
func (m *Manager) heartbeatLoop(done chan struct{}) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := m.Send(protocol.NewPing()); err != nil {
				m.logger.Debug("heartbeat send failed", "error", err)
			}
		}
	}
}

// stale reports whether generation g has been superseded.
func (m *Manager) stale(g uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return g != m.gen
}

// setStatusLocked updates the status and returns the notification to run
// after the lock is released. Returns a no-op when nothing changed and
// no error accompanied the transition.
func (m *Manager) setStatusLocked(status Status, err error) func() {
	if m.status == status && err == nil {
		return func() {}
	}
	m.status = status
	return func() {
		if h := m.handlers.Load(); h.OnStatus != nil {
			h.OnStatus(status, err)
		}
	}
}

// stopReconnectLocked cancels a pending reconnect timer.
func (m *Manager) stopReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

// closeConnDoneLocked signals per-socket goroutines to exit.
func (m *Manager) closeConnDoneLocked() {
	if m.connDone != nil {
		close(m.connDone)
		m.connDone = nil
	}
}

// backoffDelay computes min(base << attempt, max).
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// withToken embeds the connection token as a query parameter.
func withToken(rawURL, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse endpoint url: %w", err)
	}
	q := u.Query()
	q.Set("connection_token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// isRetryable classifies an error: anything that does not explicitly say
// otherwise is treated as transient.
func isRetryable(err error) bool {
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

// isAuthClose reports whether the close code is in the 4000-4099 range
// the server uses for authentication rejections.
func isAuthClose(err error) bool {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code >= 4000 && ce.Code < 4100
}
