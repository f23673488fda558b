package connection

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server. The handler also receives
// the upgrade request so tests can inspect query parameters.
func mockWSServer(t *testing.T, handler func(*websocket.Conn, *http.Request)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn, r)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testConfig(url string) Config {
	return Config{
		URL:                  url,
		HandshakeTimeout:     2 * time.Second,
		WriteTimeout:         time.Second,
		PingInterval:         time.Minute,
		ReconnectBaseDelay:   10 * time.Millisecond,
		ReconnectMaxDelay:    100 * time.Millisecond,
		MaxReconnectAttempts: 5,
	}
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// stubTokens is a scriptable TokenSource.
type stubTokens struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, call int) (string, error)
}

func (s *stubTokens) FetchToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	return s.fn(ctx, call)
}

func (s *stubTokens) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fatalErr is a non-retryable token failure.
type fatalErr struct{}

func (fatalErr) Error() string   { return "session invalid" }
func (fatalErr) Retryable() bool { return false }

func TestManager_ConnectAndDisconnect(t *testing.T) {
	var closeCode atomic.Int64
	server := mockWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					closeCode.Store(int64(ce.Code))
				}
				return
			}
		}
	})
	defer server.Close()

	var connected atomic.Int64
	m := NewManager(testConfig(wsURL(server)), nil)
	m.SetHandlers(Handlers{
		OnConnected: func() { connected.Add(1) },
	})

	m.Connect()
	waitFor(t, time.Second, func() bool { return m.Status() == StatusConnected }, "connected status")

	if got := connected.Load(); got != 1 {
		t.Errorf("OnConnected fired %d times, want 1", got)
	}

	m.Disconnect()
	if m.Status() != StatusDisconnected {
		t.Errorf("Status() = %s after Disconnect, want disconnected", m.Status())
	}
	waitFor(t, time.Second, func() bool {
		return closeCode.Load() == int64(websocket.CloseNormalClosure)
	}, "normal close frame at server")

	// Idempotent: a second Disconnect is a no-op.
	m.Disconnect()
}

func TestManager_ConnectIdempotent(t *testing.T) {
	var upgrades atomic.Int64
	server := mockWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		upgrades.Add(1)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	m := NewManager(testConfig(wsURL(server)), nil)
	defer m.Disconnect()

	m.Connect()
	m.Connect()
	m.Connect()
	waitFor(t, time.Second, func() bool { return m.Status() == StatusConnected }, "connected status")
	m.Connect()

	time.Sleep(50 * time.Millisecond)
	if got := upgrades.Load(); got != 1 {
		t.Errorf("server saw %d connections, want 1", got)
	}
}

func TestManager_TokenEmbeddedInURL(t *testing.T) {
	var gotToken atomic.Value
	server := mockWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		gotToken.Store(r.URL.Query().Get("connection_token"))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	cfg := testConfig(wsURL(server))
	cfg.TokenSource = &stubTokens{fn: func(ctx context.Context, call int) (string, error) {
		return "tok-xyz", nil
	}}

	m := NewManager(cfg, nil)
	defer m.Disconnect()

	m.Connect()
	waitFor(t, time.Second, func() bool { return m.Status() == StatusConnected }, "connected status")

	if got, _ := gotToken.Load().(string); got != "tok-xyz" {
		t.Errorf("connection_token = %q, want %q", got, "tok-xyz")
	}
}

func TestManager_NoTokenParamWithoutTokenSource(t *testing.T) {
	var hadParam atomic.Bool
	server := mockWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		_, ok := r.URL.Query()["connection_token"]
		hadParam.Store(ok)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	m := NewManager(testConfig(wsURL(server)), nil)
	defer m.Disconnect()

	m.Connect()
	waitFor(t, time.Second, func() bool { return m.Status() == StatusConnected }, "connected status")

	if hadParam.Load() {
		t.Error("connection_token parameter present, want absent")
	}
}

func TestManager_AuthFailureNoReconnect(t *testing.T) {
	var upgrades atomic.Int64
	server := mockWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		upgrades.Add(1)
	})
	defer server.Close()

	tokens := &stubTokens{fn: func(ctx context.Context, call int) (string, error) {
		return "", fatalErr{}
	}}
	cfg := testConfig(wsURL(server))
	cfg.TokenSource = tokens

	var authSignals atomic.Int64
	m := NewManager(cfg, nil)
	m.SetHandlers(Handlers{
		OnStatus: func(status Status, err error) {
			if errors.Is(err, ErrAuthRequired) {
				authSignals.Add(1)
			}
		},
	})

	m.Connect()
	waitFor(t, time.Second, func() bool { return authSignals.Load() == 1 }, "auth-required signal")

	// No reconnect may ever be scheduled after an auth failure.
	time.Sleep(100 * time.Millisecond)
	if m.Status() != StatusDisconnected {
		t.Errorf("Status() = %s, want disconnected", m.Status())
	}
	if got := tokens.callCount(); got != 1 {
		t.Errorf("token fetched %d times, want 1", got)
	}
	if got := authSignals.Load(); got != 1 {
		t.Errorf("auth signal raised %d times, want 1", got)
	}
	if got := upgrades.Load(); got != 0 {
		t.Errorf("server saw %d connections, want 0", got)
	}
}

func TestManager_TransientTokenFailureRetries(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	tokens := &stubTokens{fn: func(ctx context.Context, call int) (string, error) {
		if call == 1 {
			return "", errors.New("gateway hiccup")
		}
		return "tok", nil
	}}
	cfg := testConfig(wsURL(server))
	cfg.TokenSource = tokens

	m := NewManager(cfg, nil)
	defer m.Disconnect()

	m.Connect()
	waitFor(t, time.Second, func() bool { return m.Status() == StatusConnected }, "connected after retry")

	if got := tokens.callCount(); got != 2 {
		t.Errorf("token fetched %d times, want 2", got)
	}
	if got := m.Stats().ReconnectAttempts; got != 0 {
		t.Errorf("ReconnectAttempts = %d after successful open, want 0", got)
	}
}

func TestManager_DisconnectDuringTokenFetch(t *testing.T) {
	var upgrades atomic.Int64
	server := mockWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		upgrades.Add(1)
	})
	defer server.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	tokens := &stubTokens{fn: func(ctx context.Context, call int) (string, error) {
		close(started)
		select {
		case <-release:
			return "tok", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}}
	cfg := testConfig(wsURL(server))
	cfg.TokenSource = tokens

	var onConnected atomic.Int64
	m := NewManager(cfg, nil)
	m.SetHandlers(Handlers{
		OnConnected: func() { onConnected.Add(1) },
	})

	m.Connect()
	<-started
	m.Disconnect()
	close(release)

	time.Sleep(100 * time.Millisecond)
	if got := onConnected.Load(); got != 0 {
		t.Errorf("OnConnected fired %d times, want 0", got)
	}
	if got := upgrades.Load(); got != 0 {
		t.Errorf("server saw %d connections, want 0", got)
	}
	if m.Status() != StatusDisconnected {
		t.Errorf("Status() = %s, want disconnected", m.Status())
	}
}

func TestManager_ReconnectAfterAbnormalClose(t *testing.T) {
	var upgrades atomic.Int64
	server := mockWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		n := upgrades.Add(1)
		if n == 1 {
			// Drop the first connection without a close frame.
			conn.UnderlyingConn().Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	var onConnected, onDisconnected atomic.Int64
	m := NewManager(testConfig(wsURL(server)), nil)
	m.SetHandlers(Handlers{
		OnConnected: func() { onConnected.Add(1) },
		OnDisconnected: func(err error) {
			if err != nil {
				onDisconnected.Add(1)
			}
		},
	})
	defer m.Disconnect()

	m.Connect()
	waitFor(t, 2*time.Second, func() bool { return onConnected.Load() == 2 }, "reconnect after abnormal close")

	if got := onDisconnected.Load(); got != 1 {
		t.Errorf("OnDisconnected fired %d times with error, want 1", got)
	}
	if got := m.Stats().ReconnectAttempts; got != 0 {
		t.Errorf("ReconnectAttempts = %d after successful reopen, want 0", got)
	}
}

func TestManager_AuthCloseCodeNoReconnect(t *testing.T) {
	var upgrades atomic.Int64
	server := mockWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		upgrades.Add(1)
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(4001, "token expired"),
			time.Now().Add(time.Second),
		)
		conn.ReadMessage() // wait for the peer to go away
	})
	defer server.Close()

	var authSignals atomic.Int64
	m := NewManager(testConfig(wsURL(server)), nil)
	m.SetHandlers(Handlers{
		OnStatus: func(status Status, err error) {
			if errors.Is(err, ErrAuthRequired) {
				authSignals.Add(1)
			}
		},
	})

	m.Connect()
	waitFor(t, time.Second, func() bool { return authSignals.Load() == 1 }, "auth-required signal")

	time.Sleep(100 * time.Millisecond)
	if got := upgrades.Load(); got != 1 {
		t.Errorf("server saw %d connections, want 1 (no reconnect)", got)
	}
	if m.Status() != StatusDisconnected {
		t.Errorf("Status() = %s, want disconnected", m.Status())
	}
}

func TestManager_ExhaustedRetriesTerminalOnce(t *testing.T) {
	// A server that is already gone: every dial fails.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := wsURL(server)
	server.Close()

	cfg := testConfig(url)
	cfg.MaxReconnectAttempts = 2

	var terminal atomic.Int64
	m := NewManager(cfg, nil)
	m.SetHandlers(Handlers{
		OnStatus: func(status Status, err error) {
			if status == StatusError {
				terminal.Add(1)
			}
		},
	})

	m.Connect()
	waitFor(t, 2*time.Second, func() bool { return m.Status() == StatusError }, "terminal error status")

	time.Sleep(200 * time.Millisecond)
	if got := terminal.Load(); got != 1 {
		t.Errorf("terminal error emitted %d times, want 1", got)
	}

	// Manual Connect resumes from the terminal state.
	live := mockWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer live.Close()

	m2 := NewManager(testConfig(wsURL(live)), nil)
	defer m2.Disconnect()
	m2.Connect()
	waitFor(t, time.Second, func() bool { return m2.Status() == StatusConnected }, "fresh manager connects")
}

func TestManager_ResumeBypassesBackoffWait(t *testing.T) {
	var allow atomic.Bool
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allow.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cfg := testConfig(wsURL(server))
	cfg.ReconnectBaseDelay = 10 * time.Second // wait Resume must bypass
	cfg.ReconnectMaxDelay = 10 * time.Second

	m := NewManager(cfg, nil)
	defer m.Disconnect()

	m.Connect()
	waitFor(t, time.Second, func() bool { return m.Status() == StatusDisconnected }, "first attempt failed")

	allow.Store(true)
	m.Resume()
	waitFor(t, time.Second, func() bool { return m.Status() == StatusConnected }, "connected via resume")

	if got := m.Stats().ReconnectAttempts; got != 0 {
		t.Errorf("ReconnectAttempts = %d after resume, want 0", got)
	}
}

func TestManager_HeartbeatSendsPing(t *testing.T) {
	frames := make(chan []byte, 16)
	server := mockWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- data
		}
	})
	defer server.Close()

	cfg := testConfig(wsURL(server))
	cfg.PingInterval = 20 * time.Millisecond

	m := NewManager(cfg, nil)
	defer m.Disconnect()
	m.Connect()

	select {
	case data := <-frames:
		var frame struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("heartbeat frame not json: %v", err)
		}
		if frame.Type != "ping" {
			t.Errorf("frame type = %q, want ping", frame.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no heartbeat frame received")
	}
}

func TestManager_FramesForwardedInOrder(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for i := 0; i < 20; i++ {
			msg := []byte(`{"event":"new_message","seq":` + string(rune('0'+i%10)) + `}`)
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
		conn.ReadMessage()
	})
	defer server.Close()

	var mu sync.Mutex
	var got [][]byte
	m := NewManager(testConfig(wsURL(server)), nil)
	m.SetHandlers(Handlers{
		OnFrame: func(data []byte) {
			mu.Lock()
			got = append(got, data)
			mu.Unlock()
		},
	})
	defer m.Disconnect()

	m.Connect()
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 20
	}, "all frames forwarded")

	mu.Lock()
	defer mu.Unlock()
	for i, data := range got {
		want := byte('0' + i%10)
		if data[len(data)-2] != want {
			t.Fatalf("frame %d out of order: %s", i, data)
		}
	}
}

func TestManager_SendWhileDisconnected(t *testing.T) {
	m := NewManager(testConfig("ws://127.0.0.1:1/ws"), nil)
	if err := m.Send(map[string]string{"type": "ping"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send error = %v, want ErrNotConnected", err)
	}
}

func TestManager_SingleSocketUnderStorm(t *testing.T) {
	var open atomic.Int64
	server := mockWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		open.Add(1)
		defer open.Add(-1)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	m := NewManager(testConfig(wsURL(server)), nil)
	for i := 0; i < 15; i++ {
		m.Connect()
		time.Sleep(time.Duration(i%4) * 3 * time.Millisecond)
		m.Disconnect()
	}
	m.Connect()
	waitFor(t, time.Second, func() bool { return m.Status() == StatusConnected }, "final connect")

	// Everything abandoned mid-flight must have been closed; only the
	// final connection may remain.
	waitFor(t, time.Second, func() bool { return open.Load() == 1 }, "exactly one socket open")

	m.Disconnect()
	waitFor(t, time.Second, func() bool { return open.Load() == 0 }, "all sockets closed")
}

func TestManager_ZeroValueConfigUsesDefaults(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	// URL-only config: every timing knob left at its zero value. The
	// manager must fall back to defaults rather than arm a zero-interval
	// heartbeat ticker or treat the attempt budget as already spent.
	m := NewManager(Config{URL: wsURL(server)}, nil)

	m.Connect()
	waitFor(t, time.Second, func() bool { return m.Status() == StatusConnected }, "connected status")

	if err := m.Send(map[string]string{"type": "ping"}); err != nil {
		t.Errorf("Send with defaulted write timeout failed: %v", err)
	}

	m.Disconnect()
	waitFor(t, time.Second, func() bool { return m.Status() == StatusDisconnected }, "disconnected status")
}

func TestManager_ResumeSupersedesPendingTimer(t *testing.T) {
	// Dead endpoint with a long backoff so the reconnect timer stays
	// armed while we probe.
	cfg := testConfig("ws://127.0.0.1:1/ws")
	cfg.ReconnectBaseDelay = 10 * time.Second
	cfg.ReconnectMaxDelay = 20 * time.Second

	m := NewManager(cfg, nil)
	m.Connect()
	waitFor(t, time.Second, func() bool { return m.Status() == StatusDisconnected }, "backoff wait armed")

	before := m.Stats().Generation
	m.Resume()

	// The resumed attempt runs under a fresh generation, so a timer
	// callback that already fired but has not locked yet can never start
	// a second attempt for the same cycle.
	if after := m.Stats().Generation; after <= before {
		t.Errorf("Generation = %d after Resume, want > %d", after, before)
	}
	waitFor(t, time.Second, func() bool { return m.Status() != StatusConnecting }, "resumed attempt settled")

	// After an intentional teardown no timer is armed; Resume must be a
	// no-op and leave the generation alone.
	m.Disconnect()
	idle := m.Stats().Generation
	m.Resume()
	if got := m.Stats().Generation; got != idle {
		t.Errorf("Generation = %d after idle Resume, want %d", got, idle)
	}
}

func TestManager_DisconnectDuringHandshake(t *testing.T) {
	release := make(chan struct{})
	handshakes := make(chan struct{}, 4)
	serverDone := make(chan struct{}, 4)

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handshakes <- struct{}{}
		<-release
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// The client abandoned the handshake; nothing was opened.
			serverDone <- struct{}{}
			return
		}
		defer conn.Close()
		// A socket that opened this late must be closed by the client
		// without ever being surfaced.
		conn.ReadMessage()
		serverDone <- struct{}{}
	}))
	defer server.Close()

	var connected atomic.Int64
	m := NewManager(testConfig(wsURL(server)), nil)
	m.SetHandlers(Handlers{
		OnConnected: func() { connected.Add(1) },
	})

	m.Connect()
	select {
	case <-handshakes:
	case <-time.After(time.Second):
		t.Fatal("dial never reached the server")
	}

	m.Disconnect()
	close(release)

	select {
	case <-serverDone:
	case <-time.After(2 * time.Second):
		t.Fatal("handshake socket never torn down")
	}

	time.Sleep(50 * time.Millisecond)
	if got := connected.Load(); got != 0 {
		t.Errorf("OnConnected fired %d times, want 0", got)
	}
	if st := m.Status(); st != StatusDisconnected {
		t.Errorf("Status = %v, want StatusDisconnected", st)
	}
}
