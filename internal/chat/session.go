package chat

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/codearena/realtime-go/internal/connection"
	"github.com/codearena/realtime-go/internal/protocol"
	"github.com/codearena/realtime-go/internal/session"
)

// ErrNoHistory is returned by RequestHistory once the server reported
// that no further history exists.
var ErrNoHistory = errors.New("no further history")

// Default limits.
const (
	DefaultBufferCap    = 100
	DefaultHistoryLimit = 50
)

// Config configures a chat room session.
type Config struct {
	BaseURL      string // WebSocket base URL, e.g. wss://arena.example.com
	RoomID       string
	BufferCap    int // message retention cap (default 100)
	HistoryLimit int // page size for request_history (default 50)
	TokenSource  connection.TokenSource
	Conn         connection.Config // timing knobs; URL and TokenSource are filled in
}

// Callbacks notify the embedding feature about session changes. All
// callbacks are optional.
type Callbacks struct {
	OnStatus      func(status connection.Status, err error)
	OnUpdate      func() // buffer, presence, typing, or cursor changed
	OnServerError func(ev protocol.ErrorEvent)
}

// Session is the chat room consumer. It owns all room state and never
// touches socket internals: outbound actions go through Send, inbound
// state changes arrive as routed events.
type Session struct {
	cfg    Config
	core   *session.Core
	logger *slog.Logger

	cbs Callbacks

	mu        sync.Mutex
	buffer    *session.Ring[protocol.Message]
	presence  map[string]protocol.User // by user id
	typing    map[string]struct{}      // by username
	cursor    string
	exhausted bool // server reported no further history
}

// NewSession creates a chat session for one room.
func NewSession(cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("room", cfg.RoomID)
	if cfg.BufferCap < 1 {
		cfg.BufferCap = DefaultBufferCap
	}
	if cfg.HistoryLimit < 1 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}

	connCfg := cfg.Conn
	connCfg.URL = session.Endpoint(cfg.BaseURL, "/ws/rooms/"+cfg.RoomID)
	connCfg.TokenSource = cfg.TokenSource

	s := &Session{
		cfg:      cfg,
		core:     session.NewCore(connCfg, logger),
		logger:   logger,
		buffer:   session.NewRing[protocol.Message](cfg.BufferCap),
		presence: make(map[string]protocol.User),
		typing:   make(map[string]struct{}),
	}
	return s
}

// SetCallbacks installs the notification callbacks. Must be called before
// Connect; later calls replace the set for subsequent events.
func (s *Session) SetCallbacks(cbs Callbacks) {
	s.cbs = cbs
	s.bind()
}

// Connect opens the room connection.
func (s *Session) Connect() {
	s.bind()
	s.core.Connect()
}

// Close tears the room connection down.
func (s *Session) Close() {
	s.core.Disconnect()
}

// Resume forces an immediate reconnect retry if one is pending.
func (s *Session) Resume() {
	s.core.Resume()
}

// Status returns the connection status.
func (s *Session) Status() connection.Status {
	return s.core.Status()
}

// SendMessage publishes a message to the room.
func (s *Session) SendMessage(content string) error {
	return s.core.Send(protocol.NewSendMessage(content))
}

// SetTyping signals typing start/stop.
func (s *Session) SetTyping(typing bool) error {
	return s.core.Send(protocol.NewTyping(typing))
}

// RequestHistory asks for the next page of older messages, submitting the
// last cursor verbatim.
func (s *Session) RequestHistory() error {
	s.mu.Lock()
	if s.exhausted {
		s.mu.Unlock()
		return ErrNoHistory
	}
	cursor := s.cursor
	s.mu.Unlock()

	return s.core.Send(protocol.NewRequestHistory(cursor, s.cfg.HistoryLimit))
}

// Messages returns the buffered messages, oldest first.
func (s *Session) Messages() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.Items()
}

// Members returns the current presence set sorted by username.
func (s *Session) Members() []protocol.User {
	s.mu.Lock()
	out := make([]protocol.User, 0, len(s.presence))
	for _, u := range s.presence {
		out = append(out, u)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// TypingUsers returns the usernames currently typing, sorted.
func (s *Session) TypingUsers() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.typing))
	for name := range s.typing {
		out = append(out, name)
	}
	s.mu.Unlock()

	sort.Strings(out)
	return out
}

// HasMoreHistory reports whether another history page can be requested.
func (s *Session) HasMoreHistory() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.exhausted
}

func (s *Session) bind() {
	s.core.Bind(connection.Handlers{
		OnStatus: func(status connection.Status, err error) {
			if s.cbs.OnStatus != nil {
				s.cbs.OnStatus(status, err)
			}
		},
	}, s.handle)
}

// handle is the reducer over routed room events.
func (s *Session) handle(ev protocol.ServerEvent) {
	switch ev.Event {
	case protocol.EventRoomState:
		var p protocol.RoomStateEvent
		if err := ev.Decode(&p); err != nil {
			s.logger.Warn("bad room_state payload", "error", err)
			return
		}
		s.applyRoomState(p)

	case protocol.EventNewMessage:
		var p protocol.NewMessageEvent
		if err := ev.Decode(&p); err != nil {
			s.logger.Warn("bad new_message payload", "error", err)
			return
		}
		s.applyNewMessage(p.Message)

	case protocol.EventTyping:
		var p protocol.TypingEvent
		if err := ev.Decode(&p); err != nil {
			s.logger.Warn("bad typing payload", "error", err)
			return
		}
		s.applyTyping(p)

	case protocol.EventUserJoined:
		var p protocol.UserEvent
		if err := ev.Decode(&p); err != nil {
			s.logger.Warn("bad user_joined payload", "error", err)
			return
		}
		s.applyJoin(p.User)

	case protocol.EventUserLeft:
		var p protocol.UserEvent
		if err := ev.Decode(&p); err != nil {
			s.logger.Warn("bad user_left payload", "error", err)
			return
		}
		s.applyLeave(p.User)

	case protocol.EventMessageHistory:
		var p protocol.MessageHistoryEvent
		if err := ev.Decode(&p); err != nil {
			s.logger.Warn("bad message_history payload", "error", err)
			return
		}
		s.applyHistory(p)

	case protocol.EventError:
		var p protocol.ErrorEvent
		if err := ev.Decode(&p); err != nil {
			s.logger.Warn("bad error payload", "error", err)
			return
		}
		s.logger.Warn("server error", "code", p.Code, "message", p.Message)
		if s.cbs.OnServerError != nil {
			s.cbs.OnServerError(p)
		}
		return

	default:
		s.logger.Debug("ignoring event", "event", ev.Event)
		return
	}

	if s.cbs.OnUpdate != nil {
		s.cbs.OnUpdate()
	}
}

func (s *Session) applyRoomState(p protocol.RoomStateEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer = session.NewRing[protocol.Message](s.cfg.BufferCap)
	for _, msg := range p.Messages {
		s.buffer.Append(msg)
	}
	s.presence = make(map[string]protocol.User, len(p.Members))
	for _, u := range p.Members {
		s.presence[u.UserID] = u
	}
	s.typing = make(map[string]struct{})
	s.cursor = p.Cursor
	s.exhausted = p.Cursor == ""
}

func (s *Session) applyNewMessage(msg protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.containsLocked(msg) {
		return
	}
	s.buffer.Append(msg)
}

func (s *Session) applyTyping(p protocol.TypingEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Typing {
		s.typing[p.Username] = struct{}{}
	} else {
		delete(s.typing, p.Username)
	}
}

func (s *Session) applyJoin(u protocol.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence[u.UserID] = u
}

func (s *Session) applyLeave(u protocol.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.presence, u.UserID)
	// A departed user cannot still be typing.
	delete(s.typing, u.Username)
}

func (s *Session) applyHistory(p protocol.MessageHistoryEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make([]protocol.Message, 0, len(p.Messages))
	for _, msg := range p.Messages {
		if !s.containsLocked(msg) {
			fresh = append(fresh, msg)
		}
	}
	s.buffer.Prepend(fresh)
	s.cursor = p.Cursor
	s.exhausted = p.Cursor == ""
}

// containsLocked reports whether the buffer already holds the message,
// matched by server id or by our own client_msg_id echo.
func (s *Session) containsLocked(msg protocol.Message) bool {
	for _, have := range s.buffer.Items() {
		if have.ID != "" && have.ID == msg.ID {
			return true
		}
		if have.ClientMsgID != "" && have.ClientMsgID == msg.ClientMsgID {
			return true
		}
	}
	return false
}
