// Package notify implements the notification session consumer: the
// always-on channel carrying battle invitations, turn signals, and
// deadline warnings.
package notify

import (
	"log/slog"
	"sync"

	"github.com/codearena/realtime-go/internal/connection"
	"github.com/codearena/realtime-go/internal/protocol"
	"github.com/codearena/realtime-go/internal/session"
)

// DefaultPendingCap bounds the pending-invitation queue.
const DefaultPendingCap = 50

// Config configures the notification session.
type Config struct {
	BaseURL     string
	PendingCap  int // pending invitation retention (default 50)
	TokenSource connection.TokenSource
	Conn        connection.Config // timing knobs; URL and TokenSource are filled in
}

// Callbacks notify the embedding feature. All callbacks are optional.
type Callbacks struct {
	OnStatus          func(status connection.Status, err error)
	OnInvitation      func(inv protocol.Invitation)
	OnYourTurn        func(ev protocol.YourTurnEvent)
	OnDeadlineWarning func(ev protocol.DeadlineWarningEvent)
	OnUpdate          func() // pending queue or availability changed
	OnServerError     func(ev protocol.ErrorEvent)
}

// Session is the notification consumer. A pending invitation is removed
// only when the server acknowledges the response, never on the local
// respond action, so a late rejection cannot lose the invitation.
type Session struct {
	cfg    Config
	core   *session.Core
	logger *slog.Logger

	cbs Callbacks

	mu        sync.Mutex
	pending   []protocol.Invitation // oldest first, bounded by PendingCap
	available bool
}

// NewSession creates the notification session.
func NewSession(cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("channel", "notifications")
	if cfg.PendingCap < 1 {
		cfg.PendingCap = DefaultPendingCap
	}

	connCfg := cfg.Conn
	connCfg.URL = session.Endpoint(cfg.BaseURL, "/ws/notifications")
	connCfg.TokenSource = cfg.TokenSource

	return &Session{
		cfg:       cfg,
		core:      session.NewCore(connCfg, logger),
		logger:    logger,
		available: true,
	}
}

// SetCallbacks installs the notification callbacks.
func (s *Session) SetCallbacks(cbs Callbacks) {
	s.cbs = cbs
	s.bind()
}

// Connect opens the notification connection.
func (s *Session) Connect() {
	s.bind()
	s.core.Connect()
}

// Close tears the connection down.
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

// RespondToInvitation answers an invitation. The invitation stays pending
// until invitation_response_processed arrives.
func (s *Session) RespondToInvitation(invitationID string, accept bool) error {
	return s.core.Send(protocol.NewRespondToInvitation(invitationID, accept))
}

// UpdateAvailability toggles whether the user accepts new invitations.
// The local flag flips optimistically; the server sees the same frame.
func (s *Session) UpdateAvailability(available bool) error {
	if err := s.core.Send(protocol.NewUpdateAvailability(available)); err != nil {
		return err
	}
	s.mu.Lock()
	s.available = available
	s.mu.Unlock()
	if s.cbs.OnUpdate != nil {
		s.cbs.OnUpdate()
	}
	return nil
}

// Pending returns the queued invitations, oldest first.
func (s *Session) Pending() []protocol.Invitation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Invitation, len(s.pending))
	copy(out, s.pending)
	return out
}

// Available reports the current availability flag.
func (s *Session) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
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

// handle is the reducer over routed notification events.
func (s *Session) handle(ev protocol.ServerEvent) {
	switch ev.Event {
	case protocol.EventBattleInvitation:
		var p protocol.BattleInvitationEvent
		if err := ev.Decode(&p); err != nil {
			s.logger.Warn("bad battle_invitation payload", "error", err)
			return
		}
		s.addPending(p.Invitation)
		if s.cbs.OnInvitation != nil {
			s.cbs.OnInvitation(p.Invitation)
		}

	case protocol.EventInvitationProcessed:
		var p protocol.InvitationProcessedEvent
		if err := ev.Decode(&p); err != nil {
			s.logger.Warn("bad invitation_response_processed payload", "error", err)
			return
		}
		s.removePending(p.InvitationID)

	case protocol.EventYourTurn:
		var p protocol.YourTurnEvent
		if err := ev.Decode(&p); err != nil {
			s.logger.Warn("bad your_turn payload", "error", err)
			return
		}
		if s.cbs.OnYourTurn != nil {
			s.cbs.OnYourTurn(p)
		}
		return

	case protocol.EventDeadlineWarning:
		var p protocol.DeadlineWarningEvent
		if err := ev.Decode(&p); err != nil {
			s.logger.Warn("bad deadline_warning payload", "error", err)
			return
		}
		if s.cbs.OnDeadlineWarning != nil {
			s.cbs.OnDeadlineWarning(p)
		}
		return

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

func (s *Session) addPending(inv protocol.Invitation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, have := range s.pending {
		if have.ID == inv.ID {
			return
		}
	}
	s.pending = append(s.pending, inv)
	if len(s.pending) > s.cfg.PendingCap {
		s.pending = s.pending[len(s.pending)-s.cfg.PendingCap:]
	}
}

func (s *Session) removePending(invitationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, have := range s.pending {
		if have.ID == invitationID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}
