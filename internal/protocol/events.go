package protocol

import "encoding/json"

// Inbound event kinds (server -> client).
const (
	EventRoomState      = "room_state"
	EventNewMessage     = "new_message"
	EventTyping         = "typing"
	EventUserJoined     = "user_joined"
	EventUserLeft       = "user_left"
	EventMessageHistory = "message_history"
	EventPong           = "pong"
	EventError          = "error"

	EventBattleInvitation    = "battle_invitation"
	EventYourTurn            = "your_turn"
	EventDeadlineWarning     = "deadline_warning"
	EventInvitationProcessed = "invitation_response_processed"
)

// ServerEvent is the parsed inbound envelope. Data holds the raw frame so
// consumers can unmarshal the payload for the kinds they care about.
type ServerEvent struct {
	Event string
	Data  json.RawMessage
}

// eventEnvelope extracts the discriminant field.
type eventEnvelope struct {
	Event string `json:"event"`
}

// ParseServerEvent parses a raw inbound frame into a ServerEvent.
func ParseServerEvent(data []byte) (ServerEvent, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ServerEvent{}, err
	}
	return ServerEvent{Event: env.Event, Data: json.RawMessage(data)}, nil
}

// Decode unmarshals the full frame into a typed payload struct.
func (e ServerEvent) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// User identifies a room participant.
type User struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// Message is a single chat message.
type Message struct {
	ID          string `json:"id"`
	RoomID      string `json:"room_id"`
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	Content     string `json:"content"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
	SentAt      int64  `json:"sent_at"` // unix millis
}

// RoomStateEvent is the initial snapshot delivered after joining a room.
type RoomStateEvent struct {
	Event    string    `json:"event"`
	RoomID   string    `json:"room_id"`
	Members  []User    `json:"members"`
	Messages []Message `json:"messages"`
	Cursor   string    `json:"cursor,omitempty"`
}

// NewMessageEvent carries one live message.
type NewMessageEvent struct {
	Event   string  `json:"event"`
	Message Message `json:"message"`
}

// TypingEvent toggles typing state for a user.
type TypingEvent struct {
	Event    string `json:"event"`
	Username string `json:"username"`
	Typing   bool   `json:"typing"`
}

// UserEvent is emitted on join/leave.
type UserEvent struct {
	Event string `json:"event"`
	User  User   `json:"user"`
}

// MessageHistoryEvent is a page of older messages. Cursor is opaque and
// re-submitted verbatim in the next request_history frame; empty means no
// further history.
type MessageHistoryEvent struct {
	Event    string    `json:"event"`
	Messages []Message `json:"messages"`
	Cursor   string    `json:"cursor,omitempty"`
}

// ErrorEvent is a server-reported application error.
type ErrorEvent struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Invitation is a pending battle invitation. ID is stable and referenced
// by respond_to_invitation and invitation_response_processed.
type Invitation struct {
	ID        string `json:"id"`
	From      User   `json:"from"`
	Mode      string `json:"mode"`
	ExpiresAt int64  `json:"expires_at"` // unix millis
}

// BattleInvitationEvent announces a new invitation.
type BattleInvitationEvent struct {
	Event      string     `json:"event"`
	Invitation Invitation `json:"invitation"`
}

// YourTurnEvent signals that a turn-based battle is waiting on the user.
type YourTurnEvent struct {
	Event    string `json:"event"`
	BattleID string `json:"battle_id"`
	Deadline int64  `json:"deadline"` // unix millis
}

// DeadlineWarningEvent warns that a turn deadline is close.
type DeadlineWarningEvent struct {
	Event       string `json:"event"`
	BattleID    string `json:"battle_id"`
	SecondsLeft int    `json:"seconds_left"`
}

// InvitationProcessedEvent acknowledges that the server applied a
// respond_to_invitation. Only this event removes a pending invitation.
type InvitationProcessedEvent struct {
	Event        string `json:"event"`
	InvitationID string `json:"invitation_id"`
	Accepted     bool   `json:"accepted"`
}
