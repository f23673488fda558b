package protocol

import "github.com/google/uuid"

// Outbound frame types (client -> server).
const (
	TypePing                = "ping"
	TypeSendMessage         = "send_message"
	TypeTyping              = "typing"
	TypeRequestHistory      = "request_history"
	TypeRespondToInvitation = "respond_to_invitation"
	TypeUpdateAvailability  = "update_availability"
)

// PingFrame is the application-level heartbeat frame.
type PingFrame struct {
	Type string `json:"type"`
}

// NewPing returns a heartbeat frame.
func NewPing() PingFrame {
	return PingFrame{Type: TypePing}
}

// SendMessageFrame publishes a chat message to the current room.
// ClientMsgID is generated locally so the server broadcast of our own
// message can be matched against the local echo.
type SendMessageFrame struct {
	Type        string `json:"type"`
	Content     string `json:"content"`
	ClientMsgID string `json:"client_msg_id"`
}

// NewSendMessage returns a send_message frame with a fresh client id.
func NewSendMessage(content string) SendMessageFrame {
	return SendMessageFrame{
		Type:        TypeSendMessage,
		Content:     content,
		ClientMsgID: uuid.NewString(),
	}
}

// TypingFrame signals typing start/stop for the sending user.
type TypingFrame struct {
	Type   string `json:"type"`
	Typing bool   `json:"typing"`
}

// NewTyping returns a typing frame.
func NewTyping(typing bool) TypingFrame {
	return TypingFrame{Type: TypeTyping, Typing: typing}
}

// RequestHistoryFrame asks for a page of older messages. Cursor is the
// opaque cursor from a previous message_history event; empty requests the
// first page.
type RequestHistoryFrame struct {
	Type   string `json:"type"`
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// NewRequestHistory returns a request_history frame.
func NewRequestHistory(cursor string, limit int) RequestHistoryFrame {
	return RequestHistoryFrame{Type: TypeRequestHistory, Cursor: cursor, Limit: limit}
}

// RespondToInvitationFrame answers a pending battle invitation.
type RespondToInvitationFrame struct {
	Type         string `json:"type"`
	InvitationID string `json:"invitation_id"`
	Accept       bool   `json:"accept"`
}

// NewRespondToInvitation returns a respond_to_invitation frame.
func NewRespondToInvitation(invitationID string, accept bool) RespondToInvitationFrame {
	return RespondToInvitationFrame{
		Type:         TypeRespondToInvitation,
		InvitationID: invitationID,
		Accept:       accept,
	}
}

// UpdateAvailabilityFrame toggles whether the user accepts new invitations.
type UpdateAvailabilityFrame struct {
	Type      string `json:"type"`
	Available bool   `json:"available"`
}

// NewUpdateAvailability returns an update_availability frame.
func NewUpdateAvailability(available bool) UpdateAvailabilityFrame {
	return UpdateAvailabilityFrame{Type: TypeUpdateAvailability, Available: available}
}
