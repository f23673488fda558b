// Package protocol defines the wire message envelopes exchanged over the
// realtime WebSocket.
//
// Outbound frames carry a "type" discriminant (ping, send_message, typing,
// request_history, respond_to_invitation, update_availability). Inbound
// frames carry an "event" discriminant (room_state, new_message, typing,
// user_joined, user_left, message_history, pong, error, plus the
// notification kinds battle_invitation, your_turn, deadline_warning and
// invitation_response_processed).
package protocol
