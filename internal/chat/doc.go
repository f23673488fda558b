// Package chat implements the chat room session consumer: a reducer over
// routed room events that maintains the bounded message buffer, the
// presence set, the typing set, and the history pagination cursor, plus
// the outbound room actions.
package chat
