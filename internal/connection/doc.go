// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns exactly one WebSocket connection at a time
//   - Exchanges session credentials for a connection token before dialing
//   - Embeds the token as a connection_token query parameter
//   - Sends an application-level ping frame on a fixed interval
//   - Handles reconnection with exponential backoff, up to a configured
//     maximum, then surfaces a terminal error exactly once
//   - Uses a generation counter so Disconnect invalidates any in-flight
//     token fetch, handshake, or scheduled reconnect
package connection
