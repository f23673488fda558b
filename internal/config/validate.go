package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Server.HTTPURL == "" {
		return errors.New("server.http_url is required")
	}
	if c.Server.WSURL == "" {
		return errors.New("server.ws_url is required")
	}
	if !strings.HasPrefix(c.Server.WSURL, "ws://") && !strings.HasPrefix(c.Server.WSURL, "wss://") {
		return fmt.Errorf("server.ws_url must use a ws:// or wss:// scheme, got %q", c.Server.WSURL)
	}
	if !strings.HasPrefix(c.Server.TokenPath, "/") {
		return fmt.Errorf("server.token_path must start with /, got %q", c.Server.TokenPath)
	}

	if c.Connection.ReconnectBaseDelay <= 0 {
		return errors.New("connection.reconnect_base_delay must be > 0")
	}
	if c.Connection.ReconnectMaxDelay < c.Connection.ReconnectBaseDelay {
		return fmt.Errorf("connection.reconnect_max_delay (%s) cannot be below reconnect_base_delay (%s)",
			c.Connection.ReconnectMaxDelay, c.Connection.ReconnectBaseDelay)
	}
	if c.Connection.MaxReconnectAttempts < 1 {
		return errors.New("connection.max_reconnect_attempts must be >= 1")
	}

	if c.Chat.Room == "" {
		return errors.New("chat.room is required")
	}
	if c.Chat.BufferCap < 1 {
		return errors.New("chat.buffer_cap must be >= 1")
	}
	if c.Chat.HistoryLimit < 1 {
		return errors.New("chat.history_limit must be >= 1")
	}

	if c.Notify.PendingCap < 1 {
		return errors.New("notify.pending_cap must be >= 1")
	}

	return nil
}
