package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultTokenPath            = "/api/realtime/token"
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultPingInterval         = 30 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultChatBufferCap        = 100
	DefaultChatHistoryLimit     = 50
	DefaultNotifyPendingCap     = 50
)

func (c *Config) applyDefaults() {
	if c.Server.TokenPath == "" {
		c.Server.TokenPath = DefaultTokenPath
	}

	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.ReconnectBaseDelay == 0 {
		c.Connection.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Connection.ReconnectMaxDelay == 0 {
		c.Connection.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Connection.MaxReconnectAttempts == 0 {
		c.Connection.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}

	if c.Chat.BufferCap == 0 {
		c.Chat.BufferCap = DefaultChatBufferCap
	}
	if c.Chat.HistoryLimit == 0 {
		c.Chat.HistoryLimit = DefaultChatHistoryLimit
	}

	if c.Notify.PendingCap == 0 {
		c.Notify.PendingCap = DefaultNotifyPendingCap
	}
}
