// Package config loads the YAML configuration used by the probe binaries.
package config

import (
	"time"

	"github.com/codearena/realtime-go/internal/connection"
)

// Config is the root configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Connection ConnectionConfig `yaml:"connection"`
	Chat       ChatConfig       `yaml:"chat"`
	Notify     NotifyConfig     `yaml:"notify"`
}

// ServerConfig locates the platform endpoints.
type ServerConfig struct {
	HTTPURL   string `yaml:"http_url"`   // base for the token endpoint
	WSURL     string `yaml:"ws_url"`     // base for the realtime endpoints
	TokenPath string `yaml:"token_path"` // POST path for the token exchange
	CSRFToken string `yaml:"csrf_token"` // anti-forgery header value, if any
}

// ConnectionConfig holds the lifecycle timing knobs.
type ConnectionConfig struct {
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
}

// ChatConfig configures the chat probe.
type ChatConfig struct {
	Room         string `yaml:"room"`
	BufferCap    int    `yaml:"buffer_cap"`
	HistoryLimit int    `yaml:"history_limit"`
}

// NotifyConfig configures the notification probe.
type NotifyConfig struct {
	PendingCap int `yaml:"pending_cap"`
}

// ConnConfig converts the timing knobs into a connection.Config. URL and
// TokenSource are filled in by the session consumers.
func (c *Config) ConnConfig() connection.Config {
	return connection.Config{
		HandshakeTimeout:     c.Connection.HandshakeTimeout,
		WriteTimeout:         c.Connection.WriteTimeout,
		PingInterval:         c.Connection.PingInterval,
		ReconnectBaseDelay:   c.Connection.ReconnectBaseDelay,
		ReconnectMaxDelay:    c.Connection.ReconnectMaxDelay,
		MaxReconnectAttempts: c.Connection.MaxReconnectAttempts,
	}
}

// TokenEndpoint returns the full token exchange URL.
func (c *Config) TokenEndpoint() string {
	return c.Server.HTTPURL + c.Server.TokenPath
}
