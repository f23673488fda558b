// Package token implements the connection-token exchange: a one-shot HTTP
// request that trades session credentials for a short-lived WebSocket token.
package token

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"time"
)

// ErrEmptyToken is returned when a 2xx response carries no usable token.
// It is retryable: the server answered but the body was malformed.
var ErrEmptyToken = errors.New("token response missing token field")

// RequestError represents a non-2xx response from the token endpoint.
type RequestError struct {
	StatusCode int
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("token endpoint returned %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Retryable reports whether the failure is transient. 401/403 mean the
// session itself is invalid and retrying cannot help.
func (e *RequestError) Retryable() bool {
	return e.StatusCode != http.StatusUnauthorized && e.StatusCode != http.StatusForbidden
}

// Client exchanges session credentials for a connection token.
type Client struct {
	endpoint   string
	idPrefix   string
	csrfToken  string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client (tests, custom cookie jars).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithCSRFToken attaches an anti-forgery header to every request.
func WithCSRFToken(token string) Option {
	return func(c *Client) { c.csrfToken = token }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a token client. endpoint is the full token URL;
// idPrefix namespaces the connection identifier (e.g. "chat", "notify").
func NewClient(endpoint, idPrefix string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		idPrefix: idPrefix,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		// Cookie jar so the session cookie rides along with the request.
		jar, _ := cookiejar.New(nil)
		c.httpClient = &http.Client{
			Timeout: 10 * time.Second,
			Jar:     jar,
		}
	}
	return c
}

type tokenRequest struct {
	ConnectionID string `json:"connection_id"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// FetchToken requests a fresh connection token. The connection identifier
// is "{prefix}-{unixmillis}" so each attempt is distinguishable server-side.
func (c *Client) FetchToken(ctx context.Context) (string, error) {
	connID := fmt.Sprintf("%s-%d", c.idPrefix, time.Now().UnixMilli())

	body, err := json.Marshal(tokenRequest{ConnectionID: connID})
	if err != nil {
		return "", fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.csrfToken != "" {
		req.Header.Set("X-CSRF-Token", c.csrfToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("token fetch failed",
			"status", resp.StatusCode,
			"connection_id", connID,
		)
		return "", &RequestError{StatusCode: resp.StatusCode}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		c.logger.Warn("token response malformed", "error", err)
		return "", fmt.Errorf("%w: %v", ErrEmptyToken, err)
	}
	if tr.Token == "" {
		return "", ErrEmptyToken
	}

	c.logger.Debug("token fetched", "connection_id", connID)
	return tr.Token, nil
}
