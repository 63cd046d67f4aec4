// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package authn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jeranaias/tillguard/internal/auth"
	"github.com/jeranaias/tillguard/internal/rbac"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultTimeout bounds each request.
	DefaultTimeout = 5 * time.Second

	// DefaultRate is the sustained number of requests per second.
	DefaultRate = 5

	// DefaultBurst is the number of requests allowed in a burst.
	DefaultBurst = 10

	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 1 << 20
)

var (
	// ErrRejected is returned when the service refuses the credentials.
	ErrRejected = errors.New("credentials rejected")

	// ErrRateLimited is returned when the client's own limiter is exhausted.
	ErrRateLimited = errors.New("authenticator rate limit exceeded")

	// ErrNoSession is returned by Logout when there is no token to revoke.
	ErrNoSession = errors.New("no authenticator session")
)

// RejectedError carries the service's error messages.
type RejectedError struct {
	Messages []string
}

func (e *RejectedError) Error() string {
	if len(e.Messages) == 0 {
		return ErrRejected.Error()
	}
	return ErrRejected.Error() + ": " + strings.Join(e.Messages, "; ")
}

// Is makes errors.Is(err, ErrRejected) true.
func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

type loginResponse struct {
	User   *rbac.User `json:"user"`
	Token  string     `json:"token"`
	Errors []string   `json:"errors"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is an auth.Authenticator backed by the credential service.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu    sync.Mutex
	token string
}

var _ auth.Authenticator = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) {
		cl.http.Timeout = d
	}
}

// WithRateLimit sets the client-side limiter.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(cl *Client) {
		cl.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(logger zerolog.Logger) ClientOption {
	return func(cl *Client) {
		cl.logger = logger
	}
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		limiter: rate.NewLimiter(rate.Limit(DefaultRate), DefaultBurst),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authenticate implements auth.Authenticator.
func (c *Client) Authenticate(ctx context.Context, creds auth.Credentials) (*rbac.User, error) {
	if !c.limiter.Allow() {
		return nil, ErrRateLimited
	}

	body, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("failed to encode credentials: %w", err)
	}
	resp, err := c.post(ctx, "/auth/login", "", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out loginResponse
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read login response: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("failed to decode login response (status %d): %w", resp.StatusCode, err)
		}
	}

	switch {
	case resp.StatusCode == http.StatusOK && out.User != nil:
		c.mu.Lock()
		c.token = out.Token
		c.mu.Unlock()
		return out.User, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &RejectedError{Messages: out.Errors}
	default:
		return nil, fmt.Errorf("unexpected login status %d", resp.StatusCode)
	}
}

// Logout implements auth.Authenticator. It revokes the token from the last
// successful Authenticate.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	token := c.token
	c.token = ""
	c.mu.Unlock()

	if token == "" {
		return ErrNoSession
	}
	resp, err := c.post(ctx, "/auth/logout", token, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected logout status %d", resp.StatusCode)
	}
	return nil
}

// HasSession reports whether the client holds a token.
func (c *Client) HasSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != ""
}

func (c *Client) post(ctx context.Context, path, token string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("path", path).Msg("authenticator request failed")
		return nil, fmt.Errorf("authenticator unreachable: %w", err)
	}
	return resp, nil
}
