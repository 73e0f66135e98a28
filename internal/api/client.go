// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Configuration constants for the task service.
const (
	// DefaultBaseURL is the service address used when none is configured.
	DefaultBaseURL = "http://127.0.0.1:8000"

	// DefaultTimeout bounds non-streaming requests.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum accepted non-streaming body (10MB).
	MaxResponseSize = 10 * 1024 * 1024

	// userAgent identifies the client to the service.
	userAgent = "taskpad/0.1.0"
)

// newTransport returns the pooled transport shared by both HTTP clients.
func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the task service. Every request passes through the
// Authenticator; a 401 on an authenticated call rejects the session that
// issued it.
type Client struct {
	baseURL string

	// httpClient has a timeout; streamClient is bounded by the caller's context.
	httpClient   *http.Client
	streamClient *http.Client

	auth    *Authenticator
	session Session
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewClient creates a client for the service at baseURL. An empty baseURL
// means DefaultBaseURL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	transport := newTransport()
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		httpClient:   &http.Client{Transport: transport, Timeout: DefaultTimeout},
		streamClient: &http.Client{Transport: transport},
		auth:         NewAuthenticator(nil),
		log:          zerolog.Nop(),
	}
}

// WithSession sets the session whose token authenticates requests and which
// is rejected on 401.
func (c *Client) WithSession(s Session) *Client {
	c.session = s
	c.auth = NewAuthenticator(s)
	return c
}

// WithTimeout sets the timeout for non-streaming requests.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	if timeout > 0 {
		c.httpClient.Timeout = timeout
	}
	return c
}

// WithRateLimit limits outgoing requests to rps per second with the given
// burst. rps <= 0 disables limiting.
func (c *Client) WithRateLimit(rps float64, burst int) *Client {
	if rps <= 0 {
		c.limiter = nil
		return c
	}
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return c
}

// WithLogger sets the logger.
func (c *Client) WithLogger(l zerolog.Logger) *Client {
	c.log = l
	return c
}

// WithHTTPClient replaces both underlying HTTP clients. Used by tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	c.streamClient = hc
	return c
}

// BaseURL returns the service address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// REQUESTS
// =============================================================================

// Do sends a JSON request and decodes a JSON response into out (if non-nil).
// Non-2xx responses become *StatusError, or ErrAuthRejected for a 401 on a
// path outside ExemptPrefix.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	resp, err := c.send(ctx, c.httpClient, method, path, in, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return &TransportError{Op: method + " " + path, Err: err}
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &TransportError{Op: method + " " + path, Err: fmt.Errorf("malformed response: %w", err)}
	}
	return nil
}

// OpenStream POSTs in to path and returns the event-stream body. The caller
// must close it. Cancelling ctx aborts the read.
func (c *Client) OpenStream(ctx context.Context, path string, in any) (io.ReadCloser, error) {
	resp, err := c.send(ctx, c.streamClient, http.MethodPost, path, in, "text/event-stream")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// send dispatches one request and maps failures. On success the response
// status is 2xx and the body is open.
func (c *Client) send(ctx context.Context, hc *http.Client, method, path string, in any, accept string) (*http.Response, error) {
	op := method + " " + path

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, &TransportError{Op: op, Err: err}
		}
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-ID", requestID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accept == "text/event-stream" {
		req.Header.Set("Cache-Control", "no-cache")
	}
	attached := c.auth.Apply(path, req.Header)

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.log.Debug().Err(err).Str("request_id", requestID).Str("op", op).Msg("request failed")
		return nil, &TransportError{Op: op, Err: err}
	}

	// Never log the token itself.
	c.log.Debug().
		Str("request_id", requestID).
		Str("op", op).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Str("token", Fingerprint(attached)).
		Msg("request")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	errBody, _ := readResponse(resp)
	return nil, c.handleErrorResponse(ctx, path, attached, resp.StatusCode, errBody)
}

// handleErrorResponse converts a non-2xx response to an error. A 401 outside
// ExemptPrefix rejects the token the request carried.
func (c *Client) handleErrorResponse(ctx context.Context, path, attached string, status int, body []byte) error {
	reason := parseReason(body)

	if status == http.StatusUnauthorized && !strings.HasPrefix(path, ExemptPrefix) {
		if attached != "" && c.session != nil {
			if c.session.Reject(ctx, attached) {
				c.log.Info().Str("path", path).Msg("session rejected by service")
			}
		}
		if reason != "" {
			return fmt.Errorf("%w: %s", ErrAuthRejected, reason)
		}
		return ErrAuthRejected
	}

	return &StatusError{Status: status, Reason: reason}
}

// readResponse reads the response body with a size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// =============================================================================
// AUTHENTICATION ENDPOINTS
// =============================================================================

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse is the login success body.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Account is the signup success body.
type Account struct {
	ID    int    `json:"id"`
	Email string `json:"email"`
}

// Login exchanges credentials for a token. A rejection is a
// *CredentialError carrying the service's reason.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var out TokenResponse
	err := c.Do(ctx, http.MethodPost, "/auth/login", credentials{Email: strings.TrimSpace(email), Password: password}, &out)
	if err != nil {
		return "", credentialError(err, "login failed")
	}
	if out.AccessToken == "" {
		return "", &TransportError{Op: "login", Err: errors.New("malformed response: missing access_token")}
	}
	return out.AccessToken, nil
}

// Signup creates an account. It does not log in.
func (c *Client) Signup(ctx context.Context, email, password string) error {
	var out Account
	err := c.Do(ctx, http.MethodPost, "/auth/signup", credentials{Email: strings.TrimSpace(email), Password: password}, &out)
	if err != nil {
		return credentialError(err, "signup failed")
	}
	return nil
}

// Fingerprint identifies a token in logs without exposing it.
func Fingerprint(token string) string {
	if token == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:4])
}
