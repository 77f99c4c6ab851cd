// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tombee/powerd/internal/tracing"
	"github.com/tombee/powerd/pkg/errors"
)

// Client is a client for the powerd daemon API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// New creates a new daemon client with the given options.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		baseURL: "http://localhost", // Default for Unix socket
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	// If no HTTP client set, create default with transport
	if c.httpClient == nil {
		transport, err := DefaultTransport()
		if err != nil {
			return nil, fmt.Errorf("failed to create transport: %w", err)
		}
		c.httpClient = &http.Client{Transport: transport}
	}

	// Outbound requests carry the context's correlation ID
	c.httpClient = tracing.WrapHTTPClient(c.httpClient)

	return c, nil
}

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = client
		return nil
	}
}

// WithTransport sets a custom transport. A TLS transport switches the
// base URL to https so the dialer actually negotiates TLS.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{Transport: transport}
		if t, ok := transport.(*Transport); ok && t.TLSConfig != nil {
			c.baseURL = "https://localhost"
		}
		return nil
	}
}

// WithToken sets the bearer token for authentication.
func WithToken(token string) Option {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// APIError is a non-2xx response from the daemon, with the decoded
// error body when there was one.
type APIError struct {
	StatusCode int
	Message    string
	Hint       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon returned error %d: %s", e.StatusCode, e.Message)
}

// IsUserVisible implements errors.UserVisibleError. The daemon writes
// its error bodies for operators, so they pass through unchanged.
func (e *APIError) IsUserVisible() bool { return true }

// UserMessage implements errors.UserVisibleError.
func (e *APIError) UserMessage() string { return e.Message }

// Suggestion implements errors.UserVisibleError with the daemon's hint,
// like the valid command list after an unknown power command.
func (e *APIError) Suggestion() string { return e.Hint }

// HealthResponse is the response from /v1/health.
type HealthResponse struct {
	Status string `json:"status"`
}

// VersionResponse is the response from /v1/version.
type VersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// Transition is a live power transition as reported by the daemon.
type Transition struct {
	ID        string    `json:"id"`
	Command   string    `json:"command"`
	Requester string    `json:"requester,omitempty"`
	Phase     string    `json:"phase"`
	Outcome   string    `json:"outcome,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// PhaseRecord is one step of a journaled transition's phase timeline.
type PhaseRecord struct {
	Phase     string    `json:"phase"`
	EnteredAt time.Time `json:"entered_at"`
}

// JournalEntry is a journaled transition.
type JournalEntry struct {
	ID        string        `json:"id"`
	Command   string        `json:"command"`
	Requester string        `json:"requester,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Outcome   string        `json:"outcome"`
	StartedAt time.Time     `json:"started_at"`
	SealedAt  *time.Time    `json:"sealed_at,omitempty"`
	Phases    []PhaseRecord `json:"phases,omitempty"`
}

// ServiceSummary counts supervised services by liveness.
type ServiceSummary struct {
	Total   int `json:"total"`
	Running int `json:"running"`
}

// Status is the daemon status report.
type Status struct {
	Name               string         `json:"name"`
	Version            string         `json:"version"`
	StartedAt          time.Time      `json:"started_at"`
	UptimeSeconds      int64          `json:"uptime_seconds"`
	Transition         *Transition    `json:"transition,omitempty"`
	Services           ServiceSummary `json:"services"`
	Mounts             int            `json:"mounts"`
	ShutdownAuthorized bool           `json:"shutdown_authorized"`
}

// Service is a supervised service's status.
type Service struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Kind        string    `json:"kind"`
	Protected   bool      `json:"protected,omitempty"`
	PID         int       `json:"pid,omitempty"`
	OSPID       int       `json:"os_pid,omitempty"`
	State       string    `json:"state"`
	Restarts    int       `json:"restarts"`
	Since       time.Time `json:"since"`
}

// Health returns the daemon health status.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	resp, err := c.get(ctx, "/v1/health")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}

	return &health, nil
}

// Version returns the daemon version information.
func (c *Client) Version(ctx context.Context) (*VersionResponse, error) {
	resp, err := c.get(ctx, "/v1/version")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var version VersionResponse
	if err := json.NewDecoder(resp.Body).Decode(&version); err != nil {
		return nil, fmt.Errorf("failed to decode version response: %w", err)
	}

	return &version, nil
}

// Ping checks if the daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Health(ctx)
	return err
}

// Start requests a power transition. The request is accepted once the
// transition has spawned; the daemon will not answer again on a
// successful shutdown or reboot.
func (c *Client) Start(ctx context.Context, command, reason string) (*Transition, error) {
	body := map[string]string{"command": command}
	if reason != "" {
		body["reason"] = reason
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal body: %w", err)
	}

	resp, err := c.post(ctx, "/v1/transitions", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var tr Transition
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("failed to decode transition response: %w", err)
	}

	return &tr, nil
}

// Active returns the running transition, or nil when the daemon is
// idle.
func (c *Client) Active(ctx context.Context) (*Transition, error) {
	resp, err := c.get(ctx, "/v1/transitions/active")
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	defer resp.Body.Close()

	var tr Transition
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("failed to decode transition response: %w", err)
	}

	return &tr, nil
}

// GetTransition returns a journal entry by ID, with its phase timeline.
func (c *Client) GetTransition(ctx context.Context, id string) (*JournalEntry, error) {
	resp, err := c.get(ctx, "/v1/transitions/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var entry JournalEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return nil, fmt.Errorf("failed to decode journal entry: %w", err)
	}

	return &entry, nil
}

// ListOptions filters a journal listing.
type ListOptions struct {
	Command string
	Outcome string
	Limit   int
}

// ListTransitions returns journal entries, newest first.
func (c *Client) ListTransitions(ctx context.Context, opts ListOptions) ([]JournalEntry, error) {
	query := url.Values{}
	if opts.Command != "" {
		query.Set("command", opts.Command)
	}
	if opts.Outcome != "" {
		query.Set("outcome", opts.Outcome)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}

	path := "/v1/transitions"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	resp, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		Transitions []JournalEntry `json:"transitions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode journal listing: %w", err)
	}

	return result.Transitions, nil
}

// Status returns the daemon status report.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	resp, err := c.get(ctx, "/v1/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}

	return &status, nil
}

// Services returns the status of all supervised services.
func (c *Client) Services(ctx context.Context) ([]Service, error) {
	resp, err := c.get(ctx, "/v1/services")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		Services []Service `json:"services"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode services response: %w", err)
	}

	return result.Services, nil
}

// ReloadServices reconciles running services against the unit
// directory, same as sending the daemon SIGHUP.
func (c *Client) ReloadServices(ctx context.Context) error {
	resp, err := c.post(ctx, "/v1/services/reload", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// get performs a GET request to the daemon API.
func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.addAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, decodeAPIError(resp)
	}

	return resp, nil
}

// post performs a POST request to the daemon API.
func (c *Client) post(ctx context.Context, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.addAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, decodeAPIError(resp)
	}

	return resp, nil
}

// addAuth adds authentication headers to the request if configured.
func (c *Client) addAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// decodeAPIError turns an error response into an APIError, consuming
// and closing the body.
func decodeAPIError(resp *http.Response) error {
	defer resp.Body.Close()

	apiErr := &APIError{StatusCode: resp.StatusCode}

	body, _ := io.ReadAll(resp.Body)
	var decoded struct {
		Error      string `json:"error"`
		Suggestion string `json:"suggestion"`
	}
	if err := json.Unmarshal(body, &decoded); err == nil && decoded.Error != "" {
		apiErr.Message = decoded.Error
		apiErr.Hint = decoded.Suggestion
	} else {
		apiErr.Message = string(body)
	}

	return apiErr
}
