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

package log

import (
	"log/slog"
	"time"
)

// APIRequest represents a daemon API request for logging purposes.
type APIRequest struct {
	// Method is the HTTP method.
	Method string

	// Path is the request path (e.g., "/v1/transitions").
	Path string

	// RequestID is the unique ID for this specific request.
	RequestID string

	// RemoteAddr is the remote address of the client ("local" for the
	// unix socket).
	RemoteAddr string

	// Metadata contains additional request metadata.
	Metadata map[string]interface{}
}

// APIResponse represents a daemon API response for logging purposes.
type APIResponse struct {
	// Status is the HTTP status code.
	Status int

	// Error is the error message if the request failed.
	Error string

	// DurationMs is the duration of the request in milliseconds.
	DurationMs int64
}

// LogAPIRequest logs an incoming daemon API request.
func LogAPIRequest(logger *slog.Logger, req *APIRequest) {
	attrs := []any{
		"event", "api_request",
		"method", req.Method,
		"path", req.Path,
		"remote", req.RemoteAddr,
	}

	if req.RequestID != "" {
		attrs = append(attrs, "request_id", req.RequestID)
	}

	for k, v := range req.Metadata {
		attrs = append(attrs, k, v)
	}

	logger.Debug("api request received", attrs...)
}

// LogAPIResponse logs a daemon API response. Failures log at error level.
func LogAPIResponse(logger *slog.Logger, req *APIRequest, resp *APIResponse) {
	attrs := []any{
		"event", "api_response",
		"method", req.Method,
		"path", req.Path,
		"status", resp.Status,
		"duration_ms", resp.DurationMs,
		"remote", req.RemoteAddr,
	}

	if req.RequestID != "" {
		attrs = append(attrs, "request_id", req.RequestID)
	}

	if resp.Error != "" {
		attrs = append(attrs, "error", resp.Error)
	}

	level := slog.LevelInfo
	message := "api request completed"

	if resp.Status >= 500 {
		level = slog.LevelError
		message = "api request failed"
	}

	logger.Log(nil, level, message, attrs...)
}

// APIMiddleware wraps a daemon API handler function with logging.
// It logs the request when it arrives and the response when it completes.
type APIMiddleware struct {
	logger *slog.Logger
}

// NewAPIMiddleware creates a new API logging middleware.
func NewAPIMiddleware(logger *slog.Logger) *APIMiddleware {
	return &APIMiddleware{
		logger: logger,
	}
}

// Handle wraps a function that processes an API request. It logs the
// request, runs the handler, and logs the resulting status.
func (m *APIMiddleware) Handle(req *APIRequest, handler func() (int, error)) (int, error) {
	start := time.Now()

	LogAPIRequest(m.logger, req)

	status, err := handler()

	resp := &APIResponse{
		Status:     status,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		resp.Error = err.Error()
	}

	LogAPIResponse(m.logger, req, resp)

	return status, err
}
