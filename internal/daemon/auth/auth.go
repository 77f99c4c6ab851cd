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

// Package auth provides authentication middleware for the daemon API.
package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	// userContextKey is the context key for user information.
	userContextKey contextKey = "user"
)

// User represents an authenticated user.
type User struct {
	ID     string
	Name   string
	Scopes []string
}

// UserFromContext extracts the authenticated user from the request context.
func UserFromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(userContextKey).(*User)
	return user, ok
}

// ContextWithUser returns a new context with the given user.
// This is primarily for testing purposes.
func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// Config contains authentication configuration.
type Config struct {
	// Enabled controls whether authentication is required.
	Enabled bool

	// JWT contains the token validation configuration.
	JWT JWTConfig

	// AllowUnixSocket allows unauthenticated access via Unix socket.
	// The socket file's own permissions are the access control there.
	AllowUnixSocket bool

	// RateLimit contains rate limiting configuration.
	RateLimit RateLimitConfig

	// Logger for audit logging.
	Logger *slog.Logger
}

// Middleware provides authentication middleware.
type Middleware struct {
	config      Config
	rateLimiter *RateLimiter
	logger      *slog.Logger
}

// NewMiddleware creates a new auth middleware.
func NewMiddleware(cfg Config) *Middleware {
	return &Middleware{
		config:      cfg,
		rateLimiter: NewRateLimiter(cfg.RateLimit),
		logger:      cfg.Logger,
	}
}

// Wrap wraps an http.Handler with authentication.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.config.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		// Check if this is a Unix socket connection (bypass auth)
		if m.config.AllowUnixSocket && isUnixSocketRequest(r) {
			next.ServeHTTP(w, r)
			return
		}

		// Skip auth for health endpoint
		if r.URL.Path == "/v1/health" {
			next.ServeHTTP(w, r)
			return
		}

		// Detect and reject query parameter authentication attempts (security vulnerability)
		if r.URL.Query().Get("token") != "" {
			m.unauthorized(w, "Tokens in query parameters are not supported. Use the Authorization header.")
			return
		}

		token := extractBearerToken(r)
		if token == "" {
			m.unauthorized(w, "Authentication required")
			return
		}

		claims, err := ValidateJWT(token, m.config.JWT)
		if err != nil {
			if m.logger != nil {
				m.logger.Warn("rejected API token",
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
					slog.Any("error", err))
			}
			m.unauthorized(w, "Invalid credentials")
			return
		}

		user := &User{
			ID:     claims.UserID,
			Name:   claims.Subject,
			Scopes: claims.Scopes,
		}
		if user.ID == "" {
			user.ID = claims.Subject
		}

		// Apply rate limiting
		if !m.rateLimiter.Allow(user.ID) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "rate limit exceeded",
			})
			return
		}

		// Add user info to request context
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractBearerToken extracts the bearer token from the Authorization
// header. Only the Authorization header is accepted; query parameter
// authentication leaks tokens into logs and proxies.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// unauthorized sends an unauthorized response.
func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// isUnixSocketRequest checks if the request came via Unix socket.
// This is determined by checking if the remote address is empty or starts with "@"
// (abstract Unix socket) or "/" (file-based Unix socket).
func isUnixSocketRequest(r *http.Request) bool {
	addr := r.RemoteAddr
	return addr == "" || strings.HasPrefix(addr, "@") || strings.HasPrefix(addr, "/")
}
