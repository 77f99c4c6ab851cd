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

package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig contains rate limiting configuration.
type RateLimitConfig struct {
	// RequestsPerSecond is the number of requests allowed per second per user.
	RequestsPerSecond float64

	// BurstSize is the maximum burst size (token bucket capacity).
	BurstSize int

	// Enabled controls whether rate limiting is active.
	Enabled bool
}

// bucket pairs a limiter with the time of its last request so idle
// entries can be swept.
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter provides per-user rate limiting.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	config  RateLimitConfig
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	// Set defaults
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10 // 10 requests per second default
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 20 // Allow bursts up to 20 requests
	}

	return &RateLimiter{
		buckets: make(map[string]*bucket),
		config:  cfg,
	}
}

// Allow checks if a request from the given user is allowed.
func (rl *RateLimiter) Allow(userID string) bool {
	if !rl.config.Enabled {
		return true
	}

	if userID == "" {
		// For unauthenticated requests, use a shared bucket
		userID = "_anonymous_"
	}

	rl.mu.Lock()
	b, exists := rl.buckets[userID]
	if !exists {
		b = &bucket{
			limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.BurstSize),
		}
		rl.buckets[userID] = b
	}
	b.lastSeen = time.Now()
	rl.mu.Unlock()

	return b.limiter.Allow()
}

// Cleanup removes buckets for users who haven't made requests recently.
// This prevents memory leaks from accumulating buckets for one-time users.
func (rl *RateLimiter) Cleanup(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for userID, b := range rl.buckets {
		if now.Sub(b.lastSeen) > maxAge {
			delete(rl.buckets, userID)
		}
	}
}
