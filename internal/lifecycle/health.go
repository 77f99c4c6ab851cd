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

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrHealthCheckTimeout is returned when health checks exceed the timeout.
var ErrHealthCheckTimeout = errors.New("health check timeout")

// Probe checks once whether the daemon answers. The API client's Health
// call, wrapped to drop its response, is the usual implementation; the
// probe owns the transport, so polling works the same over a Unix
// socket or TCP.
type Probe func(ctx context.Context) error

// HealthChecker polls a probe with exponential backoff.
type HealthChecker struct {
	probe           Probe
	initialInterval time.Duration
	maxInterval     time.Duration
	multiplier      float64
}

// HealthCheckResult contains the result of a single probe attempt.
type HealthCheckResult struct {
	Success      bool
	ResponseTime time.Duration
	Err          error
}

// NewHealthChecker creates a health checker for the given probe.
// Default backoff: 50ms initial, 2x multiplier, 1s max interval.
func NewHealthChecker(probe Probe) *HealthChecker {
	return &HealthChecker{
		probe:           probe,
		initialInterval: 50 * time.Millisecond,
		maxInterval:     1 * time.Second,
		multiplier:      2.0,
	}
}

// WithBackoff configures custom backoff parameters.
func (h *HealthChecker) WithBackoff(initial, max time.Duration, multiplier float64) *HealthChecker {
	h.initialInterval = initial
	h.maxInterval = max
	h.multiplier = multiplier
	return h
}

// Check performs a single health check.
func (h *HealthChecker) Check(ctx context.Context) *HealthCheckResult {
	start := time.Now()
	err := h.probe(ctx)

	return &HealthCheckResult{
		Success:      err == nil,
		ResponseTime: time.Since(start),
		Err:          err,
	}
}

// WaitUntilHealthy polls the probe until it succeeds or the timeout is
// reached. The returned error wraps the last probe failure, which is
// usually the reason the daemon never came up.
func (h *HealthChecker) WaitUntilHealthy(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	interval := h.initialInterval
	attempts := 0

	for {
		attempts++
		result := h.Check(ctx)

		if result.Success {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w after %d attempts: %v", ErrHealthCheckTimeout, attempts, result.Err)
		case <-time.After(interval):
		}

		interval = time.Duration(float64(interval) * h.multiplier)
		if interval > h.maxInterval {
			interval = h.maxInterval
		}
	}
}
