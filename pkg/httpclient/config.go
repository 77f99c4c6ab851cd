package httpclient

import (
	"fmt"
	"time"
)

// Config controls timeout and retry behavior for an outbound client.
type Config struct {
	// Timeout bounds each whole request, retries included.
	// Default: 10s. Must be > 0.
	Timeout time.Duration

	// RetryAttempts is the number of retries after the initial try.
	// Zero disables retries. Default: 3.
	RetryAttempts int

	// RetryBackoff is the delay before the first retry. Later retries
	// back off exponentially with jitter. Default: 100ms.
	RetryBackoff time.Duration

	// MaxBackoff caps the backoff delay. Default: 5s.
	MaxBackoff time.Duration

	// UserAgent is sent on requests that do not set their own.
	UserAgent string

	// AllowNonIdempotentRetry retries POST, PUT, PATCH and DELETE as
	// well. Receivers must then tolerate duplicate deliveries.
	AllowNonIdempotentRetry bool
}

// DefaultConfig returns the defaults for daemon outbound calls. The
// timeout is short: these requests run alongside power transitions and
// must not stall one.
func DefaultConfig() Config {
	return Config{
		Timeout:       10 * time.Second,
		RetryAttempts: 3,
		RetryBackoff:  100 * time.Millisecond,
		MaxBackoff:    5 * time.Second,
		UserAgent:     "powerd/1.0",
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts must not be negative, got %d", c.RetryAttempts)
	}
	if c.RetryAttempts > 0 {
		if c.RetryBackoff <= 0 {
			return fmt.Errorf("retry_backoff must be positive when retries are enabled, got %v", c.RetryBackoff)
		}
		if c.MaxBackoff < c.RetryBackoff {
			return fmt.Errorf("max_backoff (%v) must be at least retry_backoff (%v)", c.MaxBackoff, c.RetryBackoff)
		}
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user_agent is required")
	}
	return nil
}
