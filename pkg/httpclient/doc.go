// Package httpclient builds the outbound HTTP client the daemon uses
// for event delivery. The inbound API has its own server stack; this
// package covers the few requests powerd makes to other systems, with
// retries, sanitized request logging, and correlation ID propagation.
//
// Create a client and post through it:
//
//	cfg := httpclient.DefaultConfig()
//	cfg.AllowNonIdempotentRetry = true
//	client, err := httpclient.New(cfg)
//	if err != nil {
//	    return err
//	}
//	resp, err := client.Post(url, "application/json", body)
//
// Transient failures are retried with exponential backoff and jitter:
// 5xx responses, 408, 429 (honoring Retry-After), and network errors
// such as refused or reset connections. Other 4xx responses are never
// retried. Only GET, HEAD and OPTIONS retry by default; enabling
// AllowNonIdempotentRetry opts in the remaining methods, which makes
// delivery at-least-once.
package httpclient
