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

package tracing

import (
	"time"
)

// Config holds observability configuration.
type Config struct {
	// Enabled controls whether tracing is active.
	Enabled bool

	// ServiceName identifies this service in traces.
	ServiceName string

	// ServiceVersion is the application version.
	ServiceVersion string

	// Exporters configures span export destinations.
	Exporters []ExporterConfig

	// Prometheus exposes OTel metrics through the default Prometheus
	// registry.
	Prometheus bool

	// BatchSize is the maximum number of spans per export batch (default: 512).
	BatchSize int

	// BatchInterval is how often to flush spans (default: 5s).
	BatchInterval time.Duration
}

// ExporterConfig defines one span export destination.
type ExporterConfig struct {
	// Type is the exporter type: "otlp", "otlp-http", or "console".
	Type string

	// Endpoint is the OTLP receiver address.
	Endpoint string

	// Insecure disables TLS for the connection.
	Insecure bool

	// TLS tunes certificate verification when TLS is on.
	TLS TLSOptions

	// Headers are additional headers for authentication.
	Headers map[string]string

	// Timeout is the export timeout.
	Timeout time.Duration
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:        false, // Opt-in
		ServiceName:    "powerd",
		ServiceVersion: "unknown",
		Exporters:      nil,
		Prometheus:     true,
		BatchSize:      512,             // OTLP default batch size
		BatchInterval:  5 * time.Second, // OTLP default batch interval
	}
}
