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

/*
Package tracing provides OpenTelemetry instrumentation for power
transitions.

A transition produces one root span covering the whole power-down, with
a child span per phase (drain, quiesce, execute). Spans export through
any combination of configured exporters: OTLP over gRPC, OTLP over
HTTP, or the console for development. Metrics flow through the OTel
prometheus exporter into the default Prometheus registry, which the
daemon serves on /metrics.

The package also carries correlation IDs: powerctl stamps each request
with an X-Correlation-ID header, the daemon middleware validates or
generates one, and the ID travels through the context so transition
logs and journal entries can be tied back to the request that caused
them.

Tracing is opt-in. With observability disabled the provider hands out
no-op tracers and every helper degrades to nothing, so the power path
never depends on an export endpoint being reachable.
*/
package tracing
