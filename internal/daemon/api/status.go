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

package api

import (
	"net/http"
	"time"

	"github.com/tombee/powerd/internal/daemon/httputil"
)

// ServiceSummary counts supervised services by liveness.
type ServiceSummary struct {
	Total   int `json:"total"`
	Running int `json:"running"`
}

// Status is the daemon status report.
type Status struct {
	Name               string          `json:"name"`
	Version            string          `json:"version"`
	StartedAt          time.Time       `json:"started_at"`
	UptimeSeconds      int64           `json:"uptime_seconds"`
	Transition         *TransitionView `json:"transition,omitempty"`
	Services           ServiceSummary  `json:"services"`
	Mounts             int             `json:"mounts"`
	ShutdownAuthorized bool            `json:"shutdown_authorized"`
}

// StatusProvider assembles the daemon status report.
type StatusProvider interface {
	Status() Status
}

// StatusHandler handles GET /v1/status.
type StatusHandler struct {
	provider StatusProvider
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(provider StatusProvider) *StatusHandler {
	return &StatusHandler{provider: provider}
}

// RegisterRoutes registers the status endpoint route.
func (h *StatusHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/status", h.handleStatus)
}

func (h *StatusHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.provider.Status())
}
