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

	"github.com/tombee/powerd/internal/daemon/auth"
	"github.com/tombee/powerd/internal/daemon/httputil"
	"github.com/tombee/powerd/internal/services"
)

// ServiceManager exposes the service supervisor to the API.
type ServiceManager interface {
	Services() []services.ServiceStatus
	Reload() error
}

// ServicesHandler handles the /v1/services endpoints.
type ServicesHandler struct {
	manager ServiceManager
}

// NewServicesHandler creates a new services handler.
func NewServicesHandler(manager ServiceManager) *ServicesHandler {
	return &ServicesHandler{manager: manager}
}

// RegisterRoutes registers the service endpoint routes.
func (h *ServicesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/services", h.handleList)
	mux.HandleFunc("POST /v1/services/reload", h.handleReload)
}

// handleList handles GET /v1/services.
func (h *ServicesHandler) handleList(w http.ResponseWriter, r *http.Request) {
	list := h.manager.Services()
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"services": list,
		"count":    len(list),
	})
}

// handleReload handles POST /v1/services/reload. It reconciles running
// services against the unit directory, same as SIGHUP.
func (h *ServicesHandler) handleReload(w http.ResponseWriter, r *http.Request) {
	if user, ok := auth.UserFromContext(r.Context()); ok {
		if !auth.MatchesScope(user.Scopes, "reload") {
			httputil.WriteError(w, http.StatusForbidden, "token scope does not allow reload")
			return
		}
	}

	if err := h.manager.Reload(); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
