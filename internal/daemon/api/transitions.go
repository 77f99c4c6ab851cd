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
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/tombee/powerd/internal/daemon/auth"
	"github.com/tombee/powerd/internal/daemon/httputil"
	"github.com/tombee/powerd/internal/journal"
	"github.com/tombee/powerd/internal/power"
	"github.com/tombee/powerd/pkg/errors"
)

const maxRequestBodySize = 1 * 1024 * 1024 // 1MB

// ErrTransitionActive is returned by a TransitionStarter while a power
// transition is already running.
var ErrTransitionActive = errors.New("a power transition is already active")

// TransitionStarter spawns power transitions and reports the active one.
type TransitionStarter interface {
	StartTransition(cmd power.Command, requester, reason string) (*power.Transition, error)
	ActiveTransition() *power.Transition
}

// JournalReader reads transition history.
type JournalReader interface {
	Get(ctx context.Context, id string) (*journal.Entry, error)
	List(ctx context.Context, filter journal.Filter) ([]*journal.Entry, error)
}

// TransitionView is the wire representation of a live transition.
type TransitionView struct {
	ID        string    `json:"id"`
	Command   string    `json:"command"`
	Requester string    `json:"requester,omitempty"`
	Phase     string    `json:"phase"`
	Outcome   string    `json:"outcome,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// viewOf snapshots a transition for the wire.
func viewOf(tr *power.Transition) TransitionView {
	return TransitionView{
		ID:        tr.ID,
		Command:   tr.Command.String(),
		Requester: tr.Requester,
		Phase:     tr.Phase().String(),
		Outcome:   string(tr.Outcome()),
		StartedAt: tr.StartedAt,
	}
}

// TransitionsHandler handles the /v1/transitions endpoints.
type TransitionsHandler struct {
	starter TransitionStarter
	reader  JournalReader
}

// NewTransitionsHandler creates a new transitions handler.
func NewTransitionsHandler(starter TransitionStarter, reader JournalReader) *TransitionsHandler {
	return &TransitionsHandler{
		starter: starter,
		reader:  reader,
	}
}

// RegisterRoutes registers the transition endpoint routes.
func (h *TransitionsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/transitions", h.handleStart)
	mux.HandleFunc("GET /v1/transitions", h.handleList)
	mux.HandleFunc("GET /v1/transitions/active", h.handleActive)
	mux.HandleFunc("GET /v1/transitions/{id}", h.handleGet)
}

// startRequest is the body of POST /v1/transitions.
type startRequest struct {
	Command   string `json:"command"`
	Reason    string `json:"reason,omitempty"`
	Requester string `json:"requester,omitempty"`
}

// handleStart handles POST /v1/transitions. The spawned transition is
// irreversible, so every rejection happens before the task is touched.
func (h *TransitionsHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cmd, err := power.ParseCommand(req.Command)
	if err != nil {
		var verr *errors.ValidationError
		if errors.As(err, &verr) {
			httputil.WriteJSON(w, http.StatusBadRequest, map[string]string{
				"error":      verr.Message,
				"suggestion": verr.Suggestion,
			})
			return
		}
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Authenticated callers act under their token identity, and their
	// scopes decide which commands they may issue.
	requester := req.Requester
	if user, ok := auth.UserFromContext(r.Context()); ok {
		if user.Name != "" {
			requester = user.Name
		}
		if !auth.MatchesScope(user.Scopes, cmd.String()) {
			httputil.WriteError(w, http.StatusForbidden, "token scope does not allow "+cmd.String())
			return
		}
	}

	tr, err := h.starter.StartTransition(cmd, requester, req.Reason)
	if err != nil {
		if errors.Is(err, ErrTransitionActive) {
			httputil.WriteError(w, http.StatusConflict, err.Error())
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, viewOf(tr))
}

// handleActive handles GET /v1/transitions/active.
func (h *TransitionsHandler) handleActive(w http.ResponseWriter, r *http.Request) {
	tr := h.starter.ActiveTransition()
	if tr == nil {
		httputil.WriteError(w, http.StatusNotFound, "no active transition")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, viewOf(tr))
}

// handleGet handles GET /v1/transitions/{id}. The journal is the source
// of truth here; it carries the running transition too, from the moment
// it spawned.
func (h *TransitionsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	entry, err := h.reader.Get(r.Context(), id)
	if err != nil {
		var nf *errors.NotFoundError
		if errors.As(err, &nf) {
			httputil.WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	httputil.WriteJSON(w, http.StatusOK, entry)
}

// handleList handles GET /v1/transitions with optional command, outcome
// and limit filters.
func (h *TransitionsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := journal.Filter{
		Command: r.URL.Query().Get("command"),
		Outcome: r.URL.Query().Get("outcome"),
		Limit:   50,
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			httputil.WriteError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	entries, err := h.reader.List(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"transitions": entries,
		"count":       len(entries),
	})
}
