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

package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/powerd/internal/journal"
	"github.com/tombee/powerd/internal/log"
	"github.com/tombee/powerd/internal/power"
	"github.com/tombee/powerd/internal/tracing"
)

// journalOpTimeout bounds each journal write issued from the phase
// hook. The hook runs on the transition goroutine, which must not
// stall behind a slow disk.
const journalOpTimeout = 5 * time.Second

// transitionRecorder journals a transition's lifecycle from the power
// task's phase hook. The entry is sealed and the database closed the
// moment the first quiesce phase begins: past that point the
// filesystems are locked read-only and no further write can land.
// Entries that never reach the seal stay pending, and the next boot
// stamps them interrupted.
type transitionRecorder struct {
	journal *journal.Journal
	logger  *slog.Logger

	mu     sync.Mutex
	reason string
	sealed bool
}

func newTransitionRecorder(jn *journal.Journal, logger *slog.Logger) *transitionRecorder {
	return &transitionRecorder{
		journal: jn,
		logger:  log.WithComponent(logger, "journal"),
	}
}

// StageReason stores the reason for the next spawned transition. The
// transition itself does not carry a reason, so the daemon stages it
// here right before spawning, under the same lock that serializes
// spawn attempts.
func (rec *transitionRecorder) StageReason(reason string) {
	rec.mu.Lock()
	rec.reason = reason
	rec.mu.Unlock()
}

// Sealed reports whether a transition has sealed the journal.
func (rec *transitionRecorder) Sealed() bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.sealed
}

// Hook is the journalling phase hook passed to the power task.
func (rec *transitionRecorder) Hook(tr *power.Transition, phase power.Phase) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.sealed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), journalOpTimeout)
	defer cancel()
	now := time.Now()

	if phase == power.PhaseSpawned {
		err := rec.journal.Begin(ctx, tr.ID, tr.Command.String(), tr.Requester, rec.reason, tr.StartedAt)
		if err != nil {
			rec.logger.Warn("failed to journal transition start",
				log.String("transition_id", tr.ID),
				log.Error(err))
		}
		rec.reason = ""
	}

	if err := rec.journal.RecordPhase(ctx, tr.ID, phase.String(), now); err != nil {
		rec.logger.Warn("failed to journal phase",
			log.String("transition_id", tr.ID),
			log.String(log.PhaseKey, phase.String()),
			log.Error(err))
	}

	if phase == power.PhaseQuiesce {
		if err := rec.journal.Seal(ctx, tr.ID, journal.OutcomeCommitted, now); err != nil {
			rec.logger.Warn("failed to seal transition journal",
				log.String("transition_id", tr.ID),
				log.Error(err))
		}
		if err := rec.journal.Close(); err != nil {
			rec.logger.Warn("failed to close transition journal",
				log.Error(err))
		}
		rec.sealed = true
		rec.logger.Info("transition journal sealed",
			log.String("transition_id", tr.ID))
	}
}

// spanRecorder mirrors a transition's phases into OpenTelemetry spans:
// one root span for the transition with one child span per phase.
// Spans past the first quiesce usually never export, the machine halts
// first; the exporter's flush at finalizer teardown is the last word.
type spanRecorder struct {
	tracer trace.Tracer

	mu        sync.Mutex
	ctx       context.Context
	root      *tracing.TransitionSpan
	phaseSpan *tracing.TransitionSpan
}

func newSpanRecorder(tracer trace.Tracer) *spanRecorder {
	return &spanRecorder{tracer: tracer}
}

// Hook is the tracing phase hook passed to the power task.
func (sr *spanRecorder) Hook(tr *power.Transition, phase power.Phase) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if phase == power.PhaseSpawned {
		sr.ctx, sr.root = tracing.StartTransition(context.Background(), sr.tracer, tr.ID, tr.Command.String())
		if tr.Requester != "" {
			sr.root.SetAttributes(map[string]any{
				"power.requester": tr.Requester,
			})
		}
		return
	}
	if sr.root == nil {
		return
	}

	if sr.phaseSpan != nil {
		sr.phaseSpan.End()
		sr.phaseSpan = nil
	}

	if phase == power.PhaseHalted {
		sr.root.Succeed()
		sr.root.End()
		sr.root = nil
		return
	}

	_, sr.phaseSpan = tracing.StartPhase(sr.ctx, sr.tracer, phase.String())
}
