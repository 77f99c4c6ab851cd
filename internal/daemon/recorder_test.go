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
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tombee/powerd/internal/journal"
	"github.com/tombee/powerd/internal/power"
	"github.com/tombee/powerd/internal/tracing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestJournal(t *testing.T) (*journal.Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	jn, err := journal.Open(journal.Config{Path: path})
	require.NoError(t, err)
	return jn, path
}

func TestTransitionRecorder_SealsAtQuiesce(t *testing.T) {
	jn, path := openTestJournal(t)

	rec := newTransitionRecorder(jn, discardLogger())
	rec.StageReason("scheduled maintenance")

	tr := &power.Transition{
		ID:        "tr-1",
		Command:   power.CommandShutdown,
		Requester: "ops",
		StartedAt: time.Now(),
	}

	rec.Hook(tr, power.PhaseSpawned)
	rec.Hook(tr, power.PhaseTerminatingUsers)
	rec.Hook(tr, power.PhaseTerminatingSystem)
	rec.Hook(tr, power.PhaseFinalizerTeardown)
	assert.False(t, rec.Sealed())

	// Before the seal the entry is pending
	entry, err := jn.Get(context.Background(), "tr-1")
	require.NoError(t, err)
	assert.Equal(t, journal.OutcomePending, entry.Outcome)
	assert.Nil(t, entry.SealedAt)

	rec.Hook(tr, power.PhaseQuiesce)
	assert.True(t, rec.Sealed())

	// The seal closed the database; later phases must be silent no-ops
	rec.Hook(tr, power.PhaseUnmountSweep)
	rec.Hook(tr, power.PhaseDispatch)

	reopened, err := journal.Open(journal.Config{Path: path})
	require.NoError(t, err)
	defer reopened.Close()

	entry, err = reopened.Get(context.Background(), "tr-1")
	require.NoError(t, err)
	assert.Equal(t, "shutdown", entry.Command)
	assert.Equal(t, "ops", entry.Requester)
	assert.Equal(t, "scheduled maintenance", entry.Reason)
	assert.Equal(t, journal.OutcomeCommitted, entry.Outcome)
	require.NotNil(t, entry.SealedAt)

	var phases []string
	for _, p := range entry.Phases {
		phases = append(phases, p.Phase)
	}
	want := []string{
		"spawned",
		"terminating_users",
		"terminating_system",
		"finalizer_teardown",
		"quiesce",
	}
	assert.Equal(t, want, phases)
}

func TestTransitionRecorder_RebootPathSeals(t *testing.T) {
	jn, path := openTestJournal(t)

	rec := newTransitionRecorder(jn, discardLogger())

	tr := &power.Transition{
		ID:        "tr-2",
		Command:   power.CommandReboot,
		StartedAt: time.Now(),
	}

	// Reboot goes straight from spawn to quiesce
	rec.Hook(tr, power.PhaseSpawned)
	rec.Hook(tr, power.PhaseQuiesce)
	assert.True(t, rec.Sealed())

	reopened, err := journal.Open(journal.Config{Path: path})
	require.NoError(t, err)
	defer reopened.Close()

	entry, err := reopened.Get(context.Background(), "tr-2")
	require.NoError(t, err)
	assert.Equal(t, "reboot", entry.Command)
	assert.Equal(t, journal.OutcomeCommitted, entry.Outcome)
	assert.Empty(t, entry.Reason)
}

func TestTransitionRecorder_ReasonUsedOnce(t *testing.T) {
	jn, _ := openTestJournal(t)
	defer jn.Close()

	rec := newTransitionRecorder(jn, discardLogger())
	rec.StageReason("first transition only")

	tr1 := &power.Transition{ID: "tr-a", Command: power.CommandReboot, StartedAt: time.Now()}
	rec.Hook(tr1, power.PhaseSpawned)

	tr2 := &power.Transition{ID: "tr-b", Command: power.CommandReboot, StartedAt: time.Now()}
	rec.Hook(tr2, power.PhaseSpawned)

	first, err := jn.Get(context.Background(), "tr-a")
	require.NoError(t, err)
	assert.Equal(t, "first transition only", first.Reason)

	second, err := jn.Get(context.Background(), "tr-b")
	require.NoError(t, err)
	assert.Empty(t, second.Reason)
}

// attrValue returns the emitted value of a span attribute, or "" when
// the attribute is absent.
func attrValue(stub tracetest.SpanStub, key string) string {
	for _, attr := range stub.Attributes {
		if string(attr.Key) == key {
			return attr.Value.Emit()
		}
	}
	return ""
}

func newTestTracing(t *testing.T) (*tracing.Provider, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	provider, err := tracing.NewProvider(context.Background(), tracing.Config{
		Enabled:        true,
		ServiceName:    "powerd-test",
		ServiceVersion: "0.0.1",
	}, sdktrace.WithSyncer(exporter))
	require.NoError(t, err)
	t.Cleanup(func() {
		provider.Shutdown(context.Background())
	})
	return provider, exporter
}

func TestSpanRecorder_MirrorsPhases(t *testing.T) {
	provider, exporter := newTestTracing(t)
	sr := newSpanRecorder(provider.Tracer("test"))

	tr := &power.Transition{
		ID:        "tr-9",
		Command:   power.CommandReboot,
		Requester: "ops",
		StartedAt: time.Now(),
	}

	sr.Hook(tr, power.PhaseSpawned)
	sr.Hook(tr, power.PhaseQuiesce)
	sr.Hook(tr, power.PhaseDispatch)
	sr.Hook(tr, power.PhaseHalted)

	require.NoError(t, provider.ForceFlush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 3)

	var root, quiesce, dispatch *tracetest.SpanStub
	for i := range spans {
		switch spans[i].Name {
		case "transition: reboot":
			root = &spans[i]
		case "phase: quiesce":
			quiesce = &spans[i]
		case "phase: dispatch":
			dispatch = &spans[i]
		}
	}
	require.NotNil(t, root)
	require.NotNil(t, quiesce)
	require.NotNil(t, dispatch)

	assert.Equal(t, "ops", attrValue(*root, "power.requester"))
	assert.Equal(t, "Ok", root.Status.Code.String())

	// Phase spans nest under the transition root
	assert.Equal(t, root.SpanContext.SpanID(), quiesce.Parent.SpanID())
	assert.Equal(t, root.SpanContext.SpanID(), dispatch.Parent.SpanID())

	// Quiesce ended when dispatch began
	assert.False(t, quiesce.EndTime.After(dispatch.StartTime))
}

func TestSpanRecorder_IgnoresPhasesWithoutRoot(t *testing.T) {
	provider, exporter := newTestTracing(t)
	sr := newSpanRecorder(provider.Tracer("test"))

	tr := &power.Transition{ID: "tr-10", Command: power.CommandShutdown, StartedAt: time.Now()}

	// A phase arriving before spawn has nothing to attach to
	sr.Hook(tr, power.PhaseQuiesce)

	require.NoError(t, provider.ForceFlush(context.Background()))
	assert.Empty(t, exporter.GetSpans())
}
