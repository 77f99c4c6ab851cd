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
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TransitionSpan wraps an OpenTelemetry span with power-specific
// helpers. All methods are safe on a nil span, so tracing can be
// threaded through the power path unconditionally.
type TransitionSpan struct {
	span trace.Span
}

// StartTransition creates the root span for one power transition.
func StartTransition(ctx context.Context, tracer trace.Tracer, transitionID, command string) (context.Context, *TransitionSpan) {
	ctx, span := tracer.Start(ctx, fmt.Sprintf("transition: %s", command),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("power.command", command),
			attribute.String("power.transition_id", transitionID),
			attribute.String("span.type", "power.transition"),
		),
	)

	return ctx, &TransitionSpan{span: span}
}

// StartPhase creates a child span for one phase of a transition.
func StartPhase(ctx context.Context, tracer trace.Tracer, phase string) (context.Context, *TransitionSpan) {
	ctx, span := tracer.Start(ctx, fmt.Sprintf("phase: %s", phase),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("power.phase", phase),
			attribute.String("span.type", "power.phase"),
		),
	)

	return ctx, &TransitionSpan{span: span}
}

// SetAttributes adds key-value attributes to the span.
func (t *TransitionSpan) SetAttributes(attrs map[string]any) {
	if t == nil || t.span == nil {
		return
	}
	t.span.SetAttributes(toAttributes(attrs)...)
}

// AddEvent records a timestamped event within the span.
func (t *TransitionSpan) AddEvent(name string, attrs map[string]any) {
	if t == nil || t.span == nil {
		return
	}
	t.span.AddEvent(name, trace.WithAttributes(toAttributes(attrs)...))
}

// RecordError records a failure and marks the span's status as error.
func (t *TransitionSpan) RecordError(err error) {
	if t == nil || t.span == nil || err == nil {
		return
	}
	t.span.RecordError(err)
	t.span.SetStatus(codes.Error, err.Error())
}

// Succeed marks the span's status as OK.
func (t *TransitionSpan) Succeed() {
	if t == nil || t.span == nil {
		return
	}
	t.span.SetStatus(codes.Ok, "")
}

// End marks the span as complete.
func (t *TransitionSpan) End() {
	if t == nil || t.span == nil {
		return
	}
	t.span.End()
}

// TraceID returns the trace ID as a string, empty when not recording.
func (t *TransitionSpan) TraceID() string {
	if t == nil || t.span == nil {
		return ""
	}
	return t.span.SpanContext().TraceID().String()
}

func toAttributes(attrs map[string]any) []attribute.KeyValue {
	otelAttrs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			otelAttrs = append(otelAttrs, attribute.String(k, val))
		case int:
			otelAttrs = append(otelAttrs, attribute.Int(k, val))
		case int64:
			otelAttrs = append(otelAttrs, attribute.Int64(k, val))
		case float64:
			otelAttrs = append(otelAttrs, attribute.Float64(k, val))
		case bool:
			otelAttrs = append(otelAttrs, attribute.Bool(k, val))
		default:
			otelAttrs = append(otelAttrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	return otelAttrs
}
