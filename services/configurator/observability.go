// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package configurator

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const configuratorTracerName = "cfgadmin.configurator"

// Tracer provides OpenTelemetry tracing for configurator operations.
//
// # Description
//
// Wraps the global OpenTelemetry tracer with configurator span names and
// attributes. When disabled, returns noop spans.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Tracer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool
}

// NewTracer creates a new configurator tracer.
//
// # Inputs
//
//   - logger: Logger for structured logging. Uses slog.Default() if nil.
//   - enabled: Whether tracing is enabled. When false, uses noop spans.
//
// # Outputs
//
//   - *Tracer: Ready-to-use tracer instance.
func NewTracer(logger *slog.Logger, enabled bool) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		tracer:  otel.Tracer(configuratorTracerName),
		logger:  logger,
		enabled: enabled,
	}
}

// Enabled reports whether spans are recorded.
func (t *Tracer) Enabled() bool {
	return t.enabled
}

// StartCommit starts the root span of a commit.
//
// # Inputs
//
//   - ctx: Parent context for span creation.
//   - txID: Transaction (report) id.
//   - message: Audit message.
//   - handlers: Number of registered handlers.
//
// # Outputs
//
//   - context.Context: Context with span attached.
//   - trace.Span: The created span. Caller must call EndCommit.
func (t *Tracer) StartCommit(ctx context.Context, txID, message string, handlers int) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}

	ctx, span := t.tracer.Start(ctx, "configurator.commit",
		trace.WithAttributes(
			attribute.String("cfg.tx_id", txID),
			attribute.String("cfg.message", truncateForTrace(message, 100)),
			attribute.Int("cfg.handlers", handlers),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	t.logger.DebugContext(ctx, "committing configuration transaction",
		slog.String("tx_id", txID),
		slog.Int("handlers", handlers),
	)

	return ctx, span
}

// EndCommit completes a commit span with the report outcome.
func (t *Tracer) EndCommit(span trace.Span, report *ConfigReport) {
	if span == nil {
		return
	}
	defer span.End()

	if report == nil {
		span.SetStatus(codes.Ok, "")
		return
	}

	status := report.Status()
	span.SetAttributes(
		attribute.String("cfg.status", status),
		attribute.String("cfg.summary", report.SummaryString()),
	)
	if err := report.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		return
	}
	span.SetStatus(codes.Ok, "")
}

// StartStep starts a child span for one handler commit or rollback.
//
// # Inputs
//
//   - ctx: Parent context (should contain the commit or rollback span).
//   - op: "commit" or "rollback".
//   - id: Correlation id.
//   - h: The handler.
func (t *Tracer) StartStep(ctx context.Context, op, id string, h ConfigHandler) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}

	return t.tracer.Start(ctx, "configurator."+op+"."+string(h.Kind()),
		trace.WithAttributes(
			attribute.String("cfg.correlation_id", id),
			attribute.String("cfg.kind", string(h.Kind())),
			attribute.String("cfg.target", truncateForTrace(h.Target(), 200)),
		),
	)
}

// EndStep completes a step span with the recorded result.
func (t *Tracer) EndStep(span trace.Span, result Result) {
	if span == nil {
		return
	}
	defer span.End()

	span.SetAttributes(attribute.String("cfg.result", string(result.Kind)))
	if result.ConfigID != "" {
		span.SetAttributes(attribute.String("cfg.config_id", result.ConfigID))
	}
	if result.Failed() {
		if result.Cause != nil {
			span.RecordError(result.Cause)
			span.SetStatus(codes.Error, result.Cause.Error())
		} else {
			span.SetStatus(codes.Error, string(result.Kind))
		}
		return
	}
	span.SetStatus(codes.Ok, "")
}

// StartRollback starts the span covering the rollback pass.
//
// # Inputs
//
//   - ctx: Parent context.
//   - txID: Transaction id.
//   - failedID: Correlation id of the handler whose commit failed.
//   - committed: Size of the committed prefix.
func (t *Tracer) StartRollback(ctx context.Context, txID, failedID string, committed int) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}

	ctx, span := t.tracer.Start(ctx, "configurator.rollback",
		trace.WithAttributes(
			attribute.String("cfg.tx_id", txID),
			attribute.String("cfg.failed_id", failedID),
			attribute.Int("cfg.committed", committed),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	t.logger.DebugContext(ctx, "rolling back configuration transaction",
		slog.String("tx_id", txID),
		slog.String("failed_id", failedID),
	)

	return ctx, span
}

// EndRollback completes the rollback span. failures is the number of
// handlers whose rollback failed.
func (t *Tracer) EndRollback(span trace.Span, failures int) {
	if span == nil {
		return
	}
	defer span.End()

	span.SetAttributes(attribute.Int("cfg.rollback_failures", failures))
	if failures > 0 {
		span.SetStatus(codes.Error, "rollback incomplete")
		return
	}
	span.SetStatus(codes.Ok, "")
}

// truncateForTrace truncates a string for use in span attributes.
//
// If maxLen is less than 4, returns at most maxLen characters without suffix.
func truncateForTrace(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 4 {
		if maxLen <= 0 {
			return ""
		}
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// LoggerWithTrace returns a logger with trace_id and span_id from ctx, or
// logger unchanged when ctx carries no valid span.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}
