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
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewTracer(t *testing.T) {
	t.Run("uses provided logger", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		tracer := NewTracer(logger, true)
		assert.Same(t, logger, tracer.logger)
		assert.True(t, tracer.Enabled())
	})

	t.Run("defaults logger", func(t *testing.T) {
		tracer := NewTracer(nil, false)
		assert.NotNil(t, tracer.logger)
		assert.False(t, tracer.Enabled())
	})
}

func TestTracer_DisabledReturnsSameContext(t *testing.T) {
	ctx := context.Background()
	tracer := NewTracer(nil, false)
	h := &fakeHandler{name: "b", kind: KindBundle, log: &callLog{}}

	newCtx, span := tracer.StartCommit(ctx, "tx", "msg", 1)
	assert.Equal(t, ctx, newCtx)
	tracer.EndCommit(span, nil)

	newCtx, span = tracer.StartStep(ctx, "commit", "id", h)
	assert.Equal(t, ctx, newCtx)
	tracer.EndStep(span, Pass())

	newCtx, span = tracer.StartRollback(ctx, "tx", "id", 0)
	assert.Equal(t, ctx, newCtx)
	tracer.EndRollback(span, 0)
}

func TestTracer_EnabledSpans(t *testing.T) {
	ctx := context.Background()
	tracer := NewTracer(nil, true)
	h := &fakeHandler{name: "b", kind: KindBundle, log: &callLog{}}

	report := NewConfigReport("tx")
	report.PutResult("a", Fail(errors.New("x")))

	assert.NotPanics(t, func() {
		cctx, span := tracer.StartCommit(ctx, "tx", "msg", 2)
		sctx, step := tracer.StartStep(cctx, "commit", "a", h)
		_ = sctx
		tracer.EndStep(step, RollbackFail(errors.New("y")))
		_, rb := tracer.StartRollback(cctx, "tx", "a", 1)
		tracer.EndRollback(rb, 1)
		tracer.EndCommit(span, report)
	})
}

func TestTracer_EndNilSpans(t *testing.T) {
	tracer := NewTracer(nil, true)
	assert.NotPanics(t, func() {
		tracer.EndCommit(nil, nil)
		tracer.EndStep(nil, Pass())
		tracer.EndRollback(nil, 0)
	})
}

func TestTruncateForTrace(t *testing.T) {
	tests := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"abcdef", 3, "abc"},
		{"abcdef", 0, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truncateForTrace(tt.in, tt.maxLen))
	}
}

func TestLoggerWithTrace_NoSpan(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	assert.Same(t, logger, LoggerWithTrace(context.Background(), logger))
}

func TestMetricsRecording(t *testing.T) {
	ctx := context.Background()

	t.Run("records when enabled", func(t *testing.T) {
		SetMetricsEnabled(true)
		defer SetMetricsEnabled(false)

		assert.NotPanics(t, func() {
			incActive(ctx)
			recordHandler(ctx, KindBundle, ResultPass)
			recordRollback(ctx, true)
			recordRollback(ctx, false)
			recordCommit(ctx, StatusCommitted, 5*time.Millisecond)
			decActive(ctx)
		})
	})

	t.Run("skips when disabled", func(t *testing.T) {
		SetMetricsEnabled(false)
		assert.NotPanics(t, func() {
			recordCommit(ctx, StatusRolledBack, time.Second)
		})
	})
}
