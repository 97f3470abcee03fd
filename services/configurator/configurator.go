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
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Phase
// =============================================================================

// Phase is the lifecycle state of a Configurator.
//
// Building → Committing → (RollingBack →) Done. Done is terminal.
type Phase int32

const (
	PhaseBuilding Phase = iota
	PhaseCommitting
	PhaseRollingBack
	PhaseDone
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseBuilding:
		return "building"
	case PhaseCommitting:
		return "committing"
	case PhaseRollingBack:
		return "rolling_back"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// =============================================================================
// Options
// =============================================================================

// Locker grants exclusive access to a named resource across Configurator
// instances.
//
// Acquire must not block indefinitely; it returns an error wrapping
// ErrResourceLocked when another holder has the key.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func() error, err error)
}

// Auditor receives one audit record per commit. *logging.Logger satisfies
// it.
type Auditor interface {
	Audit(msg string, args ...any)
}

// StepHook is called after a handler's commit or rollback result is
// recorded. It runs on the Commit goroutine without the instance lock.
type StepHook func(id string, h ConfigHandler, result Result)

// Options configures a Configurator.
type Options struct {
	// Logger receives operational logs. Default: slog.Default()
	Logger *slog.Logger

	// Auditor receives the commit audit record. When nil the record goes
	// to Logger at Info with audit=true.
	Auditor Auditor

	// Locker, when set, serialises transactions that touch the same
	// handler targets.
	Locker Locker

	// Tracer creates spans for commit, steps and rollback. Default: a
	// disabled tracer.
	Tracer *Tracer

	// StepTimeout bounds each Commit and Rollback call through its
	// context. Zero means no bound. Handlers must honour ctx for it to
	// have any effect.
	StepTimeout time.Duration

	// IDGenerator creates correlation ids and the report id.
	// Default: uuid.NewString
	IDGenerator func() string

	// OnCommit is called after each forward step.
	OnCommit StepHook

	// OnRollback is called after each rollback step.
	OnRollback StepHook
}

// DefaultOptions returns Options with the default logger and id generator.
func DefaultOptions() Options {
	return Options{
		Logger:      slog.Default(),
		IDGenerator: uuid.NewString,
	}
}

// maxIDAttempts bounds regeneration when the id generator collides.
const maxIDAttempts = 8

// =============================================================================
// Configurator
// =============================================================================

type registration struct {
	id      string
	handler ConfigHandler
}

// Configurator registers ConfigHandlers and applies them as one
// compensating transaction.
//
// # Description
//
// Handlers run in registration order. On the first commit failure the
// failing handler is recorded as Fail, every later handler as Skip, and
// the handlers that already committed are rolled back in reverse order.
// Rollback is best-effort: a failed rollback is recorded and the pass
// continues.
//
// # Thread Safety
//
// Safe for concurrent use. Handlers are never invoked concurrently. Commit
// does not hold the instance lock while handlers and hooks run, so both may
// call Len, State, ReadState and Report.
type Configurator struct {
	mu sync.Mutex

	opts   Options
	logger *slog.Logger
	tracer *Tracer
	phase  atomic.Int32

	handlers []registration
	ids      map[string]struct{}
	report   *ConfigReport
}

// New creates a Configurator in the Building phase.
//
// # Inputs
//
//   - opts: Configuration. Zero-value fields take their defaults.
//
// # Outputs
//
//   - *Configurator: Ready for Add.
func New(opts Options) *Configurator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.IDGenerator == nil {
		opts.IDGenerator = uuid.NewString
	}
	if opts.Tracer == nil {
		opts.Tracer = NewTracer(opts.Logger, false)
	}
	return &Configurator{
		opts:   opts,
		logger: opts.Logger,
		tracer: opts.Tracer,
		ids:    make(map[string]struct{}),
		report: NewConfigReport(opts.IDGenerator()),
	}
}

// ID returns the transaction id, which is also the report id.
func (c *Configurator) ID() string {
	return c.report.ID()
}

// State returns the current phase.
func (c *Configurator) State() Phase {
	return Phase(c.phase.Load())
}

// Len returns the number of registered handlers.
func (c *Configurator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

// Add registers a handler and returns its correlation id.
//
// # Outputs
//
//   - string: Correlation id, unique within this Configurator.
//   - error: ErrNilHandler, or ErrAlreadyCommitted once Commit has started.
func (c *Configurator) Add(h ConfigHandler) (string, error) {
	if h == nil {
		return "", ErrNilHandler
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != PhaseBuilding {
		return "", ErrAlreadyCommitted
	}

	id, err := c.newIDLocked()
	if err != nil {
		return "", err
	}
	c.ids[id] = struct{}{}
	c.handlers = append(c.handlers, registration{id: id, handler: h})

	c.logger.Debug("handler registered",
		slog.String("transaction_id", c.report.ID()),
		slog.String("correlation_id", id),
		slog.String("kind", string(h.Kind())),
		slog.String("target", h.Target()),
	)
	return id, nil
}

func (c *Configurator) newIDLocked() (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := c.opts.IDGenerator()
		if id == "" || id == c.report.ID() {
			continue
		}
		if _, taken := c.ids[id]; !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("generate correlation id: %d attempts collided", maxIDAttempts)
}

// ReadState probes the target of the handler registered under id.
func (c *Configurator) ReadState(ctx context.Context, id string) (State, error) {
	c.mu.Lock()
	var h ConfigHandler
	for _, reg := range c.handlers {
		if reg.id == id {
			h = reg.handler
			break
		}
	}
	c.mu.Unlock()

	if h == nil {
		return State{}, fmt.Errorf("no handler registered under %q", id)
	}
	return h.ReadState(ctx)
}

// Report returns the report. It is final once State() is PhaseDone.
func (c *Configurator) Report() *ConfigReport {
	return c.report
}

// Commit applies all registered handlers as one transaction.
//
// # Description
//
// Runs the forward pass and, on the first failure, the rollback pass.
// Every registered handler gets exactly one result. Handler errors and
// panics are recorded, never returned. A second call runs nothing and
// returns the same report, which is still in progress until State() is
// PhaseDone.
//
// If ctx is cancelled during the forward pass the next handler is recorded
// as Fail with the context error. The rollback pass runs on a context that
// is not cancelled with ctx.
//
// # Inputs
//
//   - ctx: Context for the forward pass.
//   - auditMessage: Human-readable reason, written to the audit record.
//   - auditParams: Extra key/value pairs for the audit record.
//
// # Outputs
//
//   - *ConfigReport: The finalized report.
func (c *Configurator) Commit(ctx context.Context, auditMessage string, auditParams ...any) *ConfigReport {
	c.mu.Lock()
	if !c.phase.CompareAndSwap(int32(PhaseBuilding), int32(PhaseCommitting)) {
		c.mu.Unlock()
		return c.report
	}
	// Add refuses new handlers once the phase has moved, so the slice is
	// fixed from here on.
	regs := slices.Clone(c.handlers)
	c.mu.Unlock()

	start := time.Now()
	c.report.begin(auditMessage, start)
	for _, reg := range regs {
		c.report.describe(reg.id, reg.handler.Kind(), reg.handler.Target())
	}

	incActive(ctx)
	defer decActive(ctx)

	ctx, span := c.tracer.StartCommit(ctx, c.report.ID(), auditMessage, len(regs))
	logger := LoggerWithTrace(ctx, c.logger).With(slog.String("transaction_id", c.report.ID()))

	releases, lockFailed := c.acquireLocks(ctx, logger, regs)
	if !lockFailed {
		if failedAt := c.forward(ctx, logger, regs); failedAt >= 0 {
			c.rollback(ctx, logger, regs, failedAt)
		}
	}
	c.finish(logger, regs)
	c.releaseLocks(logger, releases)

	c.phase.Store(int32(PhaseDone))
	c.report.finish(time.Now())

	status := c.report.Status()
	recordCommit(ctx, status, time.Since(start))
	c.tracer.EndCommit(span, c.report)
	c.audit(auditMessage, auditParams, status)

	return c.report
}

// forward commits handlers in order. Returns the index of the failing
// handler, or -1 when all committed.
func (c *Configurator) forward(ctx context.Context, logger *slog.Logger, regs []registration) int {
	for i, reg := range regs {
		h := reg.handler

		result, err := c.commitStep(ctx, reg)

		c.report.PutResult(reg.id, result)
		recordHandler(ctx, h.Kind(), result.Kind)
		if c.opts.OnCommit != nil {
			c.opts.OnCommit(reg.id, h, result)
		}

		if err != nil {
			logger.Error("handler commit failed",
				slog.String("correlation_id", reg.id),
				slog.String("kind", string(h.Kind())),
				slog.String("target", h.Target()),
				slog.String("error", err.Error()),
			)
			return i
		}
		logger.Debug("handler committed",
			slog.String("correlation_id", reg.id),
			slog.String("kind", string(h.Kind())),
			slog.String("target", h.Target()),
			slog.String("result", result.String()),
		)
	}
	return -1
}

func (c *Configurator) commitStep(ctx context.Context, reg registration) (Result, error) {
	h := reg.handler
	if ctxErr := ctx.Err(); ctxErr != nil {
		err := NewConfiguratorError("commit", h.Target(), ctxErr)
		return Fail(err), err
	}

	stepCtx, span := c.tracer.StartStep(ctx, "commit", reg.id, h)
	var outcome Outcome
	err := c.invoke(stepCtx, "commit", h, func(ctx context.Context) error {
		var commitErr error
		outcome, commitErr = h.Commit(ctx)
		return commitErr
	})

	var result Result
	switch {
	case err != nil:
		result = Fail(err)
	case outcome.ConfigID != "":
		result = PassManagedService(outcome.ConfigID)
	default:
		result = Pass()
	}
	c.tracer.EndStep(span, result)
	return result, err
}

// rollback marks handlers after failedAt as Skip and rolls back the
// committed prefix in reverse order.
func (c *Configurator) rollback(ctx context.Context, logger *slog.Logger, regs []registration, failedAt int) {
	c.phase.Store(int32(PhaseRollingBack))

	for _, reg := range regs[failedAt+1:] {
		c.report.PutResult(reg.id, Skip())
		recordHandler(ctx, reg.handler.Kind(), ResultSkip)
	}

	rbCtx, span := c.tracer.StartRollback(context.WithoutCancel(ctx), c.report.ID(), regs[failedAt].id, failedAt)
	logger.Warn("rolling back committed handlers",
		slog.String("failed_id", regs[failedAt].id),
		slog.Int("committed", failedAt),
	)

	failures := 0
	for i := failedAt - 1; i >= 0; i-- {
		reg := regs[i]
		h := reg.handler

		stepCtx, stepSpan := c.tracer.StartStep(rbCtx, "rollback", reg.id, h)
		err := c.invoke(stepCtx, "rollback", h, h.Rollback)

		var result Result
		switch {
		case err == nil:
			result = Rollback()
			if r, ok := h.(RestoredConfigReporter); ok {
				result.ConfigID = r.RestoredConfigID()
			}
		default:
			failures++
			prior, _ := c.report.GetResult(reg.id)
			if prior.Kind == ResultPassManagedService {
				result = RollbackFailManagedService(err, prior.ConfigID)
			} else {
				result = RollbackFail(err)
			}
		}
		c.tracer.EndStep(stepSpan, result)

		c.report.PutResult(reg.id, result)
		recordHandler(rbCtx, h.Kind(), result.Kind)
		recordRollback(rbCtx, err == nil)
		if c.opts.OnRollback != nil {
			c.opts.OnRollback(reg.id, h, result)
		}

		if err != nil {
			logger.Error("handler rollback failed",
				slog.String("correlation_id", reg.id),
				slog.String("kind", string(h.Kind())),
				slog.String("target", h.Target()),
				slog.String("config_id", result.ConfigID),
				slog.String("error", err.Error()),
			)
			continue
		}
		logger.Info("handler rolled back",
			slog.String("correlation_id", reg.id),
			slog.String("kind", string(h.Kind())),
			slog.String("target", h.Target()),
			slog.String("config_id", result.ConfigID),
		)
	}

	c.tracer.EndRollback(span, failures)
}

// invoke calls fn with the step timeout applied and converts panics and
// errors into *ConfiguratorError.
func (c *Configurator) invoke(ctx context.Context, op string, h ConfigHandler, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewConfiguratorError(op, h.Target(), fmt.Errorf("%w: %v", ErrHandlerPanic, r))
		}
	}()

	if c.opts.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.StepTimeout)
		defer cancel()
	}

	if stepErr := fn(ctx); stepErr != nil {
		return AsConfiguratorError(op, h.Target(), stepErr)
	}
	return nil
}

// acquireLocks locks every distinct target in sorted order. On failure it
// releases what it took, records Fail for the first handler of the
// contended target and Skip for the rest.
func (c *Configurator) acquireLocks(ctx context.Context, logger *slog.Logger, regs []registration) ([]func() error, bool) {
	if c.opts.Locker == nil || len(regs) == 0 {
		return nil, false
	}

	var releases []func() error
	for _, target := range sortedTargets(regs) {
		release, err := c.opts.Locker.Acquire(ctx, target)
		if err == nil {
			releases = append(releases, release)
			continue
		}

		c.releaseLocks(logger, releases)
		if !errors.Is(err, ErrResourceLocked) {
			err = fmt.Errorf("%w: %w", ErrResourceLocked, err)
		}
		cause := NewConfiguratorError("acquire lock", target, err)

		failed := false
		for _, reg := range regs {
			result := Skip()
			if !failed && reg.handler.Target() == target {
				result = Fail(cause)
				failed = true
			}
			c.report.PutResult(reg.id, result)
			recordHandler(ctx, reg.handler.Kind(), result.Kind)
		}
		logger.Error("resource lock unavailable",
			slog.String("target", target),
			slog.String("error", err.Error()),
		)
		return nil, true
	}
	return releases, false
}

// finish calls Finish on every handler that implements Finisher, in
// registration order. Panics are logged.
func (c *Configurator) finish(logger *slog.Logger, regs []registration) {
	for _, reg := range regs {
		f, ok := reg.handler.(Finisher)
		if !ok {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler finish panicked",
						slog.String("correlation_id", reg.id),
						slog.String("target", reg.handler.Target()),
						slog.Any("panic", r),
					)
				}
			}()
			f.Finish()
		}()
	}
}

func (c *Configurator) releaseLocks(logger *slog.Logger, releases []func() error) {
	for i := len(releases) - 1; i >= 0; i-- {
		if err := releases[i](); err != nil {
			logger.Warn("failed to release resource lock", slog.String("error", err.Error()))
		}
	}
}

func (c *Configurator) audit(msg string, params []any, status string) {
	args := append([]any{
		"transaction_id", c.report.ID(),
		"status", status,
		"summary", c.report.SummaryString(),
	}, params...)

	if c.opts.Auditor != nil {
		c.opts.Auditor.Audit(msg, args...)
		return
	}
	c.logger.Info(msg, append([]any{"audit", true}, args...)...)
}

// sortedTargets returns the distinct handler targets in sorted order.
func sortedTargets(handlers []registration) []string {
	seen := make(map[string]struct{}, len(handlers))
	var targets []string
	for _, reg := range handlers {
		t := reg.handler.Target()
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return targets
}
