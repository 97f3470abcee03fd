// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/cfgadmin/services/configurator"
	"github.com/AleutianAI/cfgadmin/services/configurator/handlers"
	"github.com/AleutianAI/cfgadmin/services/configurator/plan"
)

// TransactionResponse is the body of POST /v1/transactions.
type TransactionResponse struct {
	// IDs are the correlation ids of the plan's operations, in order.
	IDs    []string                  `json:"ids"`
	Report configurator.ReportRecord `json:"report"`
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

func abortWithError(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, errorBody{Error: err.Error()})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) rateLimited() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter != nil && !s.limiter.Allow() {
			transactionsRejected.WithLabelValues("rate_limited").Inc()
			c.Header("Retry-After", "1")
			abortWithError(c, http.StatusTooManyRequests, errors.New("too many transactions"))
			return
		}
		c.Next()
	}
}

// applyPlan builds one Configurator from the posted plan and commits it.
//
// # Description
//
// The plan is validated before anything is registered; an invalid plan
// answers 400 without side effects. Commit runs on a context detached
// from the request's cancellation.
func (s *Server) applyPlan(c *gin.Context) {
	var p plan.Plan
	if err := c.ShouldBindJSON(&p); err != nil {
		transactionsRejected.WithLabelValues("bad_request").Inc()
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	if err := p.Validate(); err != nil {
		transactionsRejected.WithLabelValues("invalid_plan").Inc()
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	ctx := context.WithoutCancel(c.Request.Context())
	logger := configurator.LoggerWithTrace(ctx, s.logger)

	cfg := configurator.New(s.config.Options())
	reg := handlers.NewRegistrar(cfg, s.config.Collaborators).WithLogger(logger)
	ids, err := plan.Build(&p, reg)
	if err != nil {
		transactionsRejected.WithLabelValues("build_failed").Inc()
		logger.Error("plan could not be registered",
			slog.String("plan", p.Name),
			slog.String("error", err.Error()),
		)
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}

	report := cfg.Commit(ctx, p.Name,
		"source", "api",
		"client_ip", c.ClientIP(),
		"operations", len(ids),
	)

	if s.config.Reports != nil {
		if err := s.config.Reports.Save(ctx, report); err != nil {
			logger.Error("report not persisted",
				slog.String("transaction_id", report.ID()),
				slog.String("error", err.Error()),
			)
		}
	}

	c.JSON(statusFor(report), TransactionResponse{IDs: ids, Report: report.Record()})
}

// statusFor maps a report to the POST response code.
func statusFor(report *configurator.ConfigReport) int {
	switch report.Status() {
	case configurator.StatusRolledBack:
		return http.StatusConflict
	case configurator.StatusInterventionRequired:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusOK
	}
}

func (s *Server) listReports(c *gin.Context) {
	if s.config.Reports == nil {
		c.JSON(http.StatusOK, []configurator.ReportRecord{})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			abortWithError(c, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	recs, err := s.config.Reports.List(c.Request.Context(), limit)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

func (s *Server) getReport(c *gin.Context) {
	if s.config.Reports == nil {
		abortWithError(c, http.StatusNotFound, errors.New("report storage is not configured"))
		return
	}
	rec, err := s.config.Reports.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, codeFor(err), err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) getBundle(c *gin.Context) {
	if s.config.Collaborators.Bundles == nil {
		abortWithError(c, http.StatusNotImplemented, handlers.ErrMissingCollaborator)
		return
	}
	h := handlers.NewStartBundle(s.config.Collaborators.Bundles, c.Param("name"))
	s.readState(c, h)
}

func (s *Server) getFeature(c *gin.Context) {
	if s.config.Collaborators.Features == nil {
		abortWithError(c, http.StatusNotImplemented, handlers.ErrMissingCollaborator)
		return
	}
	h := handlers.NewStartFeature(s.config.Collaborators.Features, c.Param("name"))
	s.readState(c, h)
}

func (s *Server) getConfig(c *gin.Context) {
	if s.config.Collaborators.Configs == nil {
		abortWithError(c, http.StatusNotImplemented, handlers.ErrMissingCollaborator)
		return
	}
	h := handlers.NewUpdateManagedService(s.config.Collaborators.Configs, c.Param("pid"), nil, true)
	s.readState(c, h)
}

// readState answers with h's current state, or 404 when it does not exist.
func (s *Server) readState(c *gin.Context, h configurator.ConfigHandler) {
	state, err := h.ReadState(c.Request.Context())
	if err != nil {
		abortWithError(c, codeFor(err), err)
		return
	}
	if !state.Exists {
		abortWithError(c, http.StatusNotFound, errors.New(string(h.Kind())+" "+h.Target()+" not found"))
		return
	}
	c.JSON(http.StatusOK, state)
}

func codeFor(err error) int {
	switch {
	case errors.Is(err, handlers.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
