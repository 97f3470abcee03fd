// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api serves configuration transactions over HTTP.
//
// # Endpoints
//
//	GET  /health                  liveness
//	GET  /metrics                 prometheus exposition
//	POST /v1/transactions         apply a plan, return its report
//	GET  /v1/transactions         list stored reports, newest first
//	GET  /v1/transactions/:id     one stored report
//	GET  /v1/bundles/:name        bundle state
//	GET  /v1/features/:name       feature state
//	GET  /v1/configs/:pid         managed-service configuration
//
// POST answers 200 when every operation committed, 409 when the
// transaction was rolled back cleanly, and 422 when a rollback failed and
// the system needs manual attention. The body is the report in all three
// cases.
package api

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/cfgadmin/services/configurator"
	"github.com/AleutianAI/cfgadmin/services/configurator/handlers"
)

// ReportStore persists transaction reports. *reportstore.Store satisfies it.
type ReportStore interface {
	Save(ctx context.Context, report *configurator.ConfigReport) error
	Get(ctx context.Context, id string) (configurator.ReportRecord, error)
	List(ctx context.Context, limit int) ([]configurator.ReportRecord, error)
}

// Config configures a Server.
type Config struct {
	// ServiceName labels otelgin spans. Default: "cfgadmin"
	ServiceName string

	// Collaborators are handed to every transaction's Registrar.
	Collaborators handlers.Collaborators

	// Reports stores reports. Optional; without it the GET transaction
	// endpoints answer 404 and nothing is persisted.
	Reports ReportStore

	// Options returns the Configurator options for one transaction.
	// Default: configurator.DefaultOptions with Logger.
	Options func() configurator.Options

	// RateLimit is the sustained POST /v1/transactions rate per second.
	// Zero or less disables limiting.
	RateLimit float64

	// RateBurst is the limiter burst. Default: 1
	RateBurst int

	// Logger receives request logs. Default: slog.Default()
	Logger *slog.Logger
}

// Server owns the router and serialises transactions.
//
// # Thread Safety
//
// Safe for concurrent use. At most one transaction runs at a time per
// Server.
type Server struct {
	config  Config
	logger  *slog.Logger
	limiter *rate.Limiter
	router  *gin.Engine

	txMu sync.Mutex
}

// New builds a Server and its routes.
func New(config Config) *Server {
	if config.ServiceName == "" {
		config.ServiceName = "cfgadmin"
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Options == nil {
		logger := config.Logger
		config.Options = func() configurator.Options {
			opts := configurator.DefaultOptions()
			opts.Logger = logger
			return opts
		}
	}
	if config.RateBurst <= 0 {
		config.RateBurst = 1
	}

	s := &Server{config: config, logger: config.Logger}
	if config.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst)
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware(config.ServiceName))
	s.router.Use(requestMetrics())
	s.setupRoutes()
	return s
}

// Router returns the gin engine, for http.Server and tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.health)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/v1")
	{
		tx := v1.Group("/transactions")
		{
			tx.POST("", s.rateLimited(), s.applyPlan)
			tx.GET("", s.listReports)
			tx.GET("/:id", s.getReport)
		}
		v1.GET("/bundles/:name", s.getBundle)
		v1.GET("/features/:name", s.getFeature)
		v1.GET("/configs/:pid", s.getConfig)
	}
}
