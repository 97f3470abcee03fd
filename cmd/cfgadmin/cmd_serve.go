// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/cfgadmin/services/configurator"
	"github.com/AleutianAI/cfgadmin/services/configurator/api"
)

const shutdownTimeout = 10 * time.Second

// runServe serves the transaction API until SIGINT or SIGTERM, then drains
// in-flight requests and flushes telemetry.
func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger.Slog()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := initMetrics()
	if err != nil {
		return err
	}
	defer shutdownMetrics(context.WithoutCancel(ctx))
	configurator.SetMetricsEnabled(true)

	if a.config.Tracing.Enabled {
		shutdownTracing, err := initTracing(ctx, a.config.Tracing, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer shutdownTracing(context.WithoutCancel(ctx))
		a.tracing = true
	}

	gin.SetMode(gin.ReleaseMode)
	server := api.New(api.Config{
		ServiceName:   serviceName,
		Collaborators: a.collaborators(),
		Reports:       a.reports,
		Options:       a.options,
		RateLimit:     a.config.Server.RateLimit,
		RateBurst:     a.config.Server.RateBurst,
		Logger:        logger,
	})
	httpServer := &http.Server{
		Addr:              a.config.Server.Address,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serving transaction API", slog.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down transaction API")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gCtx), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
