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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/cfgadmin/services/configstore"
	"github.com/AleutianAI/cfgadmin/services/configurator"
	"github.com/AleutianAI/cfgadmin/services/configurator/handlers"
	"github.com/AleutianAI/cfgadmin/services/reportstore"
	"github.com/AleutianAI/cfgadmin/services/runtime"
	badgerstore "github.com/AleutianAI/cfgadmin/services/storage/badger"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	configurator.SetMetricsEnabled(false)
	m.Run()
}

// stickyBundles refuses to stop the bundles it names.
type stickyBundles struct {
	handlers.BundleLifecycle
	sticky map[string]bool
}

func (s *stickyBundles) StopBundle(ctx context.Context, name string) error {
	if s.sticky[name] {
		return errors.New("bundle " + name + " is wired in")
	}
	return s.BundleLifecycle.StopBundle(ctx, name)
}

type fixture struct {
	server   *Server
	configs  *configstore.Store
	registry *runtime.Registry
	reports  *reportstore.Store
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		configs:  configstore.New(db),
		registry: runtime.New(db, logger),
		reports:  reportstore.New(db),
	}
	cfg := Config{
		Collaborators: handlers.Collaborators{
			Configs:  f.configs,
			Bundles:  &stickyBundles{BundleLifecycle: f.registry, sticky: map[string]bool{"sticky": true}},
			Features: f.registry,
		},
		Reports: f.reports,
		Logger:  logger,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.server = New(cfg)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.server.Router().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestApplyPlan_Committed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.registry.DefineBundle(ctx, "catalog"))

	body := `{"name":"start catalog","operations":[
		{"op":"bundle.start","target":"catalog"},
		{"op":"managed.update","target":"ddf.platform","properties":{"port":"8993"}}
	]}`
	w := f.do(t, http.MethodPost, "/v1/transactions", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[TransactionResponse](t, w)
	assert.Len(t, resp.IDs, 2)
	assert.Equal(t, configurator.StatusCommitted, resp.Report.Status)
	assert.Equal(t, "start catalog", resp.Report.AuditMessage)

	state, _ := f.registry.BundleState(ctx, "catalog")
	assert.Equal(t, handlers.BundleActive, state)

	w = f.do(t, http.MethodGet, "/v1/transactions/"+resp.Report.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	rec := decode[configurator.ReportRecord](t, w)
	assert.Equal(t, resp.Report.ID, rec.ID)

	w = f.do(t, http.MethodGet, "/v1/transactions?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]configurator.ReportRecord](t, w), 1)
}

func TestApplyPlan_RolledBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.registry.DefineBundle(ctx, "catalog"))

	body := `{"name":"doomed","operations":[
		{"op":"bundle.start","target":"catalog"},
		{"op":"bundle.start","target":"missing"}
	]}`
	w := f.do(t, http.MethodPost, "/v1/transactions", body)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	resp := decode[TransactionResponse](t, w)
	assert.Equal(t, configurator.StatusRolledBack, resp.Report.Status)
	state, _ := f.registry.BundleState(ctx, "catalog")
	assert.Equal(t, handlers.BundleResolved, state)
}

func TestApplyPlan_InterventionRequired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.registry.DefineBundle(ctx, "sticky"))

	body := `{"name":"stuck","operations":[
		{"op":"bundle.start","target":"sticky"},
		{"op":"bundle.start","target":"missing"}
	]}`
	w := f.do(t, http.MethodPost, "/v1/transactions", body)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())

	resp := decode[TransactionResponse](t, w)
	assert.Equal(t, configurator.StatusInterventionRequired, resp.Report.Status)
	require.NotEmpty(t, resp.Report.Entries)
	assert.Equal(t, configurator.ResultRollbackFail, resp.Report.Entries[0].Result.Kind)
}

func TestApplyPlan_BadRequests(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"name":`},
		{"empty plan", `{"name":"x","operations":[]}`},
		{"unknown op", `{"name":"x","operations":[{"op":"bundle.restart","target":"b"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/v1/transactions", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}

	w := f.do(t, http.MethodGet, "/v1/transactions", "")
	assert.Empty(t, decode[[]configurator.ReportRecord](t, w), "nothing was committed")
}

func TestApplyPlan_MissingCollaborator(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Collaborators.Features = nil })
	body := `{"name":"x","operations":[{"op":"feature.start","target":"f"}]}`
	w := f.do(t, http.MethodPost, "/v1/transactions", body)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "feature lifecycle")
}

func TestApplyPlan_RateLimited(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.RateLimit = 0.001
		c.RateBurst = 1
	})
	require.NoError(t, f.configs.Update(context.Background(), "p", nil))
	body := `{"name":"x","operations":[{"op":"managed.update","target":"p","properties":{"a":"b"}}]}`

	w := f.do(t, http.MethodPost, "/v1/transactions", body)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/v1/transactions", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestStateEndpoints(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.registry.DefineFeature(ctx, "pki", []string{"pki-core"}))
	require.NoError(t, f.configs.Update(ctx, "ddf.platform", map[string]string{"port": "8993"}))

	tests := []struct {
		path string
		code int
	}{
		{"/v1/bundles/pki-core", http.StatusOK},
		{"/v1/bundles/nope", http.StatusNotFound},
		{"/v1/features/pki", http.StatusOK},
		{"/v1/features/nope", http.StatusNotFound},
		{"/v1/configs/ddf.platform", http.StatusOK},
		{"/v1/configs/nope", http.StatusNotFound},
		{"/v1/transactions/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := f.do(t, http.MethodGet, tt.path, "")
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}

	w := f.do(t, http.MethodGet, "/v1/configs/ddf.platform", "")
	state := decode[configurator.State](t, w)
	assert.Equal(t, configurator.KindManagedService, state.Kind)
	assert.Equal(t, "8993", state.Properties["port"])
}

func TestStateEndpoints_NoCollaborators(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Collaborators = handlers.Collaborators{}
		c.Reports = nil
	})
	assert.Equal(t, http.StatusNotImplemented, f.do(t, http.MethodGet, "/v1/bundles/x", "").Code)
	assert.Equal(t, http.StatusNotImplemented, f.do(t, http.MethodGet, "/v1/features/x", "").Code)
	assert.Equal(t, http.StatusNotImplemented, f.do(t, http.MethodGet, "/v1/configs/x", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/transactions/x", "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/transactions", "").Code)
}

func TestListReports_BadLimit(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, http.MethodGet, "/v1/transactions?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodGet, "/health", "")

	w := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "cfgadmin_api_requests_total")
}

func TestCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"report", fmt.Errorf("%w: abc", reportstore.ErrNotFound), http.StatusNotFound},
		{"configuration", configstore.ErrNotFound, http.StatusNotFound},
		{"runtime", runtime.ErrNotFound, http.StatusNotFound},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, codeFor(tt.err))
		})
	}
}
