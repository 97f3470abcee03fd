// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package configstore

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/cfgadmin/services/configurator/handlers"
	badgerstore "github.com/AleutianAI/cfgadmin/services/storage/badger"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	pid, err := s.Create(ctx, "org.example.Source", map[string]string{"url": "http://a"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(pid, "org.example.Source."))

	props, err := s.Get(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"url": "http://a"}, props)

	factory, err := s.FactoryPid(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, "org.example.Source", factory)
}

func TestStore_CreateDistinctPids(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	a, err := s.Create(ctx, "f", nil)
	require.NoError(t, err)
	b, err := s.Create(ctx, "f", nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	props, err := s.Get(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, props)
}

func TestStore_EmptyPid(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.Create(ctx, "", nil)
	assert.ErrorIs(t, err, ErrEmptyPid)
	assert.ErrorIs(t, s.Update(ctx, "", nil), ErrEmptyPid)
}

func TestStore_UpdateUpsertsSingleton(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Update(ctx, "ddf.platform", map[string]string{"port": "8993"}))
	require.NoError(t, s.Update(ctx, "ddf.platform", map[string]string{"port": "9993"}))

	props, err := s.Get(ctx, "ddf.platform")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"port": "9993"}, props)

	factory, err := s.FactoryPid(ctx, "ddf.platform")
	require.NoError(t, err)
	assert.Empty(t, factory)
}

func TestStore_UpdateKeepsFactory(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	pid, err := s.Create(ctx, "f", map[string]string{"a": "1"})
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, pid, map[string]string{"a": "2"}))

	rec, err := s.Record(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, "f", rec.FactoryPid)
	assert.Equal(t, "2", rec.Properties["a"])
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, handlers.ErrNotFound)

	_, err = s.FactoryPid(ctx, "missing")
	assert.ErrorIs(t, err, handlers.ErrNotFound)

	assert.ErrorIs(t, s.Delete(ctx, "missing"), handlers.ErrNotFound)
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Update(ctx, "p", map[string]string{"k": "v"}))
	require.NoError(t, s.Delete(ctx, "p"))

	_, err := s.Get(ctx, "p")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	in := map[string]string{"k": "v"}
	require.NoError(t, s.Update(ctx, "p", in))
	in["k"] = "mutated"

	props, err := s.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, "v", props["k"])
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Update(ctx, "ddf.platform", nil))
	require.NoError(t, s.Update(ctx, "org.example.Source.singleton", nil))
	_, err := s.Create(ctx, "org.example.Source", nil)
	require.NoError(t, err)
	_, err = s.Create(ctx, "org.example.Source", nil)
	require.NoError(t, err)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Pid, all[i].Pid)
	}

	sources, err := s.List(ctx, "org.example.Source")
	require.NoError(t, err)
	assert.Len(t, sources, 2)
	for _, rec := range sources {
		assert.Equal(t, "org.example.Source", rec.FactoryPid)
	}
}

// TestStore_ManagedServiceRoundTrip drives the store through the managed
// service handlers, including recreation of a deleted factory config.
func TestStore_ManagedServiceRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	pid, err := s.Create(ctx, "org.example.Source", map[string]string{"id": "one"})
	require.NoError(t, err)

	del := handlers.NewDeleteManagedService(s, pid)
	_, err = del.Commit(ctx)
	require.NoError(t, err)
	require.NoError(t, del.Rollback(ctx))

	recs, err := s.List(ctx, "org.example.Source")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.NotEqual(t, pid, recs[0].Pid)
	assert.Equal(t, map[string]string{"id": "one"}, recs[0].Properties)
}
