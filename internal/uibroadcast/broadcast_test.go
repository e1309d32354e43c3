// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package uibroadcast

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_FanOutReachesAllSinks(t *testing.T) {
	b, err := New(20 * time.Millisecond)
	require.NoError(t, err)
	defer b.Close()

	var got1, got2 atomic.Int32
	unreg1 := b.RegisterSocket(func(name string, at int64, data json.RawMessage) { got1.Add(1) })
	defer unreg1()
	unreg2 := b.RegisterSocket(func(name string, at int64, data json.RawMessage) { got2.Add(1) })
	defer unreg2()

	b.BroadcastUIEvent(EventSessionsChanged, nil)

	assert.Equal(t, int32(1), got1.Load())
	assert.Equal(t, int32(1), got2.Load())
}

func TestBroadcaster_UnregisterStopsDelivery(t *testing.T) {
	b, err := New(20 * time.Millisecond)
	require.NoError(t, err)
	defer b.Close()

	var got atomic.Int32
	unreg := b.RegisterSocket(func(name string, at int64, data json.RawMessage) { got.Add(1) })
	unreg()

	b.BroadcastUIEvent(EventSessionsChanged, nil)
	assert.Equal(t, int32(0), got.Load())
}

func TestBroadcaster_BroadcastCarriesPayload(t *testing.T) {
	b, err := New(20 * time.Millisecond)
	require.NoError(t, err)
	defer b.Close()

	var gotName string
	var gotData json.RawMessage
	unreg := b.RegisterSocket(func(name string, at int64, data json.RawMessage) {
		gotName = name
		gotData = data
	})
	defer unreg()

	b.BroadcastUIEvent(EventGitContextChanged, map[string]string{"branch": "main"})

	assert.Equal(t, EventGitContextChanged, gotName)
	assert.JSONEq(t, `{"branch":"main"}`, string(gotData))
}

func TestBroadcaster_WatchGitContext_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	b, err := New(50 * time.Millisecond)
	require.NoError(t, err)
	defer b.Close()

	var fired atomic.Bool
	unreg := b.RegisterSocket(func(name string, at int64, data json.RawMessage) {
		if name == EventGitContextChanged {
			fired.Store(true)
		}
	})
	defer unreg()

	dir := t.TempDir()
	path := filepath.Join(dir, "git-context.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0644))

	require.NoError(t, b.WatchGitContext(path))

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"branch":"main"}`), 0644))

	require.Eventually(t, fired.Load, time.Second, 10*time.Millisecond)
}
