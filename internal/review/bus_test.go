// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package review

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmitter struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeEmitter) BroadcastUIEvent(name string, data interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, name)
}

func (f *fakeEmitter) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == name {
			n++
		}
	}
	return n
}

func newTestBus(t *testing.T, cfg BusConfig) (*Bus, *fakeEmitter) {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "reviews.jsonl"))
	require.NoError(t, err)
	emitter := &fakeEmitter{}
	bus := NewBus(store, emitter, cfg)
	t.Cleanup(bus.Close)
	return bus, emitter
}

func TestBus_CreateFromFilesRegistersSession(t *testing.T) {
	bus, emitter := newTestBus(t, BusConfig{})

	sess, err := bus.CreateFromFiles([]FileSnapshot{{Path: "a.go", Content: "package a"}}, "please review")
	require.NoError(t, err)
	require.NotEmpty(t, sess.Token)

	got, ok := bus.Get(sess.ID)
	require.True(t, ok)
	assert.Equal(t, sess.ID, got.ID)
	assert.Eventually(t, func() bool { return emitter.count("review_sessions_changed") >= 1 }, time.Second, 5*time.Millisecond)
}

func TestBus_CreateFromPathsAppliesGuards(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.go")
	require.NoError(t, os.WriteFile(path, make([]byte, defaultMaxFileSize+1), 0644))

	bus, _ := newTestBus(t, BusConfig{})
	sess, err := bus.CreateFromPaths([]string{path}, "")
	require.NoError(t, err)
	require.Len(t, sess.Files, 1)
	assert.True(t, sess.Files[0].Skipped)
}

func TestBus_SubmitPersistsAndNotifies(t *testing.T) {
	bus, emitter := newTestBus(t, BusConfig{})
	sess, err := bus.CreateFromFiles(nil, "")
	require.NoError(t, err)

	comments := []Comment{{File: "a.go", StartLine: 1, EndLine: 2, Comment: "looks good"}}
	require.NoError(t, bus.Submit(sess.ID, comments))

	assert.True(t, sess.IsDone())
	assert.Eventually(t, func() bool { return emitter.count("review_submissions_changed") >= 1 }, time.Second, 5*time.Millisecond)
}

func TestBus_SubmitRejectsInvertedLineRange(t *testing.T) {
	bus, _ := newTestBus(t, BusConfig{})
	sess, err := bus.CreateFromFiles(nil, "")
	require.NoError(t, err)

	comments := []Comment{{File: "a.go", StartLine: 5, EndLine: 2, Comment: "bad range"}}
	err = bus.Submit(sess.ID, comments)
	require.Error(t, err)
	storeErr, ok := err.(*StoreError)
	require.True(t, ok)
	assert.Equal(t, ErrInvalidInput, storeErr.Kind)

	// Rejected at ingress: the session must remain open, not terminal.
	assert.False(t, sess.IsDone())
}

func TestBus_SecondSubmitIsNoOp(t *testing.T) {
	bus, _ := newTestBus(t, BusConfig{})
	sess, err := bus.CreateFromFiles(nil, "")
	require.NoError(t, err)

	require.NoError(t, bus.Submit(sess.ID, nil))
	require.NoError(t, bus.Cancel(sess.ID)) // no-op, must not error
}

func TestBus_SweepAutoCancelsRegardlessOfUISocket(t *testing.T) {
	bus, emitter := newTestBus(t, BusConfig{OpenTTL: 10 * time.Millisecond, SweepInterval: 5 * time.Millisecond})
	sess, err := bus.CreateFromFiles(nil, "")
	require.NoError(t, err)

	// A UI socket stays attached throughout; auto-cancel must still fire.
	sess.RegisterUISocket(func(frame interface{}) {})

	require.Eventually(t, func() bool { return sess.IsDone() }, time.Second, 5*time.Millisecond)
	result := sess.resultSnapshot()
	require.NotNil(t, result)
	assert.True(t, result.Cancelled)
	assert.GreaterOrEqual(t, emitter.count("review_submissions_changed"), 1)
}

func TestBus_SweepEvictsCompletedSessionsAfterPostTTL(t *testing.T) {
	bus, _ := newTestBus(t, BusConfig{PostCompletionTTL: 10 * time.Millisecond, SweepInterval: 5 * time.Millisecond})
	sess, err := bus.CreateFromFiles(nil, "")
	require.NoError(t, err)
	require.NoError(t, bus.Submit(sess.ID, nil))

	require.Eventually(t, func() bool {
		_, ok := bus.Get(sess.ID)
		return !ok
	}, time.Second, 5*time.Millisecond)
}
