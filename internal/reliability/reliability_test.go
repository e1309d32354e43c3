// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package reliability

import (
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEvent_AssignsIncreasingSeq(t *testing.T) {
	l := New(Config{})
	seq1 := l.RecordEvent("s1", "agent_start", "", json.RawMessage(`{"type":"agent_start"}`))
	seq2 := l.RecordEvent("s1", "agent_end", "", json.RawMessage(`{"type":"agent_end"}`))
	assert.Equal(t, uint64(1), seq1)
	assert.Equal(t, uint64(2), seq2)
}

func TestRecordEvent_RingTrimsToCapacity(t *testing.T) {
	l := New(Config{RingSize: 3})
	for i := 0; i < 5; i++ {
		l.RecordEvent("s1", "message_update", "", json.RawMessage(`{}`))
	}
	replay := l.GetReplay("s1", 0)
	require.Len(t, replay.Events, 3)
	assert.Equal(t, uint64(3), replay.Events[0].Seq)
	assert.Equal(t, uint64(5), replay.Events[2].Seq)
}

func TestRegisterCommand_DedupesAndCachesResponse(t *testing.T) {
	l := New(Config{})

	res := l.RegisterCommand("s1", "cmd-1")
	assert.False(t, res.Duplicate)

	l.RecordEvent("s1", "response", "cmd-1", json.RawMessage(`{"type":"response","id":"cmd-1"}`))

	res = l.RegisterCommand("s1", "cmd-1")
	assert.True(t, res.Duplicate)
	assert.Equal(t, uint64(1), res.CachedResponseSeq)
	assert.JSONEq(t, `{"type":"response","id":"cmd-1"}`, string(res.CachedResponse))
}

func TestRegisterCommand_TTLSweep(t *testing.T) {
	l := New(Config{CommandRetentionMs: 1})
	l.RegisterCommand("s1", "cmd-1")
	time.Sleep(5 * time.Millisecond)

	res := l.RegisterCommand("s1", "cmd-2")
	assert.False(t, res.Duplicate)

	res = l.RegisterCommand("s1", "cmd-1")
	assert.False(t, res.Duplicate, "expired command id should not be treated as duplicate")
}

func TestGetReplay_FlagsGapWhenHistoryEvicted(t *testing.T) {
	l := New(Config{RingSize: 2})
	for i := 0; i < 4; i++ {
		l.RecordEvent("s1", "message_update", "", json.RawMessage(`{}`))
	}
	// Oldest retained seq is 3; a client at seq 0 has missed 1 and 2.
	replay := l.GetReplay("s1", 0)
	assert.True(t, replay.Gap)
	assert.Equal(t, uint64(3), replay.OldestSeq)
	assert.Equal(t, uint64(4), replay.LatestSeq)
	require.Len(t, replay.Events, 2)
}

func TestGetReplay_NoGapWhenCaughtUp(t *testing.T) {
	l := New(Config{RingSize: 10})
	l.RecordEvent("s1", "agent_start", "", json.RawMessage(`{}`))
	l.RecordEvent("s1", "agent_end", "", json.RawMessage(`{}`))

	replay := l.GetReplay("s1", 2)
	assert.False(t, replay.Gap)
	assert.Empty(t, replay.Events)
}

func TestScheduleOrphan_GraceThenAbort(t *testing.T) {
	l := New(Config{GraceMs: 5, AbortDelayMs: 5})

	var hasSubs atomic.Bool
	var graceFired, abortFired atomic.Bool

	l.ScheduleOrphan("s1",
		hasSubs.Load,
		func() { graceFired.Store(true) },
		func() { abortFired.Store(true) },
	)

	require.Eventually(t, graceFired.Load, time.Second, time.Millisecond)
	require.Eventually(t, abortFired.Load, time.Second, time.Millisecond)
}

func TestScheduleOrphan_SkippedWhenSubscriberReturns(t *testing.T) {
	l := New(Config{GraceMs: 5, AbortDelayMs: 5})

	var hasSubs atomic.Bool
	hasSubs.Store(true)
	var graceFired atomic.Bool

	l.ScheduleOrphan("s1", hasSubs.Load, func() { graceFired.Store(true) }, func() {})

	time.Sleep(30 * time.Millisecond)
	assert.False(t, graceFired.Load())
}

func TestCancelOrphan_StopsPendingTimers(t *testing.T) {
	l := New(Config{GraceMs: 5, AbortDelayMs: 5})
	var graceFired atomic.Bool
	l.ScheduleOrphan("s1", func() bool { return false }, func() { graceFired.Store(true) }, func() {})
	l.CancelOrphan("s1")

	time.Sleep(30 * time.Millisecond)
	assert.False(t, graceFired.Load())
}

func TestClearSession_RemovesState(t *testing.T) {
	l := New(Config{})
	l.RecordEvent("s1", "agent_start", "", json.RawMessage(`{}`))
	l.ClearSession("s1")

	replay := l.GetReplay("s1", 0)
	assert.Empty(t, replay.Events)
	assert.Equal(t, uint64(0), replay.LatestSeq)
}
