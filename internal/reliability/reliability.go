// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package reliability assigns per-session sequence numbers, buffers recent
// events for reconnect replay, dedupes client-issued commands, and drives
// the orphan grace/abort timer chain when a session loses its last
// subscriber.
package reliability

import (
	"encoding/json"
	"sync"
	"time"
)

// Config tunes the reliability layer; zero values fall back to defaults.
type Config struct {
	RingSize           int
	CommandRetentionMs int64
	GraceMs            int64
	AbortDelayMs       int64
}

const (
	defaultRingSize  = 800
	defaultRetention = 5 * 60 * 1000
	defaultGraceMs   = 60 * 1000
	defaultAbortMs   = 5 * 1000
)

func (c Config) withDefaults() Config {
	if c.RingSize <= 0 {
		c.RingSize = defaultRingSize
	}
	if c.CommandRetentionMs <= 0 {
		c.CommandRetentionMs = defaultRetention
	}
	if c.GraceMs <= 0 {
		c.GraceMs = defaultGraceMs
	}
	if c.AbortDelayMs <= 0 {
		c.AbortDelayMs = defaultAbortMs
	}
	return c
}

// BufferedEvent is one ring-buffered entry, keeping the event's raw bytes
// alongside the sequence number assigned at record time.
type BufferedEvent struct {
	Seq     uint64
	Payload json.RawMessage
}

// CommandEntry tracks a command id seen on a session, plus a cached
// response for re-delivery to a replaying subscriber.
type CommandEntry struct {
	FirstSeenAt       time.Time
	CachedResponse    json.RawMessage
	CachedResponseSeq uint64
	hasResponse       bool
}

// RegisterResult is the outcome of registerCommand.
type RegisterResult struct {
	Duplicate         bool
	CachedResponse    json.RawMessage
	CachedResponseSeq uint64
}

// ReplayResult is the outcome of getReplay.
type ReplayResult struct {
	Events    []BufferedEvent
	Gap       bool
	OldestSeq uint64
	LatestSeq uint64
}

type sessionState struct {
	mu       sync.Mutex
	seq      uint64
	ring     []BufferedEvent // append-only, trimmed to capacity
	capacity int
	commands map[string]*CommandEntry

	graceTimer *time.Timer
	abortTimer *time.Timer
}

func newSessionState(capacity int) *sessionState {
	return &sessionState{
		capacity: capacity,
		commands: make(map[string]*CommandEntry),
	}
}

// Layer is the per-gateway reliability state, one sessionState per session.
type Layer struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// New constructs a reliability Layer.
func New(cfg Config) *Layer {
	return &Layer{
		cfg:      cfg.withDefaults(),
		sessions: make(map[string]*sessionState),
	}
}

func (l *Layer) state(sessionID string) *sessionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sessions[sessionID]
	if !ok {
		s = newSessionState(l.cfg.RingSize)
		l.sessions[sessionID] = s
	}
	return s
}

// RecordEvent assigns the next seq to event, pushes it into the ring, and
// caches it against a matching command id if it is a response event.
func (l *Layer) RecordEvent(sessionID string, eventType string, commandID string, payload json.RawMessage) uint64 {
	s := l.state(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	seq := s.seq
	s.ring = append(s.ring, BufferedEvent{Seq: seq, Payload: payload})
	if len(s.ring) > s.capacity {
		s.ring = s.ring[len(s.ring)-s.capacity:]
	}

	if eventType == "response" && commandID != "" {
		if entry, ok := s.commands[commandID]; ok {
			entry.CachedResponse = payload
			entry.CachedResponseSeq = seq
			entry.hasResponse = true
		}
	}

	return seq
}

// RegisterCommand records commandID's first-seen time, or reports it as a
// duplicate with any cached response for re-delivery.
func (l *Layer) RegisterCommand(sessionID, commandID string) RegisterResult {
	s := l.state(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	l.sweepCommandsLocked(s)

	if entry, ok := s.commands[commandID]; ok {
		res := RegisterResult{Duplicate: true}
		if entry.hasResponse {
			res.CachedResponse = entry.CachedResponse
			res.CachedResponseSeq = entry.CachedResponseSeq
		}
		return res
	}

	s.commands[commandID] = &CommandEntry{FirstSeenAt: time.Now()}
	return RegisterResult{Duplicate: false}
}

// sweepCommandsLocked evicts command entries older than the retention TTL.
// Callers must hold s.mu.
func (l *Layer) sweepCommandsLocked(s *sessionState) {
	cutoff := time.Now().Add(-time.Duration(l.cfg.CommandRetentionMs) * time.Millisecond)
	for id, entry := range s.commands {
		if entry.FirstSeenAt.Before(cutoff) {
			delete(s.commands, id)
		}
	}
}

// GetReplay returns every buffered event with seq > clientLastSeq, flagging
// a gap when history older than the ring's retention was requested.
func (l *Layer) GetReplay(sessionID string, clientLastSeq uint64) ReplayResult {
	s := l.state(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest, latest uint64
	if len(s.ring) > 0 {
		oldest = s.ring[0].Seq
		latest = s.ring[len(s.ring)-1].Seq
	} else {
		oldest = s.seq + 1
		latest = s.seq
	}

	gap := clientLastSeq+1 < oldest

	var events []BufferedEvent
	for _, e := range s.ring {
		if e.Seq > clientLastSeq {
			events = append(events, e)
		}
	}

	return ReplayResult{Events: events, Gap: gap, OldestSeq: oldest, LatestSeq: latest}
}

// ScheduleOrphan starts a grace timer; if it fires with no subscribers
// attached (per hasSubscribers), onGraceExpired runs (typically injecting
// an abort command), followed by onAbortExpired after an additional delay.
func (l *Layer) ScheduleOrphan(sessionID string, hasSubscribers func() bool, onGraceExpired func(), onAbortExpired func()) {
	s := l.state(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	l.cancelOrphanLocked(s)

	graceMs := l.cfg.GraceMs
	abortMs := l.cfg.AbortDelayMs
	s.graceTimer = time.AfterFunc(time.Duration(graceMs)*time.Millisecond, func() {
		if hasSubscribers != nil && hasSubscribers() {
			return
		}
		if onGraceExpired != nil {
			onGraceExpired()
		}
		s.mu.Lock()
		s.abortTimer = time.AfterFunc(time.Duration(abortMs)*time.Millisecond, func() {
			if onAbortExpired != nil {
				onAbortExpired()
			}
		})
		s.mu.Unlock()
	})
}

// CancelOrphan clears both timers for sessionID, if scheduled.
func (l *Layer) CancelOrphan(sessionID string) {
	s := l.state(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	l.cancelOrphanLocked(s)
}

func (l *Layer) cancelOrphanLocked(s *sessionState) {
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	if s.abortTimer != nil {
		s.abortTimer.Stop()
		s.abortTimer = nil
	}
}

// ClearSession removes all reliability state for sessionID.
func (l *Layer) ClearSession(sessionID string) {
	l.mu.Lock()
	s, ok := l.sessions[sessionID]
	if ok {
		delete(l.sessions, sessionID)
	}
	l.mu.Unlock()
	if ok {
		s.mu.Lock()
		l.cancelOrphanLocked(s)
		s.mu.Unlock()
	}
}
