// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package rpcagent

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Manager owns every live child process, one per session file, keyed by
// sessionId and reverse-indexed by sessionFile. At most one Session exists
// per sessionFile at any time.
type Manager struct {
	spawn SpawnConfig

	mu       sync.RWMutex
	byID     map[string]*Session
	byFile   map[string]*Session
	ctx      context.Context
	shutdown context.CancelFunc
}

// NewManager constructs a Manager that spawns child processes per spawn.
func NewManager(spawn SpawnConfig) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		spawn:    spawn,
		byID:     make(map[string]*Session),
		byFile:   make(map[string]*Session),
		ctx:      ctx,
		shutdown: cancel,
	}
}

// StartSession spawns a child for sessionFile and returns the new Session.
// If a session already exists for that file, it is returned unchanged.
func (m *Manager) StartSession(sessionFile string) (*Session, error) {
	m.mu.Lock()
	if existing, ok := m.byFile[sessionFile]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	s := newSession(uuid.New().String(), sessionFile)
	s.onTerminal = m.onSessionTerminal
	m.byID[s.id] = s
	m.byFile[sessionFile] = s
	m.mu.Unlock()

	if err := s.ensureProcess(m.ctx, m.spawn); err != nil {
		m.mu.Lock()
		delete(m.byID, s.id)
		delete(m.byFile, sessionFile)
		m.mu.Unlock()
		return nil, err
	}
	return s, nil
}

// FindSessionByFile returns the live session for sessionFile, if any.
func (m *Manager) FindSessionByFile(sessionFile string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byFile[sessionFile]
	return s, ok
}

// FindSession returns the live session for sessionId, if any.
func (m *Manager) FindSession(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[sessionID]
	return s, ok
}

// SendCommand serializes cmd to NDJSON and writes it to the child's stdin.
func (m *Manager) SendCommand(sessionID string, cmd Command) error {
	s, ok := m.FindSession(sessionID)
	if !ok {
		return &ErrUnknownSession{SessionID: sessionID}
	}
	return s.send(cmd)
}

// OnEvent subscribes a delivery channel to sessionID's event stream.
func (m *Manager) OnEvent(sessionID string) (chan Event, func(), error) {
	s, ok := m.FindSession(sessionID)
	if !ok {
		return nil, nil, &ErrUnknownSession{SessionID: sessionID}
	}
	ch, unsub := s.Subscribe()
	return ch, unsub, nil
}

// HasSubscribers reports whether sessionID currently has any subscriber.
func (m *Manager) HasSubscribers(sessionID string) bool {
	s, ok := m.FindSession(sessionID)
	if !ok {
		return false
	}
	return s.HasSubscribers()
}

// StopSession signals the child, waits briefly, escalates to kill, emits a
// terminal rpc_session_stopped event, then removes the session.
func (m *Manager) StopSession(sessionID string) {
	s, ok := m.FindSession(sessionID)
	if !ok {
		return
	}
	s.stop()
	s.fanOut(stoppedEvent())
	m.remove(s)
}

func (m *Manager) onSessionTerminal(s *Session, _ Event) {
	m.remove(s)
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	if m.byID[s.id] == s {
		delete(m.byID, s.id)
	}
	if m.byFile[s.sessionFile] == s {
		delete(m.byFile, s.sessionFile)
	}
	m.mu.Unlock()
	s.closeAllSubscribers()
}

// Dispose stops every live session.
func (m *Manager) Dispose() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.byID))
	for _, s := range m.byID {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		m.StopSession(s.id)
	}
	m.shutdown()
}
