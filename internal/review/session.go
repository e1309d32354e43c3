// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package review

import (
	"bytes"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	defaultMaxFileSize = 500 * 1024
	binarySniffBytes   = 8 * 1024
)

// FileSnapshot is one file attached to a review, read at creation time.
type FileSnapshot struct {
	Path     string `json:"path"`
	Content  string `json:"content,omitempty"`
	Language string `json:"language,omitempty"`
	Skipped  bool   `json:"skipped,omitempty"`
	Warning  string `json:"warning,omitempty"`
}

// Result is the terminal outcome of a review.
type Result struct {
	Cancelled bool      `json:"cancelled"`
	Comments  []Comment `json:"comments,omitempty"`
}

// Session is an in-memory, multi-socket review with a single-shot terminal
// transition. The zero value is not usable; construct with newSession.
type Session struct {
	ID        string
	Token     string
	Files     []FileSnapshot
	Message   string
	CreatedAt time.Time

	mu          sync.Mutex
	done        bool
	result      *Result
	completedAt time.Time

	socketsMu   sync.Mutex
	toolSockets map[int]func(frame interface{})
	uiSockets   map[int]func(frame interface{})
	nextSockID  int
}

func newSession(id string, files []FileSnapshot, message string) *Session {
	return &Session{
		ID:          id,
		Token:       newToken(),
		Files:       files,
		Message:     message,
		CreatedAt:   time.Now(),
		toolSockets: make(map[int]func(frame interface{})),
		uiSockets:   make(map[int]func(frame interface{})),
	}
}

func newToken() string {
	b := make([]byte, 24)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// AuthenticateToken compares token against the session token in constant
// time, so a timing side-channel cannot be used to guess it byte by byte.
func (s *Session) AuthenticateToken(token string) bool {
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.Token)) == 1
}

// IsDone reports whether the terminal transition has already happened.
func (s *Session) IsDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// resultSnapshot returns the terminal result, or nil if not yet done.
func (s *Session) resultSnapshot() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// RegisterToolSocket attaches a tool-role delivery sink and returns an
// unregister func. If the session is already complete, the caller should
// deliver the terminal review_result itself using resultSnapshot/IsDone.
func (s *Session) RegisterToolSocket(send func(frame interface{})) func() {
	return s.register(&s.toolSockets, send)
}

// RegisterUISocket attaches a UI-role delivery sink.
func (s *Session) RegisterUISocket(send func(frame interface{})) func() {
	return s.register(&s.uiSockets, send)
}

func (s *Session) register(set *map[int]func(frame interface{}), send func(frame interface{})) func() {
	s.socketsMu.Lock()
	id := s.nextSockID
	s.nextSockID++
	(*set)[id] = send
	s.socketsMu.Unlock()

	return func() {
		s.socketsMu.Lock()
		delete(*set, id)
		s.socketsMu.Unlock()
	}
}

// Complete performs the single-shot terminal transition. The second and
// later calls are no-ops and return false.
func (s *Session) Complete(result Result) bool {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return false
	}
	s.done = true
	s.result = &result
	s.completedAt = time.Now()
	s.mu.Unlock()

	frame := map[string]interface{}{
		"type":      "review_result",
		"cancelled": result.Cancelled,
		"comments":  result.Comments,
	}

	s.socketsMu.Lock()
	toolSinks := make([]func(frame interface{}), 0, len(s.toolSockets))
	for _, send := range s.toolSockets {
		toolSinks = append(toolSinks, send)
	}
	uiSinks := make([]func(frame interface{}), 0, len(s.uiSockets))
	for _, send := range s.uiSockets {
		uiSinks = append(uiSinks, send)
	}
	s.socketsMu.Unlock()

	for _, send := range toolSinks {
		send(frame)
	}
	for _, send := range uiSinks {
		send(frame)
	}
	return true
}

// CloseUISockets closes every registered UI socket by invoking sink with a
// nil frame, a convention the transport layer interprets as "close now".
func (s *Session) CloseUISockets() {
	s.socketsMu.Lock()
	sinks := make([]func(frame interface{}), 0, len(s.uiSockets))
	for _, send := range s.uiSockets {
		sinks = append(sinks, send)
	}
	s.uiSockets = make(map[int]func(frame interface{}))
	s.socketsMu.Unlock()

	for _, send := range sinks {
		send(nil)
	}
}

// completedOlderThan reports whether the session completed more than d ago.
func (s *Session) completedOlderThan(d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done && time.Since(s.completedAt) > d
}

func (s *Session) openOlderThan(d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.done && time.Since(s.CreatedAt) > d
}

// snapshotFile reads path, applying the size and binary-heuristic guards.
// maxSize <= 0 falls back to the 500 KiB default.
func snapshotFile(path string, maxSize int, read func(string) ([]byte, error)) FileSnapshot {
	snap := FileSnapshot{Path: path, Language: languageForPath(path)}
	if maxSize <= 0 {
		maxSize = defaultMaxFileSize
	}

	data, err := read(path)
	if err != nil {
		snap.Skipped = true
		snap.Warning = "could not read file: " + err.Error()
		return snap
	}
	if len(data) > maxSize {
		snap.Skipped = true
		snap.Warning = fmt.Sprintf("file exceeds %d byte limit", maxSize)
		return snap
	}
	sniff := data
	if len(sniff) > binarySniffBytes {
		sniff = sniff[:binarySniffBytes]
	}
	if bytes.IndexByte(sniff, 0) >= 0 {
		snap.Skipped = true
		snap.Warning = "binary file"
		return snap
	}
	snap.Content = string(data)
	return snap
}

var languageByExt = map[string]string{
	".go":   "go",
	".ts":   "typescript",
	".tsx":  "typescript",
	".js":   "javascript",
	".jsx":  "javascript",
	".py":   "python",
	".rb":   "ruby",
	".rs":   "rust",
	".java": "java",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".md":   "markdown",
	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
	".sh":   "shell",
}

func languageForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := languageByExt[ext]; ok {
		return lang
	}
	return ""
}
