// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sessionfile reads append-only, tree-structured JSONL session logs
// and materializes the linear transcript visible from a chosen leaf.
package sessionfile

import (
	"encoding/json"
	"time"
)

// Header is the first record of a session file.
type Header struct {
	Type          string    `json:"type"`
	ID            string    `json:"id"`
	Version       string    `json:"version,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Cwd           string    `json:"cwd,omitempty"`
	ParentSession string    `json:"parentSession,omitempty"`
}

// Entry is one non-header line in a session file.
type Entry struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	ParentID  string          `json:"parentId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Raw       json.RawMessage `json:"-"`
}

// Entry type constants.
const (
	EntryMessage       = "message"
	EntryCustomMessage = "custom_message"
	EntryCompaction    = "compaction"
	EntryBranchSummary = "branch_summary"
	EntrySessionInfo   = "session_info"
	EntryLabel         = "label"
)

// ContentBlock mirrors the wire content-block shape used inside a message entry.
type ContentBlock struct {
	Type string          `json:"type"`
	Text string          `json:"text,omitempty"`
	Raw  json.RawMessage `json:"-"`
}

// messageEntry is the decoded shape of an `Entry` with Type == EntryMessage.
type messageEntry struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Usage   json.RawMessage `json:"usage,omitempty"`
}

// compactionEntry is the decoded shape of an `Entry` with Type == EntryCompaction.
type compactionEntry struct {
	Summary          string `json:"summary"`
	FirstKeptEntryID string `json:"firstKeptEntryId,omitempty"`
}

// ParsedMessage is a materialized, role-tagged message on the linear transcript.
type ParsedMessage struct {
	EntryID   string          `json:"entryId"`
	Role      string          `json:"role"`
	Text      string          `json:"text,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Synthetic bool            `json:"synthetic,omitempty"`
}

// ForkPoint is a user-role entry eligible as a fork target.
type ForkPoint struct {
	EntryID string `json:"entryId"`
	Text    string `json:"text"`
}

// Stats accumulates usage across the visible transcript.
type Stats struct {
	MessageCount int     `json:"messageCount"`
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	CacheRead    int64   `json:"cacheReadTokens"`
	CacheWrite   int64   `json:"cacheWriteTokens"`
	TotalTokens  int64   `json:"totalTokens"`
	CostUSD      float64 `json:"costUsd"`
}

// Session is the fully materialized result of readSession.
type Session struct {
	Header     Header          `json:"header"`
	Messages   []ParsedMessage `json:"messages"`
	ForkPoints []ForkPoint     `json:"forkPoints"`
	Stats      Stats           `json:"stats"`
	Name       string          `json:"name,omitempty"`
}

// Info is the lightweight summary produced by GetSessionInfo.
type Info struct {
	ID            string    `json:"id"`
	Cwd           string    `json:"cwd,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	ParentSession string    `json:"parentSession,omitempty"`
	Name          string    `json:"name,omitempty"`
	FirstPrompt   string    `json:"firstPrompt,omitempty"`
	MessageCount  int       `json:"messageCount"`
	LastMessage   string    `json:"lastMessage,omitempty"`
	Path          string    `json:"path"`
}

// Summary is one row of a ListSessions page.
type Summary struct {
	Info
}

// Error is a typed session-file error.
type Error struct {
	Kind string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind + ": " + e.Path
	}
	return e.Kind + ": " + e.Path + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Error kinds.
const (
	ErrKindNotFound = "not_found"
	ErrKindParse    = "parse"
	ErrKindIO       = "io"
)
