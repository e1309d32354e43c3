// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package rhoconfig loads the gateway's HJSON configuration file and applies
// its defaults.
package rhoconfig

// Config is the root configuration document for rhogatewayd.
type Config struct {
	Server      ServerConfig      `json:"server"`
	Sessions    SessionsConfig    `json:"sessions"`
	Review      ReviewConfig      `json:"review"`
	Reliability ReliabilityConfig `json:"reliability"`
	Debug       DebugConfig       `json:"debug"`
	Agent       AgentConfig       `json:"agent"`
	Watch       WatchConfig       `json:"watch"`
}

// ServerConfig controls the HTTP/WS listener.
type ServerConfig struct {
	Listen string `json:"listen"`
}

// SessionsConfig controls session file discovery.
type SessionsConfig struct {
	Dir string `json:"dir"`
}

// ReviewConfig controls the review bus.
type ReviewConfig struct {
	StorePath    string `json:"store_path"`
	OpenTTLMs    int64  `json:"open_ttl_ms"`
	MaxFileBytes int    `json:"max_file_bytes"`
}

// ReliabilityConfig controls the reliability layer.
type ReliabilityConfig struct {
	EventBufferSize    int   `json:"event_buffer_size"`
	CommandRetentionMs int64 `json:"command_retention_ms"`
	OrphanGraceMs      int64 `json:"orphan_grace_ms"`
	OrphanAbortDelayMs int64 `json:"orphan_abort_delay_ms"`
}

// DebugConfig controls ambient diagnostics.
type DebugConfig struct {
	Timing bool `json:"timing"`
}

// AgentConfig controls the RPC child process manager.
type AgentConfig struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// WatchConfig controls the UI-event file watch.
type WatchConfig struct {
	GitContextPath string `json:"git_context_path"`
}
