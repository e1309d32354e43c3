// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package rhoconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hjson/hjson-go/v4"
)

// Loader reads rho.hjson / rho.json configuration files.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the configuration at path.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	expandConfigPaths(&cfg)
	return &cfg, nil
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func expandConfigPaths(cfg *Config) {
	cfg.Sessions.Dir = expandPath(cfg.Sessions.Dir)
	cfg.Review.StorePath = expandPath(cfg.Review.StorePath)
	cfg.Watch.GitContextPath = expandPath(cfg.Watch.GitContextPath)
}

// LoadWithDefaults loads path, falling back to an all-defaults Config if
// path does not exist, and always applying defaults over the zero fields.
func (l *Loader) LoadWithDefaults(ctx context.Context, path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			loaded, err := l.Load(ctx, path)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		}
	}
	applyDefaults(cfg)
	return cfg, nil
}

// FindConfig looks for rho.hjson then rho.json in the current directory.
func (l *Loader) FindConfig() (string, error) {
	for _, name := range []string{"rho.hjson", "rho.json"} {
		path := filepath.Join(".", name)
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}
	return "", fmt.Errorf("config file not found (looked for rho.hjson, rho.json)")
}

func applyDefaults(cfg *Config) {
	home, _ := os.UserHomeDir()

	if cfg.Server.Listen == "" {
		cfg.Server.Listen = "127.0.0.1:4590"
	}
	if cfg.Sessions.Dir == "" {
		cfg.Sessions.Dir = filepath.Join(home, ".pi", "agent", "sessions")
	}
	if cfg.Review.StorePath == "" {
		cfg.Review.StorePath = filepath.Join(home, ".rho", "review-store.jsonl")
	}
	if cfg.Review.OpenTTLMs == 0 {
		cfg.Review.OpenTTLMs = 86400000
	}
	if cfg.Review.MaxFileBytes == 0 {
		cfg.Review.MaxFileBytes = 512000
	}
	if cfg.Reliability.EventBufferSize == 0 {
		cfg.Reliability.EventBufferSize = 800
	}
	if cfg.Reliability.CommandRetentionMs == 0 {
		cfg.Reliability.CommandRetentionMs = 300000
	}
	if cfg.Reliability.OrphanGraceMs == 0 {
		cfg.Reliability.OrphanGraceMs = 60000
	}
	if cfg.Reliability.OrphanAbortDelayMs == 0 {
		cfg.Reliability.OrphanAbortDelayMs = 5000
	}
	if cfg.Agent.Command == "" {
		cfg.Agent.Command = "pi"
	}
	if cfg.Watch.GitContextPath == "" {
		cfg.Watch.GitContextPath = filepath.Join(home, ".rho", "git-context.json")
	}
}
