// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package uibroadcast fans out process-wide, server-local state-change
// events to every connected UI socket, and watches well-known files to
// trigger those events automatically.
package uibroadcast

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ravshansbox/rho-sub003/internal/watcher"
)

// Event names the broadcaster emits.
const (
	EventSessionsChanged          = "sessions_changed"
	EventReviewSessionsChanged    = "review_sessions_changed"
	EventReviewSubmissionsChanged = "review_submissions_changed"
	EventGitContextChanged        = "git_context_changed"
)

// Sink receives a ui_event as it is broadcast.
type Sink func(name string, at int64, data json.RawMessage)

// Broadcaster is the process-wide fan-out of UI events.
type Broadcaster struct {
	mu     sync.Mutex
	sinks  map[int]Sink
	nextID int

	fsWatcher *fsnotify.Watcher
	debouncer *watcher.Debouncer
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

// New constructs a Broadcaster. debounce defaults to 100ms if <= 0.
func New(debounce time.Duration) (*Broadcaster, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("uibroadcast: fsnotify watcher: %w", err)
	}
	b := &Broadcaster{
		sinks:     make(map[int]Sink),
		fsWatcher: fsw,
		debouncer: watcher.NewDebouncer(debounce),
		closeCh:   make(chan struct{}),
	}
	b.wg.Add(1)
	go b.processFsEvents()
	return b, nil
}

// RegisterSocket attaches sink to the fan-out and returns an unregister func.
func (b *Broadcaster) RegisterSocket(sink Sink) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.sinks[id] = sink
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.sinks, id)
		b.mu.Unlock()
	}
}

// BroadcastUIEvent fans a named event out to every registered sink.
func (b *Broadcaster) BroadcastUIEvent(name string, data interface{}) {
	var payload json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err == nil {
			payload = encoded
		}
	}
	at := time.Now().UnixMilli()

	b.mu.Lock()
	sinks := make([]Sink, 0, len(b.sinks))
	for _, s := range b.sinks {
		sinks = append(sinks, s)
	}
	b.mu.Unlock()

	for _, s := range sinks {
		s(name, at, payload)
	}
}

// WatchGitContext watches path (typically git-context.json) and emits
// EventGitContextChanged, debounced, whenever it changes.
func (b *Broadcaster) WatchGitContext(path string) error {
	if err := b.fsWatcher.Add(path); err != nil {
		return fmt.Errorf("uibroadcast: watch %s: %w", path, err)
	}
	return nil
}

func (b *Broadcaster) processFsEvents() {
	defer b.wg.Done()
	for {
		select {
		case <-b.closeCh:
			return
		case event, ok := <-b.fsWatcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			b.debouncer.Debounce(event.Name, func() {
				b.BroadcastUIEvent(EventGitContextChanged, nil)
			})
		case err, ok := <-b.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Printf("uibroadcast: watch error: %v", err)
		}
	}
}

// Close stops the file watcher and debouncer.
func (b *Broadcaster) Close() error {
	select {
	case <-b.closeCh:
		return nil
	default:
		close(b.closeCh)
	}
	b.debouncer.Stop()
	err := b.fsWatcher.Close()
	b.wg.Wait()
	return err
}
